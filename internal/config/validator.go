package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate validates the GatewayConfig using struct tags and custom
// cross-field rules. Returns an error if validation fails, with actionable
// error messages.
func (c *GatewayConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateBootstrapPolicies(); err != nil {
		return err
	}

	return nil
}

// validateBootstrapPolicies checks each seed rule's effect kind is one the
// policy engine recognizes, so a typo in YAML fails fast at boot rather
// than surfacing as an opaque decode error the first time the rule matches.
func (c *GatewayConfig) validateBootstrapPolicies() error {
	validKinds := map[string]bool{
		"allow": true, "deny": true, "require_approval": true, "redact": true,
		"rate_limit": true, "route": true, "split": true, "log_level": true,
		"content_filter": true,
	}
	for _, p := range c.Bootstrap.Policies {
		for _, r := range p.Rules {
			if !validKinds[r.Then.Kind] {
				return fmt.Errorf("bootstrap.policies[%s].rules[%s]: unknown effect kind %q", p.Name, r.Name, r.Then.Kind)
			}
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s items", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
