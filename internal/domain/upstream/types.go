// Package upstream implements the Upstream Selector: weighted-priority
// routing across a token's candidate upstream list, plus the Service and
// ModelAlias registries consulted by the proxy path and protocol
// translator.
package upstream

import (
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// ServiceType distinguishes an LLM-aware service (consulted by the
// protocol translator) from a generic passthrough target.
type ServiceType string

const (
	ServiceTypeLLM     ServiceType = "llm"
	ServiceTypeGeneric ServiceType = "generic"
)

// namePattern allows alphanumeric, spaces, hyphens, and underscores.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)

// nameMaxLength is the maximum allowed length for a service or alias name.
const nameMaxLength = 100

// Service is a named, swappable proxy target reachable at
// `/v1/proxy/services/{name}` without the calling agent knowing its
// upstream's real base URL.
type Service struct {
	ID           string
	ProjectID    string
	Name         string
	BaseURL      string
	Type         ServiceType
	CredentialID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate checks that the service has valid configuration.
func (s *Service) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Name) > nameMaxLength {
		return fmt.Errorf("name must be %d characters or less", nameMaxLength)
	}
	if !namePattern.MatchString(s.Name) {
		return fmt.Errorf("name contains invalid characters (allowed: alphanumeric, spaces, hyphens, underscores)")
	}
	if s.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	parsed, err := url.Parse(s.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("base_url is not a valid URL")
	}
	switch s.Type {
	case ServiceTypeLLM, ServiceTypeGeneric:
	default:
		return fmt.Errorf("type must be %q or %q", ServiceTypeLLM, ServiceTypeGeneric)
	}
	return nil
}

// ModelAlias maps a project-scoped alias name to a concrete provider and
// model, consulted during protocol translation so agents can request
// "fast-model" without knowing it currently resolves to a specific
// provider's SKU.
type ModelAlias struct {
	ProjectID      string
	Alias          string
	TargetModel    string
	TargetProvider string
}

// Validate checks that the alias has valid configuration.
func (m *ModelAlias) Validate() error {
	if m.Alias == "" {
		return fmt.Errorf("alias is required")
	}
	if m.TargetModel == "" {
		return fmt.Errorf("target_model is required")
	}
	if m.TargetProvider == "" {
		return fmt.Errorf("target_provider is required")
	}
	return nil
}
