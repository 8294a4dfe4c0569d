// Package token contains the domain types and resolution logic for virtual
// tokens: the opaque bearer credentials agents present at the gateway edge.
package token

import (
	"time"
)

// Prefix is the fixed prefix for all virtual token plaintext values.
const Prefix = "ailink_v1_"

// LogLevel controls audit body verbosity for requests made with a token.
type LogLevel int

const (
	// LogLevelMetadata stores no bodies and no secret-likely headers.
	LogLevelMetadata LogLevel = 0
	// LogLevelRedacted stores bodies after redaction rules have run.
	LogLevelRedacted LogLevel = 1
	// LogLevelFull stores raw bodies, flagged for TTL-based reaping.
	LogLevelFull LogLevel = 2
)

// CircuitBreakerConfig is a token-scoped override of the breaker defaults.
type CircuitBreakerConfig struct {
	// FailureThreshold is consecutive failures before the circuit opens.
	FailureThreshold int
	// RecoveryCooldown is how long the circuit stays open before probing.
	RecoveryCooldown time.Duration
	// HalfOpenMaxRequests is successes required to close from half-open.
	HalfOpenMaxRequests int
	// Disabled turns off circuit-breaking entirely for this token.
	Disabled bool
}

// DefaultCircuitBreakerConfig returns the gateway-wide defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		RecoveryCooldown:    30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// UpstreamRef is one entry in a token's upstream list: a candidate
// destination the Upstream Selector may route to.
type UpstreamRef struct {
	// URL is the upstream base URL.
	URL string
	// Weight is the relative weight within its priority tier.
	Weight int
	// Priority is the tier; lower numbers are tried first.
	Priority int
	// CredentialID, if set, overrides the token's own credential for this
	// specific upstream (e.g. a token that fans out across two providers).
	CredentialID string
}

// Record is a resolved virtual token: everything the proxy pipeline needs
// to authorize, route, and account for a request.
type Record struct {
	// ID is the unique identifier (the hashed lookup key, never the plaintext).
	ID string
	// ProjectID is the owning project.
	ProjectID string
	// TeamID is the owning team, if any.
	TeamID string
	// Name is a human-readable label.
	Name string
	// CredentialID is the default credential reference. Empty means
	// passthrough (BYOK): the agent must supply X-Real-Authorization.
	CredentialID string
	// Upstreams is the ordered candidate list for the Upstream Selector.
	Upstreams []UpstreamRef
	// FallbackURL is used, unguarded, when no upstream tier has an
	// eligible (non-open-circuit) member.
	FallbackURL string
	// PolicyIDs are the policies evaluated for requests on this token.
	PolicyIDs []string
	// AllowedModels restricts which model names this token may request
	// (empty means unrestricted).
	AllowedModels []string
	// LogLevel is the default audit verbosity; a policy's log_level
	// action may override it per request.
	LogLevel LogLevel
	// CircuitBreaker overrides the default breaker configuration.
	CircuitBreaker CircuitBreakerConfig
	// Tags are free-form labels for attribution and policy matching.
	Tags []string
	// Active is false for revoked (soft-deleted) tokens.
	Active bool
	// CreatedAt is when this token was created.
	CreatedAt time.Time
	// UpdatedAt is when this token was last modified.
	UpdatedAt time.Time
}

// IsPassthrough reports whether this token has no stored credential and
// relies on the agent supplying X-Real-Authorization (BYOK).
func (r *Record) IsPassthrough() bool {
	return r.CredentialID == ""
}

// AllowsModel reports whether the token may request the given model name.
// An empty AllowedModels list means unrestricted.
func (r *Record) AllowsModel(model string) bool {
	if len(r.AllowedModels) == 0 {
		return true
	}
	for _, m := range r.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// AdminScope identifies a management-API capability an admin key may hold.
type AdminScope string

const (
	ScopeTokensWrite      AdminScope = "tokens:write"
	ScopeTokensRead       AdminScope = "tokens:read"
	ScopeCredentialsWrite AdminScope = "credentials:write"
	ScopePoliciesWrite    AdminScope = "policies:write"
	ScopeApprovalsWrite   AdminScope = "approvals:write"
	ScopeAuditRead        AdminScope = "audit:read"
	ScopeAdmin            AdminScope = "admin"
)

// AdminKey is a management-API credential with a scope set.
type AdminKey struct {
	// KeyHash is the hashed key value (SHA-256 hex or Argon2id PHC format).
	KeyHash string
	// ID identifies the admin principal.
	ID string
	// Name is a human-readable label.
	Name string
	// Scopes is the set of operations this key may perform.
	Scopes []AdminScope
	// Revoked marks the key unusable.
	Revoked bool
	// ExpiresAt is when the key expires (nil = never).
	ExpiresAt *time.Time
}

// HasScope reports whether the admin key carries the given scope, or the
// blanket ScopeAdmin scope.
func (k *AdminKey) HasScope(s AdminScope) bool {
	for _, have := range k.Scopes {
		if have == s || have == ScopeAdmin {
			return true
		}
	}
	return false
}

// IsExpired reports whether the admin key has expired.
func (k *AdminKey) IsExpired() bool {
	if k.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*k.ExpiresAt)
}
