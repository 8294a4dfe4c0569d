// Package config provides configuration types for the AILink Gateway.
//
// Tokens, credentials, policies, services, and spend caps are normally
// managed at runtime through the /api/v1/* management API and persisted in
// sqlite — this package only covers what must exist before that API can be
// reached: the listener address, the sqlite file location, the vault master
// key, and a small bootstrap section that seeds a first admin key and an
// optional starter policy set on an empty database.
package config

import (
	"github.com/spf13/viper"
)

// GatewayConfig is the top-level configuration for the AILink Gateway.
type GatewayConfig struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Database configures the sqlite-backed relational store.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Vault configures the credential vault's master key.
	Vault VaultConfig `yaml:"vault" mapstructure:"vault"`

	// Bootstrap seeds a first admin key and starter policies into an
	// otherwise-empty database. Ignored on subsequent boots once an admin
	// key already exists in the store.
	Bootstrap BootstrapConfig `yaml:"bootstrap" mapstructure:"bootstrap"`

	// Audit configures audit record persistence and the in-process queue.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// RateLimit configures optional per-IP/per-token rate limiting.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Breaker configures the default circuit-breaker thresholds applied to
	// every (token, upstream) pair.
	Breaker BreakerConfig `yaml:"breaker" mapstructure:"breaker"`

	// DevMode relaxes validation and raises the log level for local runs.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// DatabaseConfig configures the sqlite-backed relational store (§3: tokens,
// credentials, policies, spend caps, approvals, audit metadata).
type DatabaseConfig struct {
	// Path is the sqlite database file path, or ":memory:" for an
	// ephemeral in-process database (tests, single-shot demos).
	// Defaults to "./ailink-gateway.db" if empty.
	Path string `yaml:"path" mapstructure:"path"`
}

// VaultConfig configures the envelope-encryption master key used to wrap
// every project's data-encryption key.
type VaultConfig struct {
	// MasterKeyEnv names the environment variable holding a 64-character
	// hex-encoded 32-byte master key. Defaults to "AILINK_MASTER_KEY".
	// The key itself is never read from YAML — only its location is
	// configured, so master keys never land in a config file on disk.
	MasterKeyEnv string `yaml:"master_key_env" mapstructure:"master_key_env"`
}

// BootstrapConfig seeds a first admin key and starter policies into an
// empty database. Has no effect once the token store already has an admin
// key on record.
type BootstrapConfig struct {
	// AdminKeyHash is an Argon2id hash (as produced by `aigw hash-key`) of
	// the admin key to seed. Required to reach the management API on a
	// brand-new database; optional on every boot after.
	AdminKeyHash string `yaml:"admin_key_hash" mapstructure:"admin_key_hash"`

	// Policies are starter policies loaded once, only when the policy
	// store is empty. Administrators are expected to manage policies
	// through the management API from then on.
	Policies []PolicyConfig `yaml:"policies" mapstructure:"policies" validate:"omitempty,dive"`
}

// PolicyConfig defines a named policy with its evaluation rules, using the
// same (when, then) shape the management API accepts over JSON.
type PolicyConfig struct {
	// Name is a human-readable identifier for this policy.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// ProjectID scopes this policy to a single project.
	ProjectID string `yaml:"project_id" mapstructure:"project_id" validate:"required"`

	// Mode is "enforce" (default) or "shadow" (evaluated and logged, never
	// applied to the live request/response).
	Mode string `yaml:"mode" mapstructure:"mode"`

	// Phase is "pre" (default, before the upstream call) or "post" (after
	// the upstream response, for response-shaped effects like redact).
	Phase string `yaml:"phase" mapstructure:"phase"`

	// Rules are evaluated in priority order; first match wins.
	Rules []RuleConfig `yaml:"rules" mapstructure:"rules" validate:"required,min=1,dive"`
}

// RuleConfig defines a single policy rule: a CEL `when` predicate and a
// tagged-union `then` effect.
type RuleConfig struct {
	// Name is a human-readable identifier for this rule.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Priority orders rules within a policy; higher runs first.
	Priority int `yaml:"priority" mapstructure:"priority"`

	// When is a CEL expression evaluated against the request context.
	When string `yaml:"when" mapstructure:"when" validate:"required"`

	// Then is the effect kind (allow, deny, require_approval, redact,
	// rate_limit, route, split, log_level, content_filter) and its
	// kind-specific fields, mirroring the management API's wire format.
	Then RuleEffectConfig `yaml:"then" mapstructure:"then" validate:"required"`
}

// RuleEffectConfig is a tagged-union rule effect read from YAML: Kind picks
// the policy.RuleEffect variant and Data carries its fields, re-marshaled to
// JSON and decoded the same way the management API decodes a rule's `then`
// field from a request body.
type RuleEffectConfig struct {
	Kind string                 `yaml:"kind" mapstructure:"kind" validate:"required"`
	Data map[string]interface{} `yaml:",inline" mapstructure:",remain"`
}

// AuditConfig configures audit record persistence.
type AuditConfig struct {
	// QueueSize is the buffer size for the audit emitter's channel.
	// Larger values handle burst traffic better but use more memory.
	// Defaults to 1000 if not specified or 0.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size" validate:"omitempty,min=1"`
}

// RateLimitConfig configures rate limiting.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// IPRate is the maximum requests per minute per IP address.
	IPRate int `yaml:"ip_rate" mapstructure:"ip_rate" validate:"omitempty,min=1"`

	// TokenRate is the maximum requests per minute per resolved token.
	TokenRate int `yaml:"token_rate" mapstructure:"token_rate" validate:"omitempty,min=1"`

	// CleanupInterval is how often to clean up expired rate limit entries (e.g., "5m").
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty"`

	// MaxTTL is the maximum age of a rate limit entry before removal (e.g., "1h").
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl" validate:"omitempty"`
}

// BreakerConfig configures the default circuit-breaker thresholds applied
// to every (token, upstream) pair the selector tracks.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// breaker opens. Defaults to 5.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"omitempty,min=1"`

	// RecoveryCooldown is how long the breaker stays open before probing
	// again (e.g., "30s"). Defaults to "30s".
	RecoveryCooldown string `yaml:"recovery_cooldown" mapstructure:"recovery_cooldown" validate:"omitempty"`

	// HalfOpenMaxRequests is how many probe requests are allowed through
	// while half-open. Defaults to 1.
	HalfOpenMaxRequests int `yaml:"half_open_max_requests" mapstructure:"half_open_max_requests" validate:"omitempty,min=1"`
}

// SetDevDefaults applies permissive defaults for development mode. Allows
// running aigw with minimal config (just a database path).
func (c *GatewayConfig) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Database.Path == "" {
		c.Database.Path = ":memory:"
	}
	if c.Bootstrap.AdminKeyHash == "" {
		// Argon2id hash of "dev-admin-key", for local-only convenience.
		c.Bootstrap.AdminKeyHash = "$argon2id$v=19$m=47104,t=1,p=1$ZGV2LXNhbHQtMTY$F8s3+td0sV3D8Hn8yN1Ww6Q3m8h4rJO8nLJxqf0laqY"
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *GatewayConfig) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Database.Path == "" {
		c.Database.Path = "./ailink-gateway.db"
	}

	if c.Vault.MasterKeyEnv == "" {
		c.Vault.MasterKeyEnv = "AILINK_MASTER_KEY"
	}

	if c.Audit.QueueSize == 0 {
		c.Audit.QueueSize = 1000
	}

	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.IPRate == 0 {
		c.RateLimit.IPRate = 100
	}
	if c.RateLimit.TokenRate == 0 {
		c.RateLimit.TokenRate = 1000
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.MaxTTL == "" {
		c.RateLimit.MaxTTL = "1h"
	}

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.RecoveryCooldown == "" {
		c.Breaker.RecoveryCooldown = "30s"
	}
	if c.Breaker.HalfOpenMaxRequests == 0 {
		c.Breaker.HalfOpenMaxRequests = 1
	}
}
