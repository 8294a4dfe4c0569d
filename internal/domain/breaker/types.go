// Package breaker implements the per-(token, upstream) circuit breaker
// state machine guarding the Upstream Selector.
package breaker

import "time"

// State is one of the four circuit states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
	StateDisabled State = "disabled"
)

// Config parameterizes one breaker's transition thresholds.
type Config struct {
	FailureThreshold    int
	RecoveryCooldown    time.Duration
	HalfOpenMaxRequests int
	Disabled            bool
}

// entry is the mutable state for a single (token_id, upstream_url) pair.
type entry struct {
	state              State
	consecutiveFailures int
	consecutiveSuccesses int
	openedAt           time.Time
	halfOpenInFlight   bool
}
