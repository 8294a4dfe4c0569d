package policy

import "context"

// decisionKey is the context key type for propagating a policy decision
// from the pre-phase evaluation to downstream pipeline stages (HITL,
// audit emission).
type decisionKey struct{}

// WithDecision stores a policy decision in the context so downstream
// pipeline stages can access the decision made in the pre phase.
func WithDecision(ctx context.Context, d *Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}

// DecisionFromContext retrieves a policy decision from the context.
// Returns nil if no decision is stored.
func DecisionFromContext(ctx context.Context) *Decision {
	d, _ := ctx.Value(decisionKey{}).(*Decision)
	return d
}
