package policy

import (
	"context"
	"sort"
)

// Engine evaluates a project's policies for a given phase against a
// RequestContext.
type Engine interface {
	// Evaluate runs every enabled policy of the given phase, in priority
	// order, against ctx. Evaluation is deterministic: the same rule set
	// and the same RequestContext bytes always produce the same Decision.
	Evaluate(ctx context.Context, policies []Policy, phase Phase, reqCtx RequestContext) (Decision, error)
}

// Store persists and retrieves policies.
type Store interface {
	// GetEnabledForToken returns every enabled policy attached to a token,
	// ordered for evaluation.
	GetEnabledForToken(ctx context.Context, tokenID string) ([]Policy, error)
	// GetPolicy returns a policy by ID.
	GetPolicy(ctx context.Context, id string) (*Policy, error)
	// SavePolicy creates a new version of a policy. Policies are never
	// mutated in place: an edit produces a new row with Version+1.
	SavePolicy(ctx context.Context, p *Policy) error
	// DeletePolicy removes a policy by ID.
	DeletePolicy(ctx context.Context, id string) error
}

// evaluator is the default, pure-function Engine implementation: a
// deterministic fold from (policies, phase, ctx) to Decision + effect
// list, with no wall-clock or I/O dependency beyond what the caller
// supplies in RequestContext.
type evaluator struct{}

// NewEngine returns the default policy evaluator.
func NewEngine() Engine {
	return evaluator{}
}

func (evaluator) Evaluate(_ context.Context, policies []Policy, phase Phase, reqCtx RequestContext) (Decision, error) {
	var applicable []Policy
	for _, p := range policies {
		if p.Enabled && p.Phase == phase {
			applicable = append(applicable, p)
		}
	}
	sort.SliceStable(applicable, func(i, j int) bool { return applicable[i].ID < applicable[j].ID })

	var dec Decision

	for _, pol := range applicable {
		rules := make([]Rule, len(pol.Rules))
		copy(rules, pol.Rules)
		sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

		for _, rule := range rules {
			matched, err := rule.When.Match(reqCtx)
			if err != nil {
				return Decision{}, err
			}
			if !matched {
				continue
			}

			if pol.Mode == ModeShadow {
				dec.ShadowViolations = append(dec.ShadowViolations, ShadowViolation{
					PolicyID: pol.ID, RuleID: rule.ID, Effect: rule.Then,
				})
				continue
			}

			if rule.Then.Terminal() {
				dec.Terminal = rule.Then
				dec.MatchedRuleID = rule.ID
				return dec, nil
			}

			accumulateEffect(&dec, rule.Then)
		}
	}

	return dec, nil
}

func accumulateEffect(dec *Decision, effect RuleEffect) {
	switch e := effect.(type) {
	case Redact:
		dec.Redactions = append(dec.Redactions, e)
	case RateLimit:
		dec.RateLimits = append(dec.RateLimits, e)
	case Route:
		dec.Routes = append(dec.Routes, e)
	case Split:
		dec.Splits = append(dec.Splits, e)
	case LogLevel:
		level := e.Level
		dec.LogLevelOverride = &level
	case ContentFilter:
		dec.ContentFilters = append(dec.ContentFilters, e)
	}
}
