package spend

import (
	"context"
	"time"
)

// Store is the persistence port for spend caps. The sqlite adapter
// implements AddUsage as a single statement performing the compare-and-add
// ("UPDATE ... SET usage_usd = usage_usd + ? WHERE usage_usd + ? <= limit_usd")
// so concurrent writers never lose an update; Get/reset logic below is
// expressed against that same atomicity contract.
type Store interface {
	GetCap(ctx context.Context, capID string) (*Cap, error)
	ListCapsForToken(ctx context.Context, projectID, tokenID string) ([]Cap, error)
	SaveCap(ctx context.Context, c *Cap) error

	// AddUsage atomically adds cost to the cap's usage_usd, but only if
	// doing so would not exceed limit_usd, returning the cap's usage
	// after the attempt and whether the add was applied.
	AddUsage(ctx context.Context, capID string, cost float64, now time.Time) (applied bool, resultingUsage float64, err error)

	// ResetIfDue atomically resets usage_usd to 0 and advances reset_at
	// when now >= reset_at, returning whether a reset occurred. Lifetime
	// caps are never due.
	ResetIfDue(ctx context.Context, capID string, now time.Time) (reset bool, err error)
}

// Ledger is the domain-level spend accounting service built on top of a
// Store.
type Ledger struct {
	store   Store
	pricing *PricingTable
}

// NewLedger constructs a Ledger.
func NewLedger(store Store, pricing *PricingTable) *Ledger {
	return &Ledger{store: store, pricing: pricing}
}

// CheckAdmission pre-checks every cap for a token/project, rejecting with
// ErrCapExceeded if any cap has already reached its limit. Caps are
// reset-swept first so a cap that has just rolled into a new window is
// never incorrectly rejected.
func (l *Ledger) CheckAdmission(ctx context.Context, projectID, tokenID string, now time.Time) error {
	caps, err := l.store.ListCapsForToken(ctx, projectID, tokenID)
	if err != nil {
		return err
	}
	for _, c := range caps {
		if _, err := l.store.ResetIfDue(ctx, c.ID, now); err != nil {
			return err
		}
		fresh, err := l.store.GetCap(ctx, c.ID)
		if err != nil {
			return err
		}
		if fresh.UsageUSD >= fresh.LimitUSD {
			return ErrCapExceeded
		}
	}
	return nil
}

// RecordCompletion computes the cost of a completion from the real
// upstream model id and atomically applies it to every cap for the
// token/project. It reports overCap=true for any cap the add could not
// be applied to (the caller marks the audit row over-cap but still
// serves the already-completed response — caps are pre-checked on
// admission, never used to abort a response in flight).
func (l *Ledger) RecordCompletion(ctx context.Context, projectID, tokenID, provider, realModel string, promptTokens, completionTokens int, now time.Time) (cost float64, overCapCapIDs []string, err error) {
	rule, err := l.pricing.Match(provider, realModel)
	if err != nil {
		return 0, nil, err
	}
	cost = rule.Cost(promptTokens, completionTokens)

	caps, err := l.store.ListCapsForToken(ctx, projectID, tokenID)
	if err != nil {
		return cost, nil, err
	}
	for _, c := range caps {
		if _, err := l.store.ResetIfDue(ctx, c.ID, now); err != nil {
			return cost, nil, err
		}
		applied, _, err := l.store.AddUsage(ctx, c.ID, cost, now)
		if err != nil {
			return cost, nil, err
		}
		if !applied {
			overCapCapIDs = append(overCapCapIDs, c.ID)
		}
	}
	return cost, overCapCapIDs, nil
}
