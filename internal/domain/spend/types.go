// Package spend implements the Spend Ledger: per-cap cost accounting with
// compare-and-add cap enforcement, reset-window rollover, and pricing
// lookup by longest-substring model-pattern match.
package spend

import (
	"errors"
	"time"
)

// Window is the reset cadence for a cap.
type Window string

const (
	WindowDaily    Window = "daily"
	WindowMonthly  Window = "monthly"
	WindowLifetime Window = "lifetime"
)

// ErrCapExceeded is returned by the admission pre-check when a cap's
// current usage has already reached its limit.
var ErrCapExceeded = errors.New("spend: cap exceeded")

// Cap is one spend limit attached to a token, project, or team.
type Cap struct {
	ID        string
	ProjectID string
	TokenID   string // empty means project-wide
	Window    Window
	LimitUSD  float64
	UsageUSD  float64
	ResetAt   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NextResetAt computes the reset boundary for w starting from now:
// midnight UTC for daily, the 1st of next month UTC for monthly, and the
// zero time (never) for lifetime.
func NextResetAt(w Window, now time.Time) time.Time {
	now = now.UTC()
	switch w {
	case WindowDaily:
		d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return d.AddDate(0, 0, 1)
	case WindowMonthly:
		m := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return m.AddDate(0, 1, 0)
	default:
		return time.Time{}
	}
}

// PricingRule gives the per-million-token price for requests whose model
// name contains Pattern as a substring, scoped to Provider.
type PricingRule struct {
	Provider   string
	Pattern    string
	InputPerM  float64
	OutputPerM float64
}

// Cost computes the USD cost of a completion under this rule.
func (p PricingRule) Cost(promptTokens, completionTokens int) float64 {
	return (float64(promptTokens)*p.InputPerM + float64(completionTokens)*p.OutputPerM) / 1_000_000
}
