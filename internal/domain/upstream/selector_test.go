package upstream

import (
	"testing"

	"github.com/ailink/gateway/internal/domain/breaker"
	"github.com/ailink/gateway/internal/domain/token"
)

func TestSelect_PicksFromLowestEligibleTier(t *testing.T) {
	sel := NewSelector(breaker.NewRegistry(breaker.Config{}))
	rec := &token.Record{
		ID: "tok1",
		Upstreams: []token.UpstreamRef{
			{URL: "https://primary.example", Weight: 1, Priority: 0},
			{URL: "https://secondary.example", Weight: 1, Priority: 1},
		},
	}

	got, err := sel.Select(rec)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.URL != "https://primary.example" {
		t.Errorf("URL = %q, want primary", got.URL)
	}
	if got.IsFallback || got.IsProbe {
		t.Errorf("unexpected flags: %+v", got)
	}
}

func TestSelect_FallsToNextTierWhenOpen(t *testing.T) {
	reg := breaker.NewRegistry(breaker.Config{})
	sel := NewSelector(reg)
	rec := &token.Record{
		ID:             "tok1",
		CircuitBreaker: token.DefaultCircuitBreakerConfig(),
		Upstreams: []token.UpstreamRef{
			{URL: "https://primary.example", Weight: 1, Priority: 0},
			{URL: "https://secondary.example", Weight: 1, Priority: 1},
		},
	}
	cfg := toBreakerConfig(rec.CircuitBreaker)
	for i := 0; i < cfg.FailureThreshold; i++ {
		reg.RecordFailure(rec.ID, "https://primary.example", cfg)
	}

	got, err := sel.Select(rec)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.URL != "https://secondary.example" {
		t.Errorf("URL = %q, want secondary (primary should be open)", got.URL)
	}
}

func TestSelect_UsesFallbackWhenNoTierEligible(t *testing.T) {
	reg := breaker.NewRegistry(breaker.Config{})
	sel := NewSelector(reg)
	rec := &token.Record{
		ID:             "tok1",
		CircuitBreaker: token.DefaultCircuitBreakerConfig(),
		Upstreams: []token.UpstreamRef{
			{URL: "https://only.example", Weight: 1, Priority: 0},
		},
		FallbackURL: "https://fallback.example",
	}
	cfg := toBreakerConfig(rec.CircuitBreaker)
	for i := 0; i < cfg.FailureThreshold; i++ {
		reg.RecordFailure(rec.ID, "https://only.example", cfg)
	}

	got, err := sel.Select(rec)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !got.IsFallback || got.URL != "https://fallback.example" {
		t.Errorf("got %+v, want fallback selection", got)
	}
}

func TestSelect_NoUpstreamAvailable(t *testing.T) {
	reg := breaker.NewRegistry(breaker.Config{})
	sel := NewSelector(reg)
	rec := &token.Record{
		ID:             "tok1",
		CircuitBreaker: token.DefaultCircuitBreakerConfig(),
		Upstreams: []token.UpstreamRef{
			{URL: "https://only.example", Weight: 1, Priority: 0},
		},
	}
	cfg := toBreakerConfig(rec.CircuitBreaker)
	for i := 0; i < cfg.FailureThreshold; i++ {
		reg.RecordFailure(rec.ID, "https://only.example", cfg)
	}

	if _, err := sel.Select(rec); err != ErrNoUpstreamAvailable {
		t.Errorf("err = %v, want ErrNoUpstreamAvailable", err)
	}
}

func TestSelect_CredentialOverridePerUpstream(t *testing.T) {
	sel := NewSelector(breaker.NewRegistry(breaker.Config{}))
	rec := &token.Record{
		ID:           "tok1",
		CredentialID: "default-cred",
		Upstreams: []token.UpstreamRef{
			{URL: "https://primary.example", Weight: 1, Priority: 0, CredentialID: "override-cred"},
		},
	}

	got, err := sel.Select(rec)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.CredentialID != "override-cred" {
		t.Errorf("CredentialID = %q, want override-cred", got.CredentialID)
	}
}

func TestRecordOutcome_FallbackIsNoOp(t *testing.T) {
	reg := breaker.NewRegistry(breaker.Config{})
	sel := NewSelector(reg)
	rec := &token.Record{ID: "tok1", CircuitBreaker: token.DefaultCircuitBreakerConfig()}
	fallbackSel := Selection{URL: "https://fallback.example", IsFallback: true}

	sel.RecordOutcome(rec, fallbackSel, breaker.Outcome{StatusCode: 500})

	if got := reg.CurrentState(rec.ID, fallbackSel.URL, toBreakerConfig(rec.CircuitBreaker)); got != breaker.StateClosed {
		t.Errorf("fallback outcome should not mutate breaker state, got %s", got)
	}
}
