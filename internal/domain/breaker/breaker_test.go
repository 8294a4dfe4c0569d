package breaker

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		FailureThreshold:    3,
		RecoveryCooldown:    20 * time.Millisecond,
		HalfOpenMaxRequests: 2,
	}
}

func TestEligible_StartsClosed(t *testing.T) {
	r := NewRegistry(Config{})
	ok, probe := r.Eligible("t1", "https://up.example", testConfig())
	if !ok || probe {
		t.Fatalf("got eligible=%v probe=%v, want true/false", ok, probe)
	}
}

func TestClosedToOpen_OnThresholdFailures(t *testing.T) {
	r := NewRegistry(Config{})
	cfg := testConfig()

	for i := 0; i < cfg.FailureThreshold; i++ {
		r.RecordFailure("t1", "u1", cfg)
	}

	if got := r.CurrentState("t1", "u1", cfg); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
	if ok, _ := r.Eligible("t1", "u1", cfg); ok {
		t.Fatal("expected ineligible while open and within cooldown")
	}
}

func TestOpenToHalfOpen_AfterCooldown(t *testing.T) {
	r := NewRegistry(Config{})
	cfg := testConfig()
	for i := 0; i < cfg.FailureThreshold; i++ {
		r.RecordFailure("t1", "u1", cfg)
	}

	time.Sleep(cfg.RecoveryCooldown + 5*time.Millisecond)

	ok, probe := r.Eligible("t1", "u1", cfg)
	if !ok || !probe {
		t.Fatalf("eligible=%v probe=%v, want true/true after cooldown", ok, probe)
	}
	if got := r.CurrentState("t1", "u1", cfg); got != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", got)
	}
}

func TestHalfOpen_OnlyOneConcurrentProbe(t *testing.T) {
	r := NewRegistry(Config{})
	cfg := testConfig()
	for i := 0; i < cfg.FailureThreshold; i++ {
		r.RecordFailure("t1", "u1", cfg)
	}
	time.Sleep(cfg.RecoveryCooldown + 5*time.Millisecond)

	ok1, probe1 := r.Eligible("t1", "u1", cfg)
	if !ok1 || !probe1 {
		t.Fatalf("first probe should be eligible, got %v/%v", ok1, probe1)
	}

	ok2, probe2 := r.Eligible("t1", "u1", cfg)
	if ok2 || probe2 {
		t.Fatalf("second concurrent call should be ineligible while a probe is in flight, got %v/%v", ok2, probe2)
	}
}

func TestHalfOpen_FailureReopens(t *testing.T) {
	r := NewRegistry(Config{})
	cfg := testConfig()
	for i := 0; i < cfg.FailureThreshold; i++ {
		r.RecordFailure("t1", "u1", cfg)
	}
	time.Sleep(cfg.RecoveryCooldown + 5*time.Millisecond)
	r.Eligible("t1", "u1", cfg)

	r.RecordFailure("t1", "u1", cfg)

	if got := r.CurrentState("t1", "u1", cfg); got != StateOpen {
		t.Fatalf("state = %s, want open after half-open failure", got)
	}
}

func TestHalfOpen_ClosesAfterEnoughSuccesses(t *testing.T) {
	r := NewRegistry(Config{})
	cfg := testConfig()
	for i := 0; i < cfg.FailureThreshold; i++ {
		r.RecordFailure("t1", "u1", cfg)
	}
	time.Sleep(cfg.RecoveryCooldown + 5*time.Millisecond)

	for i := 0; i < cfg.HalfOpenMaxRequests; i++ {
		if _, probe := r.Eligible("t1", "u1", cfg); !probe {
			t.Fatalf("expected a probe slot on iteration %d", i)
		}
		r.RecordSuccess("t1", "u1", cfg)
	}

	if got := r.CurrentState("t1", "u1", cfg); got != StateClosed {
		t.Fatalf("state = %s, want closed", got)
	}
}

func TestClosed_SuccessResetsFailureCount(t *testing.T) {
	r := NewRegistry(Config{})
	cfg := testConfig()
	r.RecordFailure("t1", "u1", cfg)
	r.RecordFailure("t1", "u1", cfg)
	r.RecordSuccess("t1", "u1", cfg)
	r.RecordFailure("t1", "u1", cfg)

	if got := r.CurrentState("t1", "u1", cfg); got != StateClosed {
		t.Fatalf("state = %s, want still closed (failure count should have reset)", got)
	}
}

func TestDisabled_AlwaysEligible(t *testing.T) {
	r := NewRegistry(Config{})
	cfg := testConfig()
	cfg.Disabled = true

	for i := 0; i < 10; i++ {
		r.RecordFailure("t1", "u1", cfg)
	}
	ok, probe := r.Eligible("t1", "u1", cfg)
	if !ok || probe {
		t.Fatalf("disabled breaker should always be plainly eligible, got %v/%v", ok, probe)
	}
	if got := r.CurrentState("t1", "u1", cfg); got != StateDisabled {
		t.Fatalf("state = %s, want disabled", got)
	}
}

func TestKeysAreIndependentPerTokenAndUpstream(t *testing.T) {
	r := NewRegistry(Config{})
	cfg := testConfig()
	for i := 0; i < cfg.FailureThreshold; i++ {
		r.RecordFailure("t1", "u1", cfg)
	}

	if got := r.CurrentState("t1", "u2", cfg); got != StateClosed {
		t.Fatalf("different upstream for same token should be unaffected, got %s", got)
	}
	if got := r.CurrentState("t2", "u1", cfg); got != StateClosed {
		t.Fatalf("different token for same upstream should be unaffected, got %s", got)
	}
}
