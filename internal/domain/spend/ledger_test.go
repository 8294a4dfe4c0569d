package spend

import (
	"context"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store used for tests; it implements AddUsage's
// compare-and-add under a single mutex, the same contract the sqlite
// adapter provides via a conditional UPDATE.
type memStore struct {
	mu   sync.Mutex
	caps map[string]*Cap
}

func newMemStore(caps ...Cap) *memStore {
	m := &memStore{caps: make(map[string]*Cap)}
	for i := range caps {
		c := caps[i]
		m.caps[c.ID] = &c
	}
	return m
}

func (m *memStore) GetCap(_ context.Context, capID string) (*Cap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caps[capID]
	if !ok {
		return nil, errNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListCapsForToken(_ context.Context, projectID, tokenID string) ([]Cap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Cap
	for _, c := range m.caps {
		if c.ProjectID == projectID && c.TokenID == tokenID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) SaveCap(_ context.Context, c *Cap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.caps[c.ID] = &cp
	return nil
}

func (m *memStore) AddUsage(_ context.Context, capID string, cost float64, now time.Time) (bool, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caps[capID]
	if !ok {
		return false, 0, errNotFound
	}
	if c.UsageUSD+cost > c.LimitUSD {
		return false, c.UsageUSD, nil
	}
	c.UsageUSD += cost
	return true, c.UsageUSD, nil
}

func (m *memStore) ResetIfDue(_ context.Context, capID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caps[capID]
	if !ok {
		return false, errNotFound
	}
	if c.Window == WindowLifetime || c.ResetAt.IsZero() || now.Before(c.ResetAt) {
		return false, nil
	}
	c.UsageUSD = 0
	c.ResetAt = NextResetAt(c.Window, now)
	return true, nil
}

type notFoundError struct{}

func (notFoundError) Error() string { return "spend: cap not found" }

var errNotFound = notFoundError{}

func TestPricingTable_LongestSubstringMatch(t *testing.T) {
	table := NewPricingTable([]PricingRule{
		{Provider: "openai", Pattern: "gpt-4", InputPerM: 30, OutputPerM: 60},
		{Provider: "openai", Pattern: "gpt-4o", InputPerM: 5, OutputPerM: 15},
	})

	rule, err := table.Match("openai", "gpt-4o-2024-08-06")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if rule.Pattern != "gpt-4o" {
		t.Errorf("pattern = %q, want gpt-4o (longest match)", rule.Pattern)
	}
}

func TestPricingTable_NoMatch(t *testing.T) {
	table := NewPricingTable([]PricingRule{{Provider: "openai", Pattern: "gpt-4", InputPerM: 30, OutputPerM: 60}})
	if _, err := table.Match("anthropic", "claude-3"); err != ErrNoPricingMatch {
		t.Errorf("err = %v, want ErrNoPricingMatch", err)
	}
}

func TestCheckAdmission_RejectsWhenCapReached(t *testing.T) {
	store := newMemStore(Cap{ID: "c1", ProjectID: "p1", TokenID: "t1", Window: WindowLifetime, LimitUSD: 10, UsageUSD: 10})
	ledger := NewLedger(store, NewPricingTable(nil))

	err := ledger.CheckAdmission(context.Background(), "p1", "t1", time.Now())
	if err != ErrCapExceeded {
		t.Errorf("err = %v, want ErrCapExceeded", err)
	}
}

func TestRecordCompletion_ComputesCostAndUpdatesUsage(t *testing.T) {
	store := newMemStore(Cap{ID: "c1", ProjectID: "p1", TokenID: "t1", Window: WindowLifetime, LimitUSD: 100})
	pricing := NewPricingTable([]PricingRule{{Provider: "openai", Pattern: "gpt-4o", InputPerM: 5, OutputPerM: 15}})
	ledger := NewLedger(store, pricing)

	cost, overCap, err := ledger.RecordCompletion(context.Background(), "p1", "t1", "openai", "gpt-4o-mini", 1000, 500, time.Now())
	if err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	wantCost := (1000*5.0 + 500*15.0) / 1_000_000
	if cost != wantCost {
		t.Errorf("cost = %v, want %v", cost, wantCost)
	}
	if len(overCap) != 0 {
		t.Errorf("overCap = %v, want empty", overCap)
	}

	got, _ := store.GetCap(context.Background(), "c1")
	if got.UsageUSD != wantCost {
		t.Errorf("usage = %v, want %v", got.UsageUSD, wantCost)
	}
}

func TestRecordCompletion_FlagsOverCapWithoutLosingOtherCaps(t *testing.T) {
	store := newMemStore(
		Cap{ID: "small", ProjectID: "p1", TokenID: "t1", Window: WindowLifetime, LimitUSD: 0.0001},
		Cap{ID: "big", ProjectID: "p1", TokenID: "t1", Window: WindowLifetime, LimitUSD: 100},
	)
	pricing := NewPricingTable([]PricingRule{{Provider: "openai", Pattern: "gpt-4o", InputPerM: 5, OutputPerM: 15}})
	ledger := NewLedger(store, pricing)

	_, overCap, err := ledger.RecordCompletion(context.Background(), "p1", "t1", "openai", "gpt-4o", 10000, 10000, time.Now())
	if err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	if len(overCap) != 1 || overCap[0] != "small" {
		t.Errorf("overCap = %v, want [small]", overCap)
	}

	big, _ := store.GetCap(context.Background(), "big")
	if big.UsageUSD == 0 {
		t.Error("the big cap should still have had usage applied")
	}
}

func TestResetIfDue_RollsOverDailyWindow(t *testing.T) {
	past := time.Now().Add(-1 * time.Hour)
	store := newMemStore(Cap{ID: "c1", ProjectID: "p1", TokenID: "t1", Window: WindowDaily, LimitUSD: 10, UsageUSD: 9, ResetAt: past})

	reset, err := store.ResetIfDue(context.Background(), "c1", time.Now())
	if err != nil {
		t.Fatalf("ResetIfDue: %v", err)
	}
	if !reset {
		t.Fatal("expected a reset")
	}
	got, _ := store.GetCap(context.Background(), "c1")
	if got.UsageUSD != 0 {
		t.Errorf("usage = %v, want 0 after reset", got.UsageUSD)
	}
}

func TestNextResetAt_Lifetime(t *testing.T) {
	if got := NextResetAt(WindowLifetime, time.Now()); !got.IsZero() {
		t.Errorf("NextResetAt(lifetime) = %v, want zero time", got)
	}
}
