package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ailink/gateway/internal/domain/hitl"
)

func TestMemoryApprovalStore_SaveAndGet(t *testing.T) {
	store := NewApprovalStore()
	q := hitl.NewQueueWithStore(store)
	now := time.Now().UTC()

	req := q.Create("tok-1", "idem-1", hitl.RequestSummary{Model: "gpt-4o"}, time.Minute, now)

	got, err := store.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != hitl.StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
}

func TestMemoryApprovalStore_Get_NotFound(t *testing.T) {
	store := NewApprovalStore()
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, hitl.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryApprovalStore_ListPending(t *testing.T) {
	store := NewApprovalStore()
	q := hitl.NewQueueWithStore(store)
	now := time.Now().UTC()

	pending := q.Create("tok-1", "idem-pending", hitl.RequestSummary{}, time.Minute, now)
	resolved := q.Create("tok-1", "idem-resolved", hitl.RequestSummary{}, time.Minute, now)
	if err := q.Approve(resolved.ID, now); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	got, err := store.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(got) != 1 || got[0].ID != pending.ID {
		t.Fatalf("expected only the pending request, got %+v", got)
	}
}
