package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ailink/gateway/internal/domain/hitl"
)

func newTestApproval(id string, status hitl.Status) *hitl.ApprovalRequest {
	now := time.Now().UTC().Truncate(time.Second)
	req := hitl.NewQueue().Create("tok-1", id, hitl.RequestSummary{
		Method:    "POST",
		Path:      "/v1/chat/completions",
		Model:     "gpt-4o",
		ProjectID: "proj-1",
	}, time.Minute, now)
	req.ID = id
	req.Status = status
	return req
}

func TestApprovalStore_SaveAndGet(t *testing.T) {
	store := NewApprovalStore(openTestDB(t))
	ctx := context.Background()

	req := newTestApproval("appr-1", hitl.StatusPending)
	if err := store.Save(ctx, req); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, "appr-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != hitl.StatusPending || got.Summary.Model != "gpt-4o" {
		t.Fatalf("got %+v", got)
	}
}

func TestApprovalStore_Get_NotFound(t *testing.T) {
	store := NewApprovalStore(openTestDB(t))
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, hitl.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApprovalStore_Save_UpdatesStatus(t *testing.T) {
	store := NewApprovalStore(openTestDB(t))
	ctx := context.Background()

	req := newTestApproval("appr-resolve", hitl.StatusPending)
	if err := store.Save(ctx, req); err != nil {
		t.Fatalf("Save: %v", err)
	}

	req.Status = hitl.StatusApproved
	req.ResolvedAt = time.Now().UTC()
	if err := store.Save(ctx, req); err != nil {
		t.Fatalf("Save (update): %v", err)
	}

	got, err := store.Get(ctx, "appr-resolve")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != hitl.StatusApproved {
		t.Fatalf("expected StatusApproved, got %s", got.Status)
	}
	if got.ResolvedAt.IsZero() {
		t.Fatal("expected resolved_at to be set")
	}
}

func TestApprovalStore_ListPending(t *testing.T) {
	store := NewApprovalStore(openTestDB(t))
	ctx := context.Background()

	pending := newTestApproval("appr-pending", hitl.StatusPending)
	approved := newTestApproval("appr-approved", hitl.StatusApproved)
	if err := store.Save(ctx, pending); err != nil {
		t.Fatalf("Save pending: %v", err)
	}
	if err := store.Save(ctx, approved); err != nil {
		t.Fatalf("Save approved: %v", err)
	}

	got, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(got) != 1 || got[0].ID != "appr-pending" {
		t.Fatalf("expected only appr-pending, got %+v", got)
	}
}

func TestQueue_PersistsToStore(t *testing.T) {
	store := NewApprovalStore(openTestDB(t))
	q := hitl.NewQueueWithStore(store)
	now := time.Now().UTC()

	req := q.Create("tok-1", "idem-persist", hitl.RequestSummary{Model: "gpt-4o"}, time.Minute, now)

	stored, err := store.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get after Create: %v", err)
	}
	if stored.Status != hitl.StatusPending {
		t.Fatalf("expected pending snapshot, got %s", stored.Status)
	}

	if err := q.Approve(req.ID, now.Add(time.Second)); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	stored, err = store.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get after Approve: %v", err)
	}
	if stored.Status != hitl.StatusApproved {
		t.Fatalf("expected approved snapshot, got %s", stored.Status)
	}
}
