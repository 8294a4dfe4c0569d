package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ailink/gateway/internal/domain/upstream"
)

func newTestService(name string) *upstream.Service {
	now := time.Now().UTC().Truncate(time.Second)
	return &upstream.Service{
		ID:        "svc-" + name,
		ProjectID: "proj-1",
		Name:      name,
		BaseURL:   "https://internal.example.com/" + name,
		Type:      upstream.ServiceTypeGeneric,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestUpstreamStore_ServiceCRUD(t *testing.T) {
	store := NewUpstreamStore(openTestDB(t))
	ctx := context.Background()

	svc := newTestService("billing")
	if err := store.SaveService(ctx, svc); err != nil {
		t.Fatalf("SaveService: %v", err)
	}

	got, err := store.GetService(ctx, "proj-1", "billing")
	if err != nil {
		t.Fatalf("GetService: %v", err)
	}
	if got.BaseURL != svc.BaseURL {
		t.Fatalf("got %+v", got)
	}

	svc.BaseURL = "https://internal.example.com/billing-v2"
	if err := store.SaveService(ctx, svc); err != nil {
		t.Fatalf("SaveService (update): %v", err)
	}
	got, err = store.GetService(ctx, "proj-1", "billing")
	if err != nil {
		t.Fatalf("GetService after update: %v", err)
	}
	if got.BaseURL != "https://internal.example.com/billing-v2" {
		t.Fatalf("update not applied: %+v", got)
	}

	if err := store.DeleteService(ctx, "proj-1", "billing"); err != nil {
		t.Fatalf("DeleteService: %v", err)
	}
	_, err = store.GetService(ctx, "proj-1", "billing")
	if !errors.Is(err, upstream.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUpstreamStore_SaveService_DuplicateNameDifferentID(t *testing.T) {
	store := NewUpstreamStore(openTestDB(t))
	ctx := context.Background()

	first := newTestService("shared")
	if err := store.SaveService(ctx, first); err != nil {
		t.Fatalf("SaveService: %v", err)
	}

	second := newTestService("shared")
	second.ID = "svc-different"
	err := store.SaveService(ctx, second)
	if !errors.Is(err, upstream.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestUpstreamStore_ListServices_ScopedByProject(t *testing.T) {
	store := NewUpstreamStore(openTestDB(t))
	ctx := context.Background()

	a := newTestService("alpha")
	a.ProjectID = "proj-a"
	b := newTestService("beta")
	b.ProjectID = "proj-b"
	if err := store.SaveService(ctx, a); err != nil {
		t.Fatalf("SaveService a: %v", err)
	}
	if err := store.SaveService(ctx, b); err != nil {
		t.Fatalf("SaveService b: %v", err)
	}

	svcs, err := store.ListServices(ctx, "proj-a")
	if err != nil {
		t.Fatalf("ListServices: %v", err)
	}
	if len(svcs) != 1 || svcs[0].Name != "alpha" {
		t.Fatalf("expected only alpha, got %+v", svcs)
	}
}

func TestUpstreamStore_ModelAliasCRUD(t *testing.T) {
	store := NewUpstreamStore(openTestDB(t))
	ctx := context.Background()

	alias := &upstream.ModelAlias{
		ProjectID:      "proj-1",
		Alias:          "fast",
		TargetModel:    "gpt-4o-mini",
		TargetProvider: "openai",
	}
	if err := store.SaveModelAlias(ctx, alias); err != nil {
		t.Fatalf("SaveModelAlias: %v", err)
	}

	got, err := store.GetModelAlias(ctx, "proj-1", "fast")
	if err != nil {
		t.Fatalf("GetModelAlias: %v", err)
	}
	if got.TargetModel != "gpt-4o-mini" {
		t.Fatalf("got %+v", got)
	}

	alias.TargetModel = "gpt-4o"
	if err := store.SaveModelAlias(ctx, alias); err != nil {
		t.Fatalf("SaveModelAlias (update): %v", err)
	}
	got, err = store.GetModelAlias(ctx, "proj-1", "fast")
	if err != nil {
		t.Fatalf("GetModelAlias after update: %v", err)
	}
	if got.TargetModel != "gpt-4o" {
		t.Fatalf("update not applied: %+v", got)
	}

	if err := store.DeleteModelAlias(ctx, "proj-1", "fast"); err != nil {
		t.Fatalf("DeleteModelAlias: %v", err)
	}
	_, err = store.GetModelAlias(ctx, "proj-1", "fast")
	if !errors.Is(err, upstream.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUpstreamStore_DeleteService_NotFound(t *testing.T) {
	store := NewUpstreamStore(openTestDB(t))
	err := store.DeleteService(context.Background(), "proj-1", "missing")
	if !errors.Is(err, upstream.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
