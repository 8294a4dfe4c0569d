// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/ailink/gateway/internal/domain/upstream"
)

func TestUpstreamStore_ServiceCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewUpstreamStore()

	svc := &upstream.Service{
		ID:        "svc-1",
		ProjectID: "proj-1",
		Name:      "internal-tools",
		BaseURL:   "https://tools.internal.example.com",
		Type:      upstream.ServiceTypeGeneric,
	}
	if err := store.SaveService(ctx, svc); err != nil {
		t.Fatalf("SaveService() error: %v", err)
	}

	got, err := store.GetService(ctx, "proj-1", "internal-tools")
	if err != nil {
		t.Fatalf("GetService() error: %v", err)
	}
	if got.BaseURL != svc.BaseURL {
		t.Errorf("BaseURL = %q, want %q", got.BaseURL, svc.BaseURL)
	}

	list, err := store.ListServices(ctx, "proj-1")
	if err != nil {
		t.Fatalf("ListServices() error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("ListServices() returned %d services, want 1", len(list))
	}

	if err := store.DeleteService(ctx, "proj-1", "internal-tools"); err != nil {
		t.Fatalf("DeleteService() error: %v", err)
	}
	if _, err := store.GetService(ctx, "proj-1", "internal-tools"); !errors.Is(err, upstream.ErrNotFound) {
		t.Errorf("GetService() after delete error = %v, want ErrNotFound", err)
	}
}

func TestUpstreamStore_GetService_NotFound(t *testing.T) {
	t.Parallel()

	store := NewUpstreamStore()
	_, err := store.GetService(context.Background(), "proj-1", "missing")
	if !errors.Is(err, upstream.ErrNotFound) {
		t.Errorf("GetService() error = %v, want ErrNotFound", err)
	}
}

func TestUpstreamStore_SaveService_DuplicateNameDifferentID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewUpstreamStore()

	first := &upstream.Service{ID: "svc-1", ProjectID: "proj-1", Name: "shared-name", BaseURL: "https://a.example.com", Type: upstream.ServiceTypeLLM}
	if err := store.SaveService(ctx, first); err != nil {
		t.Fatalf("SaveService() error: %v", err)
	}

	second := &upstream.Service{ID: "svc-2", ProjectID: "proj-1", Name: "shared-name", BaseURL: "https://b.example.com", Type: upstream.ServiceTypeLLM}
	if err := store.SaveService(ctx, second); !errors.Is(err, upstream.ErrDuplicateName) {
		t.Errorf("SaveService() error = %v, want ErrDuplicateName", err)
	}
}

func TestUpstreamStore_ServicesScopedByProject(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewUpstreamStore()

	_ = store.SaveService(ctx, &upstream.Service{ID: "svc-1", ProjectID: "proj-a", Name: "svc", BaseURL: "https://a.example.com", Type: upstream.ServiceTypeLLM})
	_ = store.SaveService(ctx, &upstream.Service{ID: "svc-2", ProjectID: "proj-b", Name: "svc", BaseURL: "https://b.example.com", Type: upstream.ServiceTypeLLM})

	listA, err := store.ListServices(ctx, "proj-a")
	if err != nil {
		t.Fatalf("ListServices() error: %v", err)
	}
	if len(listA) != 1 || listA[0].BaseURL != "https://a.example.com" {
		t.Errorf("ListServices(proj-a) = %+v, want single proj-a service", listA)
	}
}

func TestUpstreamStore_ModelAliasCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewUpstreamStore()

	alias := &upstream.ModelAlias{
		ProjectID:      "proj-1",
		Alias:          "fast-model",
		TargetModel:    "gpt-4o-mini",
		TargetProvider: "openai",
	}
	if err := store.SaveModelAlias(ctx, alias); err != nil {
		t.Fatalf("SaveModelAlias() error: %v", err)
	}

	got, err := store.GetModelAlias(ctx, "proj-1", "fast-model")
	if err != nil {
		t.Fatalf("GetModelAlias() error: %v", err)
	}
	if got.TargetModel != "gpt-4o-mini" {
		t.Errorf("TargetModel = %q, want %q", got.TargetModel, "gpt-4o-mini")
	}

	list, err := store.ListModelAliases(ctx, "proj-1")
	if err != nil {
		t.Fatalf("ListModelAliases() error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("ListModelAliases() returned %d aliases, want 1", len(list))
	}

	if err := store.DeleteModelAlias(ctx, "proj-1", "fast-model"); err != nil {
		t.Fatalf("DeleteModelAlias() error: %v", err)
	}
	if _, err := store.GetModelAlias(ctx, "proj-1", "fast-model"); !errors.Is(err, upstream.ErrNotFound) {
		t.Errorf("GetModelAlias() after delete error = %v, want ErrNotFound", err)
	}
}

func TestUpstreamStore_CopyOnReturn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewUpstreamStore()

	_ = store.SaveService(ctx, &upstream.Service{ID: "svc-1", ProjectID: "proj-1", Name: "svc", BaseURL: "https://a.example.com", Type: upstream.ServiceTypeLLM})

	got1, err := store.GetService(ctx, "proj-1", "svc")
	if err != nil {
		t.Fatalf("GetService() error: %v", err)
	}
	got1.BaseURL = "https://mutated.example.com"

	got2, err := store.GetService(ctx, "proj-1", "svc")
	if err != nil {
		t.Fatalf("GetService() second call error: %v", err)
	}
	if got2.BaseURL == "https://mutated.example.com" {
		t.Error("store returned a reference instead of a copy")
	}
}
