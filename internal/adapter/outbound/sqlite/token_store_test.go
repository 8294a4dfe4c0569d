package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ailink/gateway/internal/domain/token"
)

func newTestToken(id string) *token.Record {
	now := time.Now().UTC().Truncate(time.Second)
	return &token.Record{
		ID:            id,
		ProjectID:     "proj-1",
		TeamID:        "team-1",
		Name:          "agent token",
		CredentialID:  "cred-1",
		Upstreams:     []token.UpstreamRef{{URL: "https://api.openai.com", Weight: 1, Priority: 0}},
		FallbackURL:   "https://backup.example.com",
		PolicyIDs:     []string{"pol-1", "pol-2"},
		AllowedModels: []string{"gpt-4o"},
		LogLevel:      token.LogLevelRedacted,
		CircuitBreaker: token.CircuitBreakerConfig{
			FailureThreshold:    5,
			RecoveryCooldown:    30 * time.Second,
			HalfOpenMaxRequests: 1,
		},
		Tags:      []string{"team:payments"},
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestTokenStore_CreateAndGet(t *testing.T) {
	store := NewTokenStore(openTestDB(t))
	ctx := context.Background()

	rec := newTestToken("tok-1")
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "tok-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != rec.Name || got.CredentialID != rec.CredentialID {
		t.Fatalf("got %+v, want %+v", got, rec)
	}
	if len(got.Upstreams) != 1 || got.Upstreams[0].URL != "https://api.openai.com" {
		t.Fatalf("upstreams not round-tripped: %+v", got.Upstreams)
	}
	if len(got.PolicyIDs) != 2 {
		t.Fatalf("policy ids not round-tripped: %+v", got.PolicyIDs)
	}
	if got.CircuitBreaker.FailureThreshold != 5 {
		t.Fatalf("breaker config not round-tripped: %+v", got.CircuitBreaker)
	}
}

func TestTokenStore_Get_NotFound(t *testing.T) {
	store := NewTokenStore(openTestDB(t))
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTokenStore_Get_Revoked(t *testing.T) {
	store := NewTokenStore(openTestDB(t))
	ctx := context.Background()

	rec := newTestToken("tok-revoked")
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Revoke(ctx, "tok-revoked"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	_, err := store.Get(ctx, "tok-revoked")
	if !errors.Is(err, token.ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestTokenStore_Revoke_NotFound(t *testing.T) {
	store := NewTokenStore(openTestDB(t))
	err := store.Revoke(context.Background(), "missing")
	if !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTokenStore_Update(t *testing.T) {
	store := NewTokenStore(openTestDB(t))
	ctx := context.Background()

	rec := newTestToken("tok-update")
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec.Name = "renamed"
	rec.AllowedModels = []string{"gpt-4o", "claude-sonnet"}
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.Get(ctx, "tok-update")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "renamed" || len(got.AllowedModels) != 2 {
		t.Fatalf("update not applied: %+v", got)
	}
}

func TestTokenStore_Update_NotFound(t *testing.T) {
	store := NewTokenStore(openTestDB(t))
	err := store.Update(context.Background(), newTestToken("missing"))
	if !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTokenStore_List_ScopedByProject(t *testing.T) {
	store := NewTokenStore(openTestDB(t))
	ctx := context.Background()

	a := newTestToken("tok-a")
	a.ProjectID = "proj-a"
	b := newTestToken("tok-b")
	b.ProjectID = "proj-b"
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if err := store.Create(ctx, b); err != nil {
		t.Fatalf("Create b: %v", err)
	}

	recs, err := store.List(ctx, "proj-a")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "tok-a" {
		t.Fatalf("expected only tok-a, got %+v", recs)
	}
}

func TestTokenStore_AdminKeys(t *testing.T) {
	db := openTestDB(t)
	store := NewTokenStore(db)
	ctx := context.Background()

	_, err := db.Conn().ExecContext(ctx,
		"INSERT INTO admin_keys (key_hash, id, name, scopes_json, revoked) VALUES (?, ?, ?, ?, ?)",
		"hash1", "admin-1", "root key", `["admin"]`, 0)
	if err != nil {
		t.Fatalf("seed admin key: %v", err)
	}

	key, err := store.GetAdminKey(ctx, "hash1")
	if err != nil {
		t.Fatalf("GetAdminKey: %v", err)
	}
	if !key.HasScope(token.ScopeTokensWrite) {
		t.Fatalf("expected blanket admin scope to cover tokens:write, got %+v", key.Scopes)
	}

	keys, err := store.ListAdminKeys(ctx)
	if err != nil {
		t.Fatalf("ListAdminKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 admin key, got %d", len(keys))
	}
}

func TestTokenStore_GetAdminKey_NotFound(t *testing.T) {
	store := NewTokenStore(openTestDB(t))
	_, err := store.GetAdminKey(context.Background(), "missing")
	if !errors.Is(err, token.ErrAdminKeyNotFound) {
		t.Fatalf("expected ErrAdminKeyNotFound, got %v", err)
	}
}
