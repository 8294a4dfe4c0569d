package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ailink/gateway/internal/domain/vault"
)

func newTestCredential(id string) *vault.Credential {
	now := time.Now().UTC().Truncate(time.Second)
	return &vault.Credential{
		ID:              id,
		ProjectID:       "proj-1",
		Name:            "openai key",
		Provider:        "openai",
		EncryptedDEK:    []byte{0x01, 0x02, 0x03},
		DEKNonce:        []byte{0x04, 0x05, 0x06},
		EncryptedSecret: []byte{0x07, 0x08, 0x09, 0x0a},
		SecretNonce:     []byte{0x0b, 0x0c, 0x0d},
		Version:         1,
		InjectionMode:   vault.InjectionBearer,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestVaultStore_CreateAndGet(t *testing.T) {
	store := NewVaultStore(openTestDB(t))
	ctx := context.Background()

	c := newTestCredential("cred-1")
	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "cred-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Provider != "openai" || got.Version != 1 {
		t.Fatalf("got %+v", got)
	}
	if string(got.EncryptedSecret) != string(c.EncryptedSecret) {
		t.Fatalf("encrypted secret not round-tripped")
	}
}

func TestVaultStore_Get_NotFound(t *testing.T) {
	store := NewVaultStore(openTestDB(t))
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, vault.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVaultStore_Rotate(t *testing.T) {
	db := openTestDB(t)
	store := NewVaultStore(db)
	ctx := context.Background()

	c := newTestCredential("cred-rotate")
	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	c.Version = 2
	c.EncryptedSecret = []byte{0xff, 0xee}
	c.UpdatedAt = time.Now().UTC()
	event := vault.RotationEvent{
		CredentialID: c.ID,
		FromVersion:  1,
		ToVersion:    2,
		Status:       vault.RotationSuccess,
		At:           c.UpdatedAt,
	}
	if err := store.Rotate(ctx, c, nil, event); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	got, err := store.Get(ctx, "cred-rotate")
	if err != nil {
		t.Fatalf("Get after rotate: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("expected version 2, got %d", got.Version)
	}

	var logCount int
	if err := db.Conn().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM credential_rotation_log WHERE credential_id = ?", c.ID).Scan(&logCount); err != nil {
		t.Fatalf("count rotation log: %v", err)
	}
	if logCount != 1 {
		t.Fatalf("expected 1 rotation log row, got %d", logCount)
	}
}

func TestVaultStore_Rotate_NotFound(t *testing.T) {
	store := NewVaultStore(openTestDB(t))
	c := newTestCredential("missing")
	event := vault.RotationEvent{CredentialID: "missing", FromVersion: 1, ToVersion: 2, Status: vault.RotationSuccess, At: time.Now()}
	err := store.Rotate(context.Background(), c, nil, event)
	if !errors.Is(err, vault.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVaultStore_AppendRotationLog_Standalone(t *testing.T) {
	db := openTestDB(t)
	store := NewVaultStore(db)
	ctx := context.Background()

	event := vault.RotationEvent{
		CredentialID: "cred-x",
		FromVersion:  1,
		ToVersion:    2,
		Status:       vault.RotationFailed,
		Reason:       "upstream 401",
		At:           time.Now().UTC(),
	}
	if err := store.AppendRotationLog(ctx, event); err != nil {
		t.Fatalf("AppendRotationLog: %v", err)
	}

	var status, reason string
	if err := db.Conn().QueryRowContext(ctx,
		"SELECT status, reason FROM credential_rotation_log WHERE credential_id = ?", "cred-x").Scan(&status, &reason); err != nil {
		t.Fatalf("read rotation log: %v", err)
	}
	if status != "failed" || reason != "upstream 401" {
		t.Fatalf("got status=%s reason=%s", status, reason)
	}
}
