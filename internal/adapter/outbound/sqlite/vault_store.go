package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ailink/gateway/internal/domain/vault"
)

// VaultStore implements vault.Store against a sqlite database.
type VaultStore struct {
	db *DB
}

// NewVaultStore constructs a VaultStore.
func NewVaultStore(db *DB) *VaultStore {
	return &VaultStore{db: db}
}

func (s *VaultStore) Get(ctx context.Context, id string) (*vault.Credential, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, project_id, name, provider, encrypted_dek, dek_nonce,
		       encrypted_secret, secret_nonce, version, injection_mode,
		       injection_header, created_at, updated_at
		FROM credentials WHERE id = ?
	`, id)

	c, err := scanCredentialRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vault.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get credential %s: %w", id, err)
	}
	return c, nil
}

func (s *VaultStore) Create(ctx context.Context, c *vault.Credential) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO credentials (id, project_id, name, provider, encrypted_dek, dek_nonce,
			encrypted_secret, secret_nonce, version, injection_mode, injection_header,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ProjectID, c.Name, c.Provider, c.EncryptedDEK, c.DEKNonce, c.EncryptedSecret,
		c.SecretNonce, c.Version, string(c.InjectionMode), c.InjectionHeader, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: create credential %s: %w", c.ID, err)
	}
	return nil
}

func (s *VaultStore) Rotate(ctx context.Context, c *vault.Credential, previous *vault.Credential, event vault.RotationEvent) error {
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin rotate: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE credentials SET encrypted_dek = ?, dek_nonce = ?, encrypted_secret = ?,
			secret_nonce = ?, version = ?, updated_at = ?
		WHERE id = ?
	`, c.EncryptedDEK, c.DEKNonce, c.EncryptedSecret, c.SecretNonce, c.Version, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("sqlite: rotate credential %s: %w", c.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return vault.ErrNotFound
	}

	if err := appendRotationLogTx(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *VaultStore) AppendRotationLog(ctx context.Context, event vault.RotationEvent) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO credential_rotation_log (credential_id, from_version, to_version, status, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.CredentialID, event.FromVersion, event.ToVersion, string(event.Status), event.Reason, event.At)
	if err != nil {
		return fmt.Errorf("sqlite: append rotation log for %s: %w", event.CredentialID, err)
	}
	return nil
}

func appendRotationLogTx(ctx context.Context, tx *sql.Tx, event vault.RotationEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credential_rotation_log (credential_id, from_version, to_version, status, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.CredentialID, event.FromVersion, event.ToVersion, string(event.Status), event.Reason, event.At)
	if err != nil {
		return fmt.Errorf("sqlite: append rotation log for %s: %w", event.CredentialID, err)
	}
	return nil
}

func scanCredentialRow(scan func(dest ...any) error) (*vault.Credential, error) {
	var c vault.Credential
	var injectionMode string

	err := scan(&c.ID, &c.ProjectID, &c.Name, &c.Provider, &c.EncryptedDEK, &c.DEKNonce,
		&c.EncryptedSecret, &c.SecretNonce, &c.Version, &injectionMode, &c.InjectionHeader,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.InjectionMode = vault.InjectionMode(injectionMode)
	return &c, nil
}

// Compile-time interface verification.
var _ vault.Store = (*VaultStore)(nil)
