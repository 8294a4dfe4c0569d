package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ailink/gateway/internal/domain/token"
)

// TokenStore implements token.Store against a sqlite database.
type TokenStore struct {
	db *DB
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(db *DB) *TokenStore {
	return &TokenStore{db: db}
}

func (s *TokenStore) Get(ctx context.Context, id string) (*token.Record, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, project_id, team_id, name, credential_id, upstreams_json,
		       fallback_url, policy_ids_json, allowed_models_json, log_level,
		       breaker_json, tags_json, active, created_at, updated_at
		FROM tokens WHERE id = ?
	`, id)

	rec, active, err := scanTokenRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, token.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get token %s: %w", id, err)
	}
	if !active {
		return nil, token.ErrRevoked
	}
	return rec, nil
}

func (s *TokenStore) Create(ctx context.Context, rec *token.Record) error {
	upstreamsJSON, err := json.Marshal(rec.Upstreams)
	if err != nil {
		return err
	}
	policyIDsJSON, err := json.Marshal(rec.PolicyIDs)
	if err != nil {
		return err
	}
	allowedModelsJSON, err := json.Marshal(rec.AllowedModels)
	if err != nil {
		return err
	}
	breakerJSON, err := json.Marshal(rec.CircuitBreaker)
	if err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return err
	}

	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO tokens (id, project_id, team_id, name, credential_id, upstreams_json,
			fallback_url, policy_ids_json, allowed_models_json, log_level, breaker_json,
			tags_json, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.ProjectID, rec.TeamID, rec.Name, rec.CredentialID, string(upstreamsJSON),
		rec.FallbackURL, string(policyIDsJSON), string(allowedModelsJSON), int(rec.LogLevel),
		string(breakerJSON), string(tagsJSON), boolToInt(rec.Active), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: create token %s: %w", rec.ID, err)
	}
	return nil
}

func (s *TokenStore) Update(ctx context.Context, rec *token.Record) error {
	upstreamsJSON, err := json.Marshal(rec.Upstreams)
	if err != nil {
		return err
	}
	policyIDsJSON, err := json.Marshal(rec.PolicyIDs)
	if err != nil {
		return err
	}
	allowedModelsJSON, err := json.Marshal(rec.AllowedModels)
	if err != nil {
		return err
	}
	breakerJSON, err := json.Marshal(rec.CircuitBreaker)
	if err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return err
	}

	result, err := s.db.Conn().ExecContext(ctx, `
		UPDATE tokens SET project_id = ?, team_id = ?, name = ?, credential_id = ?,
			upstreams_json = ?, fallback_url = ?, policy_ids_json = ?, allowed_models_json = ?,
			log_level = ?, breaker_json = ?, tags_json = ?, active = ?, updated_at = ?
		WHERE id = ?
	`, rec.ProjectID, rec.TeamID, rec.Name, rec.CredentialID, string(upstreamsJSON),
		rec.FallbackURL, string(policyIDsJSON), string(allowedModelsJSON), int(rec.LogLevel),
		string(breakerJSON), string(tagsJSON), boolToInt(rec.Active), rec.UpdatedAt, rec.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update token %s: %w", rec.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return token.ErrNotFound
	}
	return nil
}

func (s *TokenStore) Revoke(ctx context.Context, id string) error {
	result, err := s.db.Conn().ExecContext(ctx,
		"UPDATE tokens SET active = 0, updated_at = ? WHERE id = ?", time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: revoke token %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return token.ErrNotFound
	}
	return nil
}

func (s *TokenStore) List(ctx context.Context, projectID string) ([]token.Record, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, project_id, team_id, name, credential_id, upstreams_json,
		       fallback_url, policy_ids_json, allowed_models_json, log_level,
		       breaker_json, tags_json, active, created_at, updated_at
		FROM tokens WHERE project_id = ? ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tokens for %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []token.Record
	for rows.Next() {
		rec, _, err := scanTokenRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan token row: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *TokenStore) GetAdminKey(ctx context.Context, keyHash string) (*token.AdminKey, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		"SELECT key_hash, id, name, scopes_json, revoked, expires_at FROM admin_keys WHERE key_hash = ?", keyHash)
	key, err := scanAdminKeyRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, token.ErrAdminKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get admin key: %w", err)
	}
	return key, nil
}

func (s *TokenStore) ListAdminKeys(ctx context.Context) ([]*token.AdminKey, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		"SELECT key_hash, id, name, scopes_json, revoked, expires_at FROM admin_keys")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list admin keys: %w", err)
	}
	defer rows.Close()

	var out []*token.AdminKey
	for rows.Next() {
		key, err := scanAdminKeyRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan admin key row: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func scanTokenRow(scan func(dest ...any) error) (*token.Record, bool, error) {
	var rec token.Record
	var upstreamsJSON, policyIDsJSON, allowedModelsJSON, breakerJSON, tagsJSON string
	var logLevel, activeInt int

	err := scan(&rec.ID, &rec.ProjectID, &rec.TeamID, &rec.Name, &rec.CredentialID, &upstreamsJSON,
		&rec.FallbackURL, &policyIDsJSON, &allowedModelsJSON, &logLevel, &breakerJSON, &tagsJSON,
		&activeInt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, false, err
	}

	rec.LogLevel = token.LogLevel(logLevel)
	rec.Active = activeInt != 0
	if err := json.Unmarshal([]byte(upstreamsJSON), &rec.Upstreams); err != nil {
		return nil, false, fmt.Errorf("decode upstreams_json: %w", err)
	}
	if err := json.Unmarshal([]byte(policyIDsJSON), &rec.PolicyIDs); err != nil {
		return nil, false, fmt.Errorf("decode policy_ids_json: %w", err)
	}
	if err := json.Unmarshal([]byte(allowedModelsJSON), &rec.AllowedModels); err != nil {
		return nil, false, fmt.Errorf("decode allowed_models_json: %w", err)
	}
	if err := json.Unmarshal([]byte(breakerJSON), &rec.CircuitBreaker); err != nil {
		return nil, false, fmt.Errorf("decode breaker_json: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		return nil, false, fmt.Errorf("decode tags_json: %w", err)
	}
	return &rec, rec.Active, nil
}

func scanAdminKeyRow(scan func(dest ...any) error) (*token.AdminKey, error) {
	var key token.AdminKey
	var scopesJSON string
	var revokedInt int
	var expiresAt sql.NullTime

	if err := scan(&key.KeyHash, &key.ID, &key.Name, &scopesJSON, &revokedInt, &expiresAt); err != nil {
		return nil, err
	}
	key.Revoked = revokedInt != 0
	if expiresAt.Valid {
		t := expiresAt.Time
		key.ExpiresAt = &t
	}
	if err := json.Unmarshal([]byte(scopesJSON), &key.Scopes); err != nil {
		return nil, fmt.Errorf("decode scopes_json: %w", err)
	}
	return &key, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compile-time interface verification.
var _ token.Store = (*TokenStore)(nil)
