package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ailink/gateway/internal/domain/upstream"
)

// UpstreamStore implements upstream.Store against a sqlite database.
type UpstreamStore struct {
	db *DB
}

// NewUpstreamStore constructs an UpstreamStore.
func NewUpstreamStore(db *DB) *UpstreamStore {
	return &UpstreamStore{db: db}
}

func (s *UpstreamStore) ListServices(ctx context.Context, projectID string) ([]upstream.Service, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, project_id, name, base_url, type, credential_id, created_at, updated_at
		FROM upstream_services WHERE project_id = ? ORDER BY name ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list services for %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []upstream.Service
	for rows.Next() {
		svc, err := scanServiceRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan service row: %w", err)
		}
		out = append(out, *svc)
	}
	return out, rows.Err()
}

func (s *UpstreamStore) GetService(ctx context.Context, projectID, name string) (*upstream.Service, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, project_id, name, base_url, type, credential_id, created_at, updated_at
		FROM upstream_services WHERE project_id = ? AND name = ?
	`, projectID, name)
	svc, err := scanServiceRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, upstream.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get service %s/%s: %w", projectID, name, err)
	}
	return svc, nil
}

func (s *UpstreamStore) SaveService(ctx context.Context, svc *upstream.Service) error {
	var existingID string
	err := s.db.Conn().QueryRowContext(ctx,
		"SELECT id FROM upstream_services WHERE project_id = ? AND name = ?", svc.ProjectID, svc.Name).Scan(&existingID)
	if err == nil && existingID != svc.ID {
		return upstream.ErrDuplicateName
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: check existing service %s/%s: %w", svc.ProjectID, svc.Name, err)
	}

	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO upstream_services (project_id, name, id, base_url, type, credential_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, name) DO UPDATE SET
			id = excluded.id, base_url = excluded.base_url, type = excluded.type,
			credential_id = excluded.credential_id, updated_at = excluded.updated_at
	`, svc.ProjectID, svc.Name, svc.ID, svc.BaseURL, string(svc.Type), svc.CredentialID, svc.CreatedAt, svc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: save service %s/%s: %w", svc.ProjectID, svc.Name, err)
	}
	return nil
}

func (s *UpstreamStore) DeleteService(ctx context.Context, projectID, name string) error {
	result, err := s.db.Conn().ExecContext(ctx,
		"DELETE FROM upstream_services WHERE project_id = ? AND name = ?", projectID, name)
	if err != nil {
		return fmt.Errorf("sqlite: delete service %s/%s: %w", projectID, name, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return upstream.ErrNotFound
	}
	return nil
}

func (s *UpstreamStore) ListModelAliases(ctx context.Context, projectID string) ([]upstream.ModelAlias, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT project_id, alias, target_model, target_provider FROM model_aliases
		WHERE project_id = ? ORDER BY alias ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list model aliases for %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []upstream.ModelAlias
	for rows.Next() {
		var a upstream.ModelAlias
		if err := rows.Scan(&a.ProjectID, &a.Alias, &a.TargetModel, &a.TargetProvider); err != nil {
			return nil, fmt.Errorf("sqlite: scan model alias row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *UpstreamStore) GetModelAlias(ctx context.Context, projectID, alias string) (*upstream.ModelAlias, error) {
	var a upstream.ModelAlias
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT project_id, alias, target_model, target_provider FROM model_aliases
		WHERE project_id = ? AND alias = ?
	`, projectID, alias).Scan(&a.ProjectID, &a.Alias, &a.TargetModel, &a.TargetProvider)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, upstream.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get model alias %s/%s: %w", projectID, alias, err)
	}
	return &a, nil
}

func (s *UpstreamStore) SaveModelAlias(ctx context.Context, alias *upstream.ModelAlias) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO model_aliases (project_id, alias, target_model, target_provider)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, alias) DO UPDATE SET
			target_model = excluded.target_model, target_provider = excluded.target_provider
	`, alias.ProjectID, alias.Alias, alias.TargetModel, alias.TargetProvider)
	if err != nil {
		return fmt.Errorf("sqlite: save model alias %s/%s: %w", alias.ProjectID, alias.Alias, err)
	}
	return nil
}

func (s *UpstreamStore) DeleteModelAlias(ctx context.Context, projectID, alias string) error {
	result, err := s.db.Conn().ExecContext(ctx,
		"DELETE FROM model_aliases WHERE project_id = ? AND alias = ?", projectID, alias)
	if err != nil {
		return fmt.Errorf("sqlite: delete model alias %s/%s: %w", projectID, alias, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return upstream.ErrNotFound
	}
	return nil
}

func scanServiceRow(scan func(dest ...any) error) (*upstream.Service, error) {
	var svc upstream.Service
	var svcType string
	if err := scan(&svc.ID, &svc.ProjectID, &svc.Name, &svc.BaseURL, &svcType, &svc.CredentialID,
		&svc.CreatedAt, &svc.UpdatedAt); err != nil {
		return nil, err
	}
	svc.Type = upstream.ServiceType(svcType)
	return &svc, nil
}

// Compile-time interface verification.
var _ upstream.Store = (*UpstreamStore)(nil)
