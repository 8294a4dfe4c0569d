package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ailink/gateway/internal/domain/hitl"
)

// ApprovalStore implements hitl.Store against a sqlite database. It is a
// durability aid: the Queue in front of it owns the in-process
// long-poll wake-up channel, which this store never sees.
type ApprovalStore struct {
	db *DB
}

// NewApprovalStore constructs an ApprovalStore.
func NewApprovalStore(db *DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

func (s *ApprovalStore) Save(ctx context.Context, req *hitl.ApprovalRequest) error {
	summaryJSON, err := json.Marshal(req.Summary)
	if err != nil {
		return fmt.Errorf("sqlite: encode approval summary %s: %w", req.ID, err)
	}

	var resolvedAt sql.NullTime
	if !req.ResolvedAt.IsZero() {
		resolvedAt = sql.NullTime{Time: req.ResolvedAt, Valid: true}
	}

	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO approval_requests (id, token_id, idempotency_key, status, summary_json,
			reject_reason, created_at, expires_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, reject_reason = excluded.reject_reason,
			resolved_at = excluded.resolved_at
	`, req.ID, req.TokenID, req.IdempotencyKey, string(req.Status), string(summaryJSON),
		req.RejectReason, req.CreatedAt, req.ExpiresAt, resolvedAt)
	if err != nil {
		return fmt.Errorf("sqlite: save approval request %s: %w", req.ID, err)
	}
	return nil
}

func (s *ApprovalStore) Get(ctx context.Context, id string) (*hitl.ApprovalRequest, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, token_id, idempotency_key, status, summary_json, reject_reason,
		       created_at, expires_at, resolved_at
		FROM approval_requests WHERE id = ?
	`, id)
	req, err := scanApprovalRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, hitl.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get approval request %s: %w", id, err)
	}
	return req, nil
}

func (s *ApprovalStore) ListPending(ctx context.Context) ([]*hitl.ApprovalRequest, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, token_id, idempotency_key, status, summary_json, reject_reason,
		       created_at, expires_at, resolved_at
		FROM approval_requests WHERE status = ? ORDER BY created_at ASC
	`, string(hitl.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pending approvals: %w", err)
	}
	defer rows.Close()

	var out []*hitl.ApprovalRequest
	for rows.Next() {
		req, err := scanApprovalRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan approval row: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanApprovalRow(scan func(dest ...any) error) (*hitl.ApprovalRequest, error) {
	var req hitl.ApprovalRequest
	var status, summaryJSON string
	var resolvedAt sql.NullTime

	if err := scan(&req.ID, &req.TokenID, &req.IdempotencyKey, &status, &summaryJSON,
		&req.RejectReason, &req.CreatedAt, &req.ExpiresAt, &resolvedAt); err != nil {
		return nil, err
	}
	req.Status = hitl.Status(status)
	if resolvedAt.Valid {
		req.ResolvedAt = resolvedAt.Time
	}
	if err := json.Unmarshal([]byte(summaryJSON), &req.Summary); err != nil {
		return nil, fmt.Errorf("decode summary_json: %w", err)
	}
	return &req, nil
}

// Compile-time interface verification.
var _ hitl.Store = (*ApprovalStore)(nil)
