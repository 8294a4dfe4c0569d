package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ailink/gateway/internal/domain/spend"
)

// SpendStore implements spend.Store against a sqlite database.
type SpendStore struct {
	db *DB
}

// NewSpendStore constructs a SpendStore.
func NewSpendStore(db *DB) *SpendStore {
	return &SpendStore{db: db}
}

func (s *SpendStore) GetCap(ctx context.Context, capID string) (*spend.Cap, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, project_id, token_id, window, limit_usd, usage_usd, reset_at, created_at, updated_at
		FROM spend_caps WHERE id = ?
	`, capID)
	c, err := scanCapRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("spend: cap %s not found", capID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get cap %s: %w", capID, err)
	}
	return c, nil
}

func (s *SpendStore) ListCapsForToken(ctx context.Context, projectID, tokenID string) ([]spend.Cap, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, project_id, token_id, window, limit_usd, usage_usd, reset_at, created_at, updated_at
		FROM spend_caps WHERE project_id = ? AND (token_id = ? OR token_id = '')
	`, projectID, tokenID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list caps for %s/%s: %w", projectID, tokenID, err)
	}
	defer rows.Close()

	var out []spend.Cap
	for rows.Next() {
		c, err := scanCapRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan cap row: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *SpendStore) SaveCap(ctx context.Context, c *spend.Cap) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO spend_caps (id, project_id, token_id, window, limit_usd, usage_usd, reset_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id, token_id = excluded.token_id, window = excluded.window,
			limit_usd = excluded.limit_usd, usage_usd = excluded.usage_usd, reset_at = excluded.reset_at,
			updated_at = excluded.updated_at
	`, c.ID, c.ProjectID, c.TokenID, string(c.Window), c.LimitUSD, c.UsageUSD, c.ResetAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: save cap %s: %w", c.ID, err)
	}
	return nil
}

// AddUsage performs the compare-and-add in a single statement so
// concurrent writers against the same cap never lose an update: the
// WHERE clause re-checks the limit at write time, not read time.
func (s *SpendStore) AddUsage(ctx context.Context, capID string, cost float64, now time.Time) (applied bool, resultingUsage float64, err error) {
	result, err := s.db.Conn().ExecContext(ctx, `
		UPDATE spend_caps SET usage_usd = usage_usd + ?, updated_at = ?
		WHERE id = ? AND usage_usd + ? <= limit_usd
	`, cost, now, capID, cost)
	if err != nil {
		return false, 0, fmt.Errorf("sqlite: add usage to cap %s: %w", capID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("sqlite: rows affected for cap %s: %w", capID, err)
	}
	applied = n > 0

	var usage float64
	if err := s.db.Conn().QueryRowContext(ctx, "SELECT usage_usd FROM spend_caps WHERE id = ?", capID).Scan(&usage); err != nil {
		return applied, 0, fmt.Errorf("sqlite: read usage for cap %s: %w", capID, err)
	}
	return applied, usage, nil
}

// ResetIfDue atomically rolls usage_usd back to 0 and advances reset_at
// when now has reached the stored boundary.
func (s *SpendStore) ResetIfDue(ctx context.Context, capID string, now time.Time) (bool, error) {
	var window string
	var resetAt sql.NullTime
	if err := s.db.Conn().QueryRowContext(ctx,
		"SELECT window, reset_at FROM spend_caps WHERE id = ?", capID).Scan(&window, &resetAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("spend: cap %s not found", capID)
		}
		return false, fmt.Errorf("sqlite: read cap %s for reset check: %w", capID, err)
	}
	if spend.Window(window) == spend.WindowLifetime || !resetAt.Valid || now.Before(resetAt.Time) {
		return false, nil
	}

	next := spend.NextResetAt(spend.Window(window), now)
	result, err := s.db.Conn().ExecContext(ctx, `
		UPDATE spend_caps SET usage_usd = 0, reset_at = ?, updated_at = ?
		WHERE id = ? AND reset_at <= ?
	`, next, now, capID, now)
	if err != nil {
		return false, fmt.Errorf("sqlite: reset cap %s: %w", capID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected resetting cap %s: %w", capID, err)
	}
	return n > 0, nil
}

func scanCapRow(scan func(dest ...any) error) (*spend.Cap, error) {
	var c spend.Cap
	var window string
	var resetAt sql.NullTime

	if err := scan(&c.ID, &c.ProjectID, &c.TokenID, &window, &c.LimitUSD, &c.UsageUSD,
		&resetAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Window = spend.Window(window)
	if resetAt.Valid {
		c.ResetAt = resetAt.Time
	}
	return &c, nil
}

// Compile-time interface verification.
var _ spend.Store = (*SpendStore)(nil)
