package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ailink/gateway/internal/domain/audit"
)

// ComplianceStore implements audit.ComplianceStore against a sqlite
// database, separate from the per-request audit_records table.
type ComplianceStore struct {
	db *DB
}

// NewComplianceStore constructs a ComplianceStore.
func NewComplianceStore(db *DB) *ComplianceStore {
	return &ComplianceStore{db: db}
}

func (s *ComplianceStore) Append(ctx context.Context, records ...audit.ComplianceAuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin compliance append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO compliance_audit_records (timestamp, project_id, event_type, request_id,
			actor_id, actor_type, actor_username, target_id, target_type, target_name,
			old_value, new_value, source_ip, user_agent, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare compliance insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx, r.Timestamp, r.ProjectID, r.EventType, r.RequestID,
			r.ActorID, r.ActorType, r.ActorUsername, r.TargetID, r.TargetType, r.TargetName,
			r.OldValue, r.NewValue, r.SourceIP, r.UserAgent, r.Reason)
		if err != nil {
			return fmt.Errorf("sqlite: insert compliance record %s: %w", r.RequestID, err)
		}
	}
	return tx.Commit()
}

func (s *ComplianceStore) Query(ctx context.Context, filter audit.ComplianceFilter) ([]audit.ComplianceAuditRecord, string, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `
		SELECT timestamp, project_id, event_type, request_id, actor_id, actor_type,
		       actor_username, target_id, target_type, target_name, old_value, new_value,
		       source_ip, user_agent, reason
		FROM compliance_audit_records WHERE 1 = 1
	`
	var args []any
	if !filter.StartTime.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndTime)
	}
	if filter.ActorID != "" {
		query += " AND actor_id = ?"
		args = append(args, filter.ActorID)
	}
	if filter.TargetID != "" {
		query += " AND target_id = ?"
		args = append(args, filter.TargetID)
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			placeholders[i] = "?"
			args = append(args, et)
		}
		query += " AND event_type IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("sqlite: query compliance records: %w", err)
	}
	defer rows.Close()

	var out []audit.ComplianceAuditRecord
	for rows.Next() {
		var r audit.ComplianceAuditRecord
		if err := rows.Scan(&r.Timestamp, &r.ProjectID, &r.EventType, &r.RequestID, &r.ActorID,
			&r.ActorType, &r.ActorUsername, &r.TargetID, &r.TargetType, &r.TargetName,
			&r.OldValue, &r.NewValue, &r.SourceIP, &r.UserAgent, &r.Reason); err != nil {
			return nil, "", fmt.Errorf("sqlite: scan compliance row: %w", err)
		}
		out = append(out, r)
	}
	return out, "", rows.Err()
}

func (s *ComplianceStore) QueryStats(ctx context.Context, start, end time.Time) (*audit.ComplianceStats, error) {
	stats := &audit.ComplianceStats{EventsByType: make(map[string]int64)}

	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT event_type, COUNT(*) FROM compliance_audit_records
		WHERE timestamp >= ? AND timestamp < ?
		GROUP BY event_type
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query compliance stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("sqlite: scan compliance stats row: %w", err)
		}
		stats.EventsByType[eventType] = count
		stats.TotalEvents += count

		switch {
		case strings.HasPrefix(eventType, "access."):
			stats.AccessEvents += count
			if eventType == audit.EventTypeLoginFailed {
				stats.FailedLogins += count
			}
		case strings.HasPrefix(eventType, "config."):
			stats.ConfigChanges += count
		case strings.HasPrefix(eventType, "user."):
			stats.UserLifecycleEvents += count
		}
	}
	return stats, rows.Err()
}

// PurgeOlderThan deletes compliance records older than before. Callers
// are responsible for checking legal holds first; this method performs
// no such check.
func (s *ComplianceStore) PurgeOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.Conn().ExecContext(ctx, "DELETE FROM compliance_audit_records WHERE timestamp < ?", before)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge compliance records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected purging compliance records: %w", err)
	}
	return n, nil
}

// Compile-time interface verification.
var _ audit.ComplianceStore = (*ComplianceStore)(nil)
