package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ailink/gateway/internal/domain/audit"
)

// AuditStore implements audit.Store and audit.QueryStore against a
// sqlite database.
type AuditStore struct {
	db *DB
}

// NewAuditStore constructs an AuditStore.
func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Append(ctx context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin audit append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_records (timestamp, request_id, session_id, parent_span_id, token_id,
			project_id, team_id, attribution, model, upstream_url, ttft_millis, latency_millis,
			prompt_tokens, completion_tokens, cost_usd, finish_reason, tool_call_count, cache_hit,
			policy_result, matched_rule_id, fields_redacted_json, over_cap_cap_ids_json, status_code,
			error_type, log_level, request_body, response_body, payload_url, custom_properties_json,
			experiment_name, variant_name, cancelled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		fieldsRedactedJSON, err := json.Marshal(r.FieldsRedacted)
		if err != nil {
			return err
		}
		overCapJSON, err := json.Marshal(r.OverCapCapIDs)
		if err != nil {
			return err
		}
		customPropsJSON, err := json.Marshal(r.CustomProperties)
		if err != nil {
			return err
		}

		_, err = stmt.ExecContext(ctx, r.Timestamp, r.RequestID, r.SessionID, r.ParentSpanID, r.TokenID,
			r.ProjectID, r.TeamID, r.Attribution, r.Model, r.UpstreamURL, r.TTFTMillis, r.LatencyMillis,
			r.PromptTokens, r.CompletionTokens, r.CostUSD, r.FinishReason, r.ToolCallCount, boolToInt(r.CacheHit),
			string(r.PolicyResult), r.MatchedRuleID, string(fieldsRedactedJSON), string(overCapJSON), r.StatusCode,
			r.ErrorType, r.LogLevel, r.RequestBody, r.ResponseBody, r.PayloadURL, string(customPropsJSON),
			r.ExperimentName, r.VariantName, boolToInt(r.Cancelled))
		if err != nil {
			return fmt.Errorf("sqlite: insert audit record %s: %w", r.RequestID, err)
		}
	}
	return tx.Commit()
}

// Flush is a no-op: Append commits synchronously.
func (s *AuditStore) Flush(context.Context) error {
	return nil
}

func (s *AuditStore) Close() error {
	return nil
}

func (s *AuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, string, error) {
	if !filter.StartTime.IsZero() && !filter.EndTime.IsZero() && filter.EndTime.Sub(filter.StartTime) > 7*24*time.Hour {
		return nil, "", audit.ErrDateRangeExceeded
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `
		SELECT timestamp, request_id, session_id, parent_span_id, token_id, project_id, team_id,
		       attribution, model, upstream_url, ttft_millis, latency_millis, prompt_tokens,
		       completion_tokens, cost_usd, finish_reason, tool_call_count, cache_hit, policy_result,
		       matched_rule_id, fields_redacted_json, over_cap_cap_ids_json, status_code, error_type,
		       log_level, request_body, response_body, payload_url, custom_properties_json,
		       experiment_name, variant_name, cancelled
		FROM audit_records WHERE 1 = 1
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
	if filter.TokenID != "" {
		query += " AND token_id = ?"
		args = append(args, filter.TokenID)
	}
	if filter.ProjectID != "" {
		query += " AND project_id = ?"
		args = append(args, filter.ProjectID)
	}
	if filter.TeamID != "" {
		query += " AND team_id = ?"
		args = append(args, filter.TeamID)
	}
	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Model != "" {
		query += " AND model = ?"
		args = append(args, filter.Model)
	}
	if filter.Result != "" {
		query += " AND policy_result = ?"
		args = append(args, string(filter.Result))
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("sqlite: query audit records: %w", err)
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		rec, err := scanAuditRow(rows.Scan)
		if err != nil {
			return nil, "", fmt.Errorf("sqlite: scan audit row: %w", err)
		}
		out = append(out, *rec)
	}
	return out, "", rows.Err()
}

func (s *AuditStore) QueryStats(ctx context.Context, start, end time.Time) (*audit.AuditStats, error) {
	stats := &audit.AuditStats{
		ByModel:  make(map[string]audit.ModelStats),
		ByResult: make(map[audit.PolicyResult]int64),
	}

	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT token_id, model, policy_result, cost_usd FROM audit_records
		WHERE timestamp >= ? AND timestamp < ?
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query audit stats: %w", err)
	}
	defer rows.Close()

	seenTokens := make(map[string]struct{})
	for rows.Next() {
		var tokenID, model, policyResult string
		var cost float64
		if err := rows.Scan(&tokenID, &model, &policyResult, &cost); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit stats row: %w", err)
		}

		stats.TotalCalls++
		stats.TotalCostUSD += cost
		pr := audit.PolicyResult(policyResult)
		stats.ByResult[pr]++
		if tokenID != "" {
			if _, ok := seenTokens[tokenID]; !ok {
				seenTokens[tokenID] = struct{}{}
				stats.UniqueTokens++
			}
		}

		ms := stats.ByModel[model]
		ms.Calls++
		ms.TotalCostUSD += cost
		switch pr {
		case audit.PolicyResultAllow, audit.PolicyResultApprovalGranted:
			ms.Allowed++
		case audit.PolicyResultDeny, audit.PolicyResultApprovalDenied:
			ms.Denied++
		}
		stats.ByModel[model] = ms
	}
	return stats, rows.Err()
}

func scanAuditRow(scan func(dest ...any) error) (*audit.Record, error) {
	var r audit.Record
	var policyResult, fieldsRedactedJSON, overCapJSON, customPropsJSON string
	var cacheHitInt, cancelledInt int

	err := scan(&r.Timestamp, &r.RequestID, &r.SessionID, &r.ParentSpanID, &r.TokenID, &r.ProjectID,
		&r.TeamID, &r.Attribution, &r.Model, &r.UpstreamURL, &r.TTFTMillis, &r.LatencyMillis,
		&r.PromptTokens, &r.CompletionTokens, &r.CostUSD, &r.FinishReason, &r.ToolCallCount, &cacheHitInt,
		&policyResult, &r.MatchedRuleID, &fieldsRedactedJSON, &overCapJSON, &r.StatusCode, &r.ErrorType,
		&r.LogLevel, &r.RequestBody, &r.ResponseBody, &r.PayloadURL, &customPropsJSON,
		&r.ExperimentName, &r.VariantName, &cancelledInt)
	if err != nil {
		return nil, err
	}

	r.CacheHit = cacheHitInt != 0
	r.Cancelled = cancelledInt != 0
	r.PolicyResult = audit.PolicyResult(policyResult)
	if err := json.Unmarshal([]byte(fieldsRedactedJSON), &r.FieldsRedacted); err != nil {
		return nil, fmt.Errorf("decode fields_redacted_json: %w", err)
	}
	if err := json.Unmarshal([]byte(overCapJSON), &r.OverCapCapIDs); err != nil {
		return nil, fmt.Errorf("decode over_cap_cap_ids_json: %w", err)
	}
	if err := json.Unmarshal([]byte(customPropsJSON), &r.CustomProperties); err != nil {
		return nil, fmt.Errorf("decode custom_properties_json: %w", err)
	}
	return &r, nil
}

// Compile-time interface verification.
var (
	_ audit.Store      = (*AuditStore)(nil)
	_ audit.QueryStore = (*AuditStore)(nil)
)
