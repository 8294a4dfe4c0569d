package admin

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ailink/gateway/internal/domain/audit"
)

// auditQueryResponse is the JSON response for GET /api/v1/audit.
type auditQueryResponse struct {
	Records    []auditRecordResponse `json:"records"`
	NextCursor string                `json:"next_cursor,omitempty"`
	Count      int                   `json:"count"`
}

// auditRecordResponse is the JSON representation of a single audit record.
type auditRecordResponse struct {
	Timestamp        string  `json:"timestamp"`
	RequestID        string  `json:"request_id"`
	SessionID        string  `json:"session_id,omitempty"`
	TokenID          string  `json:"token_id"`
	ProjectID        string  `json:"project_id"`
	TeamID           string  `json:"team_id,omitempty"`
	Model            string  `json:"model"`
	UpstreamURL      string  `json:"upstream_url,omitempty"`
	TTFTMillis       int64   `json:"ttft_millis,omitempty"`
	LatencyMillis    int64   `json:"latency_millis"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	FinishReason     string  `json:"finish_reason,omitempty"`
	ToolCallCount    int     `json:"tool_call_count"`
	CacheHit         bool    `json:"cache_hit"`
	PolicyResult     string  `json:"policy_result"`
	MatchedRuleID    string  `json:"matched_rule_id,omitempty"`
	FieldsRedacted   []string `json:"fields_redacted,omitempty"`
}

func toAuditRecordResponse(r audit.Record) auditRecordResponse {
	return auditRecordResponse{
		Timestamp:        r.Timestamp.UTC().Format(time.RFC3339),
		RequestID:        r.RequestID,
		SessionID:        r.SessionID,
		TokenID:          r.TokenID,
		ProjectID:        r.ProjectID,
		TeamID:           r.TeamID,
		Model:            r.Model,
		UpstreamURL:      r.UpstreamURL,
		TTFTMillis:       r.TTFTMillis,
		LatencyMillis:    r.LatencyMillis,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		CostUSD:          r.CostUSD,
		FinishReason:     r.FinishReason,
		ToolCallCount:    r.ToolCallCount,
		CacheHit:         r.CacheHit,
		PolicyResult:     string(r.PolicyResult),
		MatchedRuleID:    r.MatchedRuleID,
		FieldsRedacted:   r.FieldsRedacted,
	}
}

// handleQueryAudit runs a filtered audit log query, paginated by cursor.
// GET /api/v1/audit
func (h *AdminAPIHandler) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	if h.auditQuery == nil {
		h.respondError(w, http.StatusServiceUnavailable, "audit query store not configured")
		return
	}
	filter, err := parseAuditFilter(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, nextCursor, err := h.auditQuery.Query(r.Context(), filter)
	if err != nil {
		if errors.Is(err, audit.ErrDateRangeExceeded) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("audit query failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "audit query failed")
		return
	}

	result := make([]auditRecordResponse, len(records))
	for i, rec := range records {
		result[i] = toAuditRecordResponse(rec)
	}
	h.respondJSON(w, http.StatusOK, auditQueryResponse{
		Records:    result,
		NextCursor: nextCursor,
		Count:      len(result),
	})
}

// auditStatsResponse is the JSON response for GET /api/v1/audit/stats.
type auditStatsResponse struct {
	TotalCalls   int64                       `json:"total_calls"`
	UniqueTokens int64                       `json:"unique_tokens"`
	TotalCostUSD float64                     `json:"total_cost_usd"`
	ByModel      map[string]modelStatsWire   `json:"by_model"`
	ByResult     map[string]int64            `json:"by_result"`
}

type modelStatsWire struct {
	Calls        int64   `json:"calls"`
	Allowed      int64   `json:"allowed"`
	Denied       int64   `json:"denied"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// handleAuditStats returns aggregated call/cost/policy-result statistics
// for a time range.
// GET /api/v1/audit/stats?start=...&end=...
func (h *AdminAPIHandler) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	if h.auditQuery == nil {
		h.respondError(w, http.StatusServiceUnavailable, "audit query store not configured")
		return
	}

	q := r.URL.Query()
	start, end, err := parseStatsRange(q)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.auditQuery.QueryStats(r.Context(), start, end)
	if err != nil {
		if errors.Is(err, audit.ErrDateRangeExceeded) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("audit stats query failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "audit stats query failed")
		return
	}

	byModel := make(map[string]modelStatsWire, len(stats.ByModel))
	for model, ms := range stats.ByModel {
		byModel[model] = modelStatsWire{Calls: ms.Calls, Allowed: ms.Allowed, Denied: ms.Denied, TotalCostUSD: ms.TotalCostUSD}
	}
	byResult := make(map[string]int64, len(stats.ByResult))
	for result, count := range stats.ByResult {
		byResult[string(result)] = count
	}

	h.respondJSON(w, http.StatusOK, auditStatsResponse{
		TotalCalls:   stats.TotalCalls,
		UniqueTokens: stats.UniqueTokens,
		TotalCostUSD: stats.TotalCostUSD,
		ByModel:      byModel,
		ByResult:     byResult,
	})
}

// parseAuditFilter builds an audit.Filter from the query string, defaulting
// to the last 24 hours and a limit of 100 records.
func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		TokenID:   q.Get("token_id"),
		ProjectID: q.Get("project_id"),
		TeamID:    q.Get("team_id"),
		SessionID: q.Get("session_id"),
		Model:     q.Get("model"),
		Cursor:    q.Get("cursor"),
	}
	if result := q.Get("result"); result != "" {
		filter.Result = audit.PolicyResult(result)
	}

	start, end, err := parseStatsRange(q)
	if err != nil {
		return filter, err
	}
	filter.StartTime, filter.EndTime = start, end

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("invalid limit: must be a positive integer")
		}
		if limit > 100 {
			limit = 100
		}
		filter.Limit = limit
	} else {
		filter.Limit = 100
	}
	return filter, nil
}

// parseStatsRange parses the shared start/end query parameters, defaulting
// to the trailing 24 hours.
func parseStatsRange(q map[string][]string) (time.Time, time.Time, error) {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}

	end := time.Now().UTC()
	if endStr := get("end"); endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
		}
		end = t
	}
	start := end.Add(-24 * time.Hour)
	if startStr := get("start"); startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
		}
		start = t
	}
	return start, end, nil
}
