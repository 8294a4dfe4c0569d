package audit

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for audit store operations.
var (
	// ErrDateRangeExceeded is returned when the query date range exceeds the maximum allowed.
	ErrDateRangeExceeded = errors.New("date range exceeds maximum of 7 days")
)

// Store persists audit records. Interface owned by domain per hexagonal
// architecture; the adapter handles batching, rotation, and
// payload-overflow storage.
type Store interface {
	// Append stores audit records. Must be non-blocking from the
	// caller's perspective; the async queue in front of it absorbs
	// bursts.
	Append(ctx context.Context, records ...Record) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter specifies query parameters for audit log queries.
type Filter struct {
	StartTime time.Time
	EndTime   time.Time
	TokenID   string
	ProjectID string
	TeamID    string
	SessionID string
	Model     string
	// Result filters by policy result (optional).
	Result PolicyResult
	// Limit is the maximum number of records to return (default 100, max 100).
	Limit int
	// Cursor is the pagination cursor for fetching the next page (optional).
	Cursor string
}

// ModelStats contains per-model audit statistics.
type ModelStats struct {
	Calls        int64
	Allowed      int64
	Denied       int64
	TotalCostUSD float64
}

// AuditStats contains aggregated audit statistics for a time period.
type AuditStats struct {
	TotalCalls   int64
	UniqueTokens int64
	TotalCostUSD float64
	ByModel      map[string]ModelStats
	ByResult     map[PolicyResult]int64
}

// QueryStore provides read access to audit logs for admin queries. This
// interface is separate from Store, which handles writes.
type QueryStore interface {
	// Query retrieves audit records matching the filter. Returns
	// records, next cursor (empty if no more pages), and error. Returns
	// ErrDateRangeExceeded if EndTime - StartTime > 7 days.
	Query(ctx context.Context, filter Filter) ([]Record, string, error)

	// QueryStats returns aggregated statistics for the given time range.
	QueryStats(ctx context.Context, start, end time.Time) (*AuditStats, error)
}

// ComplianceFilter specifies query parameters for compliance audit queries.
type ComplianceFilter struct {
	StartTime  time.Time
	EndTime    time.Time
	EventTypes []string
	ActorID    string
	TargetID   string
	Limit      int
	Cursor     string
}

// ComplianceStats contains aggregated compliance statistics.
type ComplianceStats struct {
	TotalEvents         int64
	AccessEvents        int64
	ConfigChanges       int64
	UserLifecycleEvents int64
	FailedLogins        int64
	EventsByType        map[string]int64
}

// ComplianceStore handles SOC2-style compliance audit records for admin
// API actions, separate from per-request proxy audit records.
type ComplianceStore interface {
	Append(ctx context.Context, records ...ComplianceAuditRecord) error
	Query(ctx context.Context, filter ComplianceFilter) ([]ComplianceAuditRecord, string, error)
	QueryStats(ctx context.Context, start, end time.Time) (*ComplianceStats, error)

	// PurgeOlderThan deletes compliance audit records older than the
	// specified date, returning the number deleted. Callers must verify
	// no active legal hold covers the affected range first.
	PurgeOlderThan(ctx context.Context, before time.Time) (int64, error)
}
