// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ailink/gateway/internal/domain/audit"
)

const defaultRecentCap = 1000

// AuditStore implements audit.Store and audit.QueryStore, writing each
// record as a JSON line to an underlying writer and keeping a bounded
// in-memory ring buffer for queries. Intended for tests and for running
// the gateway without a database.
type AuditStore struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
	recent  []audit.Record
	cap     int
}

func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return defaultRecentCap
}

// NewAuditStore creates a new audit store writing to stdout. An optional
// capacity parameter sets the ring buffer size (default 1000).
func NewAuditStore(capacity ...int) *AuditStore {
	return NewAuditStoreWithWriter(os.Stdout, capacity...)
}

// NewAuditStoreWithWriter creates an audit store writing to the given
// writer. An optional capacity parameter sets the ring buffer size
// (default 1000).
func NewAuditStoreWithWriter(w io.Writer, capacity ...int) *AuditStore {
	cap := resolveCapacity(capacity...)
	return &AuditStore{
		encoder: json.NewEncoder(w),
		writer:  w,
		recent:  make([]audit.Record, 0, cap),
		cap:     cap,
	}
}

// Append stores audit records by writing them as JSON lines to the
// output and keeping them in the in-memory ring buffer.
func (s *AuditStore) Append(_ context.Context, records ...audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if err := s.encoder.Encode(r); err != nil {
			return err
		}
		if len(s.recent) >= s.cap {
			copy(s.recent, s.recent[1:])
			s.recent[len(s.recent)-1] = r
		} else {
			s.recent = append(s.recent, r)
		}
	}
	return nil
}

// Flush forces pending records to storage. No-op: this implementation
// does not buffer writes.
func (s *AuditStore) Flush(context.Context) error {
	return nil
}

// Close releases resources held by the underlying writer, if any.
func (s *AuditStore) Close() error {
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// Query retrieves audit records matching filter from the in-memory
// buffer, newest first. Pagination is not supported; the returned
// cursor is always empty.
func (s *AuditStore) Query(_ context.Context, filter audit.Filter) ([]audit.Record, string, error) {
	if !filter.StartTime.IsZero() && !filter.EndTime.IsZero() && filter.EndTime.Sub(filter.StartTime) > 7*24*time.Hour {
		return nil, "", audit.ErrDateRangeExceeded
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var result []audit.Record
	for i := len(s.recent) - 1; i >= 0 && len(result) < limit; i-- {
		rec := s.recent[i]
		if !matchesFilter(rec, filter) {
			continue
		}
		result = append(result, rec)
	}
	return result, "", nil
}

// QueryStats returns aggregated statistics over [start, end) computed
// from the in-memory buffer.
func (s *AuditStore) QueryStats(_ context.Context, start, end time.Time) (*audit.AuditStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &audit.AuditStats{
		ByModel:  make(map[string]audit.ModelStats),
		ByResult: make(map[audit.PolicyResult]int64),
	}
	seenTokens := make(map[string]struct{})

	for _, rec := range s.recent {
		if !start.IsZero() && rec.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && !rec.Timestamp.Before(end) {
			continue
		}
		stats.TotalCalls++
		stats.TotalCostUSD += rec.CostUSD
		stats.ByResult[rec.PolicyResult]++
		if rec.TokenID != "" {
			if _, ok := seenTokens[rec.TokenID]; !ok {
				seenTokens[rec.TokenID] = struct{}{}
				stats.UniqueTokens++
			}
		}

		ms := stats.ByModel[rec.Model]
		ms.Calls++
		ms.TotalCostUSD += rec.CostUSD
		switch rec.PolicyResult {
		case audit.PolicyResultAllow, audit.PolicyResultApprovalGranted:
			ms.Allowed++
		case audit.PolicyResultDeny, audit.PolicyResultApprovalDenied:
			ms.Denied++
		}
		stats.ByModel[rec.Model] = ms
	}
	return stats, nil
}

func matchesFilter(rec audit.Record, filter audit.Filter) bool {
	if !filter.StartTime.IsZero() && rec.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && rec.Timestamp.After(filter.EndTime) {
		return false
	}
	if filter.TokenID != "" && rec.TokenID != filter.TokenID {
		return false
	}
	if filter.ProjectID != "" && rec.ProjectID != filter.ProjectID {
		return false
	}
	if filter.TeamID != "" && rec.TeamID != filter.TeamID {
		return false
	}
	if filter.SessionID != "" && rec.SessionID != filter.SessionID {
		return false
	}
	if filter.Model != "" && rec.Model != filter.Model {
		return false
	}
	if filter.Result != "" && rec.PolicyResult != filter.Result {
		return false
	}
	return true
}

// Compile-time interface verification.
var (
	_ audit.Store      = (*AuditStore)(nil)
	_ audit.QueryStore = (*AuditStore)(nil)
)
