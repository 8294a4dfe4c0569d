package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ailink/gateway/internal/domain/audit"
)

// defaultSpillThresholdBytes mirrors FileStore's own payload threshold
// default, so a deployment that swaps sqlite for the file store keeps
// the same spill point either way.
const defaultSpillThresholdBytes = 256 * 1024

// SpillingStore decorates an inner audit.Store (the sqlite metadata
// store, in this repo) with FileStore's spillOversizedPayloads
// behavior: a record whose combined request/response body exceeds the
// threshold gets its body written to a JSON file under dir and replaced
// with a file:// PayloadURL before the record reaches inner. This lets
// sqlite stay the primary audit index (queryable by time/token/project)
// while oversized bodies live on disk instead of bloating its rows,
// matching the teacher's own file-store rotation path as the stand-in
// object store described for this concern.
type SpillingStore struct {
	inner     audit.Store
	dir       string
	threshold int
}

// NewSpillingStore creates a SpillingStore writing overflow payloads
// under dir. thresholdBytes <= 0 uses defaultSpillThresholdBytes.
func NewSpillingStore(inner audit.Store, dir string, thresholdBytes int) (*SpillingStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit payload dir: %w", err)
	}
	if thresholdBytes <= 0 {
		thresholdBytes = defaultSpillThresholdBytes
	}
	return &SpillingStore{inner: inner, dir: dir, threshold: thresholdBytes}, nil
}

// Append spills any oversized record bodies to disk, then delegates the
// (now possibly PayloadURL-only) records to the inner store.
func (s *SpillingStore) Append(ctx context.Context, records ...audit.Record) error {
	for i := range records {
		if err := s.spill(&records[i]); err != nil {
			return fmt.Errorf("spill audit payload: %w", err)
		}
	}
	return s.inner.Append(ctx, records...)
}

func (s *SpillingStore) spill(rec *audit.Record) error {
	total := len(rec.RequestBody) + len(rec.ResponseBody)
	if total <= s.threshold {
		return nil
	}

	name := fmt.Sprintf("%s.json", rec.RequestID)
	path := filepath.Join(s.dir, name)

	payload := struct {
		RequestBody  []byte `json:"request_body,omitempty"`
		ResponseBody []byte `json:"response_body,omitempty"`
	}{RequestBody: rec.RequestBody, ResponseBody: rec.ResponseBody}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}

	rec.PayloadURL = "file://" + path
	rec.RequestBody = nil
	rec.ResponseBody = nil
	return nil
}

// Flush delegates to the inner store.
func (s *SpillingStore) Flush(ctx context.Context) error { return s.inner.Flush(ctx) }

// Close delegates to the inner store.
func (s *SpillingStore) Close() error { return s.inner.Close() }
