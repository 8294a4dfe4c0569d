package memory

import (
	"context"
	"sync"

	"github.com/ailink/gateway/internal/domain/hitl"
)

// ApprovalStore is an in-memory hitl.Store, used for tests and no-DB
// runs. Like its sqlite counterpart it only ever sees the exported
// snapshot fields of an ApprovalRequest; Queue itself owns the
// long-poll wake-up channel.
type ApprovalStore struct {
	mu   sync.RWMutex
	byID map[string]hitl.ApprovalRequest
}

// NewApprovalStore creates an empty ApprovalStore.
func NewApprovalStore() *ApprovalStore {
	return &ApprovalStore{byID: make(map[string]hitl.ApprovalRequest)}
}

func (s *ApprovalStore) Save(_ context.Context, req *hitl.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[req.ID] = *req
	return nil
}

func (s *ApprovalStore) Get(_ context.Context, id string) (*hitl.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.byID[id]
	if !ok {
		return nil, hitl.ErrNotFound
	}
	return &req, nil
}

func (s *ApprovalStore) ListPending(_ context.Context) ([]*hitl.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*hitl.ApprovalRequest
	for _, req := range s.byID {
		if req.Status == hitl.StatusPending {
			r := req
			out = append(out, &r)
		}
	}
	return out, nil
}

// Compile-time interface verification.
var _ hitl.Store = (*ApprovalStore)(nil)
