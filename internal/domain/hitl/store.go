package hitl

import "context"

// Store persists ApprovalRequest snapshots for history and crash
// recovery. Queue remains the source of truth for in-flight long-poll
// waiters: its resolved channel cannot survive a process restart, so a
// request still StatusPending in Store after a crash must be treated as
// abandoned (expired) rather than resumed mid-wait.
type Store interface {
	// Save upserts the current snapshot of req.
	Save(ctx context.Context, req *ApprovalRequest) error
	// Get returns the stored snapshot for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*ApprovalRequest, error)
	// ListPending returns every request still StatusPending, oldest first.
	ListPending(ctx context.Context) ([]*ApprovalRequest, error)
}
