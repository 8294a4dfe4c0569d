// Package hitl implements the Human-In-The-Loop approval queue: policies
// that emit require_approval suspend a request until a reviewer approves
// or rejects it (or it expires), with idempotent resubmission and
// optional long-poll waiting.
package hitl

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an ApprovalRequest.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

var (
	// ErrNotFound is returned when a request_id is unknown.
	ErrNotFound = errors.New("hitl: request not found")
	// ErrNotPending is returned when Approve/Reject targets a request
	// that has already been resolved.
	ErrNotPending = errors.New("hitl: request is not pending")
)

// RequestSummary is the minimal snapshot of the original call needed to
// resume it on approval: method, path, model, and the original body, plus
// the context fields required for re-attribution and audit.
type RequestSummary struct {
	Method    string
	Path      string
	Model     string
	Body      []byte
	ProjectID string
	TeamID    string
}

// ApprovalRequest is one pending (or resolved) HITL entry.
type ApprovalRequest struct {
	ID             string
	TokenID        string
	IdempotencyKey string
	Status         Status
	Summary        RequestSummary
	RejectReason   string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	ResolvedAt     time.Time

	// resolved fans out the decision to any waiter (Create pre-allocates
	// a buffered channel of size 1; only the first Resolve call sends).
	resolved chan struct{}
}

// TTL returns the default time an approval stays pending if none is given.
const DefaultTTL = 5 * time.Minute
