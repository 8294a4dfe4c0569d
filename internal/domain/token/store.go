package token

import (
	"context"
	"errors"
)

// Sentinel errors for token store operations.
var (
	// ErrNotFound is returned when a token does not exist.
	ErrNotFound = errors.New("token not found")
	// ErrRevoked is returned when a token has been soft-deleted.
	ErrRevoked = errors.New("token revoked")
	// ErrAdminKeyNotFound is returned when an admin key does not exist.
	ErrAdminKeyNotFound = errors.New("admin key not found")
)

// Store persists and retrieves token records. This is a port (interface) in
// the hexagonal architecture; implementations: in-memory (tests), sqlite
// (production).
type Store interface {
	// Get returns a token record by its hashed ID.
	// Returns ErrNotFound if the token does not exist.
	Get(ctx context.Context, id string) (*Record, error)
	// Create stores a new token record.
	Create(ctx context.Context, rec *Record) error
	// Update replaces an existing token record.
	Update(ctx context.Context, rec *Record) error
	// Revoke soft-deletes a token by ID.
	Revoke(ctx context.Context, id string) error
	// List returns all token records for a project.
	List(ctx context.Context, projectID string) ([]Record, error)
	// GetAdminKey returns an admin key by its hashed value.
	GetAdminKey(ctx context.Context, keyHash string) (*AdminKey, error)
	// ListAdminKeys returns all admin keys, for iteration-based Argon2id
	// verification when the direct hash lookup misses.
	ListAdminKeys(ctx context.Context) ([]*AdminKey, error)
}

// Cache is the read-concurrent, write-exclusive in-process cache consulted
// before Store on every request. Implementations must serialize concurrent
// reloads of the same key to avoid a thundering herd on cache miss.
type Cache interface {
	// Get returns the cached record for id, or (nil, false) on a miss.
	Get(id string) (*Record, bool)
	// Set stores a record with the cache's configured TTL.
	Set(id string, rec *Record)
	// Invalidate removes id from the cache immediately (called by the
	// management API on any mutation).
	Invalidate(id string)
}
