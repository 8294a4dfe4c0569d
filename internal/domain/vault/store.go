package vault

import "context"

// Store persists encrypted credential rows and the rotation log.
// Implementations: in-memory (tests), sqlite (production).
type Store interface {
	// Get returns a credential by ID.
	Get(ctx context.Context, id string) (*Credential, error)
	// Create stores a newly encrypted credential.
	Create(ctx context.Context, c *Credential) error
	// Rotate bumps version on an existing credential and records the
	// rotation event. The prior wrapped form passed in `previous` is
	// retained so in-flight requests using the old DEK still decrypt.
	Rotate(ctx context.Context, c *Credential, previous *Credential, event RotationEvent) error
	// AppendRotationLog records a rotation attempt.
	AppendRotationLog(ctx context.Context, event RotationEvent) error
}
