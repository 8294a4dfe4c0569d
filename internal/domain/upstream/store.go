package upstream

import (
	"context"
	"errors"
)

// Sentinel errors for upstream registry operations.
var (
	ErrNotFound      = errors.New("upstream: not found")
	ErrDuplicateName = errors.New("upstream: duplicate name")
)

// Store provides CRUD operations for the Service and ModelAlias
// registries. This is a port (interface) in the hexagonal architecture;
// implementations: in-memory (tests), sqlite (production).
type Store interface {
	ListServices(ctx context.Context, projectID string) ([]Service, error)
	GetService(ctx context.Context, projectID, name string) (*Service, error)
	SaveService(ctx context.Context, svc *Service) error
	DeleteService(ctx context.Context, projectID, name string) error

	ListModelAliases(ctx context.Context, projectID string) ([]ModelAlias, error)
	GetModelAlias(ctx context.Context, projectID, alias string) (*ModelAlias, error)
	SaveModelAlias(ctx context.Context, alias *ModelAlias) error
	DeleteModelAlias(ctx context.Context, projectID, alias string) error
}
