// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sync"

	"github.com/ailink/gateway/internal/domain/upstream"
)

// UpstreamStore implements upstream.Store with in-memory maps, keyed by
// (projectID, name) for services and (projectID, alias) for model
// aliases. Thread-safe via sync.RWMutex; returns deep copies so callers
// can't mutate the store's own state.
type UpstreamStore struct {
	mu       sync.RWMutex
	services map[upstreamKey]*upstream.Service
	aliases  map[upstreamKey]*upstream.ModelAlias
}

type upstreamKey struct {
	projectID string
	name      string
}

// NewUpstreamStore creates an empty UpstreamStore.
func NewUpstreamStore() *UpstreamStore {
	return &UpstreamStore{
		services: make(map[upstreamKey]*upstream.Service),
		aliases:  make(map[upstreamKey]*upstream.ModelAlias),
	}
}

// ListServices returns every service registered for projectID.
func (s *UpstreamStore) ListServices(_ context.Context, projectID string) ([]upstream.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []upstream.Service
	for k, svc := range s.services {
		if k.projectID == projectID {
			out = append(out, *svc)
		}
	}
	return out, nil
}

// GetService returns the named service within projectID.
func (s *UpstreamStore) GetService(_ context.Context, projectID, name string) (*upstream.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[upstreamKey{projectID, name}]
	if !ok {
		return nil, upstream.ErrNotFound
	}
	cp := *svc
	return &cp, nil
}

// SaveService creates or replaces a service. Renaming a service (same ID,
// new Name) leaves the old name's row in place; callers that rename must
// delete the old name explicitly.
func (s *UpstreamStore) SaveService(_ context.Context, svc *upstream.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := upstreamKey{svc.ProjectID, svc.Name}
	if existing, ok := s.services[key]; ok && existing.ID != svc.ID {
		return upstream.ErrDuplicateName
	}
	cp := *svc
	s.services[key] = &cp
	return nil
}

// DeleteService removes a service by its project-scoped name.
func (s *UpstreamStore) DeleteService(_ context.Context, projectID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := upstreamKey{projectID, name}
	if _, ok := s.services[key]; !ok {
		return upstream.ErrNotFound
	}
	delete(s.services, key)
	return nil
}

// ListModelAliases returns every alias registered for projectID.
func (s *UpstreamStore) ListModelAliases(_ context.Context, projectID string) ([]upstream.ModelAlias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []upstream.ModelAlias
	for k, a := range s.aliases {
		if k.projectID == projectID {
			out = append(out, *a)
		}
	}
	return out, nil
}

// GetModelAlias returns the named alias within projectID.
func (s *UpstreamStore) GetModelAlias(_ context.Context, projectID, alias string) (*upstream.ModelAlias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.aliases[upstreamKey{projectID, alias}]
	if !ok {
		return nil, upstream.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// SaveModelAlias creates or replaces a model alias.
func (s *UpstreamStore) SaveModelAlias(_ context.Context, alias *upstream.ModelAlias) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *alias
	s.aliases[upstreamKey{alias.ProjectID, alias.Alias}] = &cp
	return nil
}

// DeleteModelAlias removes an alias by its project-scoped name.
func (s *UpstreamStore) DeleteModelAlias(_ context.Context, projectID, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := upstreamKey{projectID, alias}
	if _, ok := s.aliases[key]; !ok {
		return upstream.ErrNotFound
	}
	delete(s.aliases, key)
	return nil
}

// Compile-time interface verification.
var _ upstream.Store = (*UpstreamStore)(nil)
