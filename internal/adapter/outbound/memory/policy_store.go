// Package memory provides in-memory implementations of outbound ports,
// useful for tests and for running the gateway without a database.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ailink/gateway/internal/domain/policy"
)

// ErrPolicyNotFound is returned when a policy ID does not exist.
var ErrPolicyNotFound = errors.New("policy not found")

// PolicyStore implements policy.Store with in-memory maps. Safe for
// concurrent use; every read returns a deep copy so callers can't mutate
// the store's own state through an evaluated Decision.
type PolicyStore struct {
	mu         sync.RWMutex
	policies   map[string]*policy.Policy
	tokenLinks map[string][]string // token ID -> ordered policy IDs
}

// NewPolicyStore creates an empty PolicyStore.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{
		policies:   make(map[string]*policy.Policy),
		tokenLinks: make(map[string][]string),
	}
}

// GetEnabledForToken returns every enabled policy linked to tokenID via
// AttachToToken, in link order.
func (s *PolicyStore) GetEnabledForToken(_ context.Context, tokenID string) ([]policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []policy.Policy
	for _, id := range s.tokenLinks[tokenID] {
		if p, ok := s.policies[id]; ok && p.Enabled {
			out = append(out, *copyPolicy(p))
		}
	}
	return out, nil
}

// GetPolicy returns a policy by ID.
func (s *PolicyStore) GetPolicy(_ context.Context, id string) (*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	return copyPolicy(p), nil
}

// SavePolicy creates a new version of a policy: a fresh row with
// Version+1, never an in-place mutation of the stored rules.
func (s *PolicyStore) SavePolicy(_ context.Context, p *policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.policies[p.ID]; ok {
		p.Version = existing.Version + 1
	} else if p.Version == 0 {
		p.Version = 1
	}
	s.policies[p.ID] = copyPolicy(p)
	return nil
}

// DeletePolicy removes a policy by ID.
func (s *PolicyStore) DeletePolicy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[id]; !ok {
		return ErrPolicyNotFound
	}
	delete(s.policies, id)
	return nil
}

// AttachToToken links policyID to tokenID for GetEnabledForToken, in the
// order it should be evaluated. Used by the management API when a token
// is created or updated with a new PolicyIDs list.
func (s *PolicyStore) AttachToToken(tokenID string, policyIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	links := make([]string, len(policyIDs))
	copy(links, policyIDs)
	s.tokenLinks[tokenID] = links
}

func copyPolicy(p *policy.Policy) *policy.Policy {
	cp := &policy.Policy{
		ID:          p.ID,
		ProjectID:   p.ProjectID,
		Name:        p.Name,
		Description: p.Description,
		Mode:        p.Mode,
		Phase:       p.Phase,
		Version:     p.Version,
		Enabled:     p.Enabled,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		Rules:       make([]policy.Rule, len(p.Rules)),
	}
	copy(cp.Rules, p.Rules)
	return cp
}

// Compile-time interface verification.
var _ policy.Store = (*PolicyStore)(nil)
