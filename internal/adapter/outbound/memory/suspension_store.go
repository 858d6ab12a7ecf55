package memory

import (
	"context"
	"sync"

	"github.com/Edge-Lockdown/edgelockdown/internal/domain/policy"
)

// SuspensionStore implements policy.SuspensionStore with an in-memory map.
// Records are lost on process exit; disable then falls back to synthesized
// conflict rule definitions.
type SuspensionStore struct {
	mu      sync.RWMutex
	records map[policy.Scope]*policy.Suspension
}

// NewSuspensionStore creates an empty in-memory suspension store.
func NewSuspensionStore() *SuspensionStore {
	return &SuspensionStore{records: make(map[policy.Scope]*policy.Suspension)}
}

// Save records the suspension for its scope, replacing any previous record.
func (s *SuspensionStore) Save(_ context.Context, susp *policy.Suspension) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[susp.Scope] = susp.Clone()
	return nil
}

// Load returns a deep copy of the scope's record, or (nil, nil) when absent.
func (s *SuspensionStore) Load(_ context.Context, scope policy.Scope) (*policy.Suspension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[scope].Clone(), nil
}

// Clear removes the scope's record.
func (s *SuspensionStore) Clear(_ context.Context, scope policy.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, scope)
	return nil
}
