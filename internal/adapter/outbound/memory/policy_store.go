// Package memory provides in-memory implementations of the outbound store
// contracts. Thread-safe, with real compare-and-swap version semantics.
// For development and testing only.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/Edge-Lockdown/edgelockdown/internal/domain/policy"
)

// addrSetKey keys address sets by realm and name.
type addrSetKey struct {
	realm policy.Realm
	name  string
}

// PolicyStore implements policy.Store with in-memory maps. Writes follow the
// same token-CAS discipline as the remote store: a stale version token is
// rejected with policy.ErrVersionConflict, which makes the store usable for
// concurrency tests.
type PolicyStore struct {
	mu       sync.Mutex
	docs     map[policy.Scope]*policy.Document
	sets     map[addrSetKey]*policy.AddressSet
	versions uint64
}

// NewPolicyStore creates an empty in-memory policy store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{
		docs: make(map[policy.Scope]*policy.Document),
		sets: make(map[addrSetKey]*policy.AddressSet),
	}
}

// SeedDocument installs a document with a fresh version token, bypassing CAS.
// Test setup helper.
func (s *PolicyStore) SeedDocument(doc *policy.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := doc.Clone()
	d.Version = s.nextVersionLocked()
	s.docs[d.Scope] = d
}

// GetDocument returns a deep copy of the scope's document.
func (s *PolicyStore) GetDocument(_ context.Context, scope policy.Scope) (*policy.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[scope]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", scope, policy.ErrNotFound)
	}
	return doc.Clone(), nil
}

// PutDocument replaces the scope's document when the version token matches.
func (s *PolicyStore) PutDocument(_ context.Context, doc *policy.Document, version string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.docs[doc.Scope]
	if !ok {
		return "", fmt.Errorf("document %s: %w", doc.Scope, policy.ErrNotFound)
	}
	if current.Version != version {
		return "", fmt.Errorf("document %s: %w", doc.Scope, policy.ErrVersionConflict)
	}
	stored := doc.Clone()
	stored.Version = s.nextVersionLocked()
	s.docs[doc.Scope] = stored
	return stored.Version, nil
}

// ListDocuments lists documents in a realm, sorted by name.
func (s *PolicyStore) ListDocuments(_ context.Context, realm policy.Realm) ([]policy.DocumentInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var infos []policy.DocumentInfo
	for scope, doc := range s.docs {
		if scope.Realm != realm {
			continue
		}
		infos = append(infos, policy.DocumentInfo{
			Scope:         scope,
			DefaultAction: doc.DefaultAction,
			RuleCount:     len(doc.Rules),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Scope.Name < infos[j].Scope.Name })
	return infos, nil
}

// GetAddressSet returns a deep copy of the named address set.
func (s *PolicyStore) GetAddressSet(_ context.Context, realm policy.Realm, name string) (*policy.AddressSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[addrSetKey{realm, name}]
	if !ok {
		return nil, fmt.Errorf("address set %s/%s: %w", realm, name, policy.ErrNotFound)
	}
	return set.Clone(), nil
}

// CreateAddressSet creates a new address set. Creating an existing name is a
// conflict, matching the remote store's behavior under a create race.
func (s *PolicyStore) CreateAddressSet(_ context.Context, realm policy.Realm, set *policy.AddressSet) (*policy.AddressSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := addrSetKey{realm, set.Name}
	if _, ok := s.sets[key]; ok {
		return nil, fmt.Errorf("address set %s/%s exists: %w", realm, set.Name, policy.ErrVersionConflict)
	}
	stored := set.Clone()
	stored.Ref = policy.AddressSetRef("ref:" + string(realm) + "/" + set.Name)
	stored.Version = s.nextVersionLocked()
	s.sets[key] = stored
	return stored.Clone(), nil
}

// PutAddressSet replaces the set's addresses when the version token matches.
func (s *PolicyStore) PutAddressSet(_ context.Context, realm policy.Realm, set *policy.AddressSet, version string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := addrSetKey{realm, set.Name}
	current, ok := s.sets[key]
	if !ok {
		return "", fmt.Errorf("address set %s/%s: %w", realm, set.Name, policy.ErrNotFound)
	}
	if current.Version != version {
		return "", fmt.Errorf("address set %s/%s: %w", realm, set.Name, policy.ErrVersionConflict)
	}
	stored := set.Clone()
	stored.Ref = current.Ref
	stored.Version = s.nextVersionLocked()
	s.sets[key] = stored
	return stored.Version, nil
}

// DeleteAddressSet removes the set when the version token matches.
func (s *PolicyStore) DeleteAddressSet(_ context.Context, realm policy.Realm, name string, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := addrSetKey{realm, name}
	current, ok := s.sets[key]
	if !ok {
		return fmt.Errorf("address set %s/%s: %w", realm, name, policy.ErrNotFound)
	}
	if current.Version != version {
		return fmt.Errorf("address set %s/%s: %w", realm, name, policy.ErrVersionConflict)
	}
	delete(s.sets, key)
	return nil
}

// ListAddressSets lists address sets in a realm, sorted by name.
func (s *PolicyStore) ListAddressSets(_ context.Context, realm policy.Realm) ([]policy.AddressSetInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var infos []policy.AddressSetInfo
	for key, set := range s.sets {
		if key.realm != realm {
			continue
		}
		infos = append(infos, policy.AddressSetInfo{
			Realm:     key.realm,
			Name:      set.Name,
			IPVersion: set.IPVersion,
			Ref:       set.Ref,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// nextVersionLocked issues a fresh monotonic version token.
func (s *PolicyStore) nextVersionLocked() string {
	s.versions++
	return "v" + strconv.FormatUint(s.versions, 10)
}
