package policy

import (
	"context"
	"errors"
)

// Error types for remote store operations. Adapters translate their wire
// errors into these so callers can branch with errors.Is.
var (
	// ErrNotFound indicates the document or address set does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict indicates a conditional write lost to a concurrent
	// writer: the supplied version token is stale.
	ErrVersionConflict = errors.New("version conflict")
	// ErrUnavailable indicates the remote store could not be reached or
	// answered with a transient server-side failure.
	ErrUnavailable = errors.New("remote store unavailable")
)

// DocumentInfo is the discovery listing entry for one policy document.
type DocumentInfo struct {
	// Scope identifies the document.
	Scope Scope
	// DefaultAction is the document's current default action.
	DefaultAction Action
	// RuleCount is the number of rules in the document.
	RuleCount int
}

// AddressSetInfo is the discovery listing entry for one address set.
type AddressSetInfo struct {
	// Realm the set belongs to.
	Realm Realm
	// Name of the set, unique within the realm.
	Name string
	// IPVersion of every entry in the set.
	IPVersion IPVersion
	// Ref is the opaque store-issued reference.
	Ref AddressSetRef
}

// Store is the remote policy store contract. Every write is conditional on
// a version token (compare-and-swap); the token is the only cross-process
// synchronization primitive. Each call is a single atomic remote operation;
// implementations must not retry internally.
type Store interface {
	// GetDocument fetches the document for a scope, including its current
	// version token. Returns ErrNotFound when the scope has no document.
	GetDocument(ctx context.Context, scope Scope) (*Document, error)

	// PutDocument submits a conditional full-document write using the given
	// version token and returns the new token. Returns ErrVersionConflict
	// when the token is stale.
	PutDocument(ctx context.Context, doc *Document, version string) (string, error)

	// ListDocuments lists documents in a realm for scope discovery.
	ListDocuments(ctx context.Context, realm Realm) ([]DocumentInfo, error)

	// GetAddressSet fetches an address set by realm and name, including its
	// version token and opaque reference.
	GetAddressSet(ctx context.Context, realm Realm, name string) (*AddressSet, error)

	// CreateAddressSet creates a new address set and returns it with the
	// store-issued reference and initial version token.
	CreateAddressSet(ctx context.Context, realm Realm, set *AddressSet) (*AddressSet, error)

	// PutAddressSet submits a conditional address set update using the given
	// version token and returns the new token.
	PutAddressSet(ctx context.Context, realm Realm, set *AddressSet, version string) (string, error)

	// DeleteAddressSet removes an address set conditionally on its version
	// token. Returns ErrNotFound when the set does not exist.
	DeleteAddressSet(ctx context.Context, realm Realm, name string, version string) error

	// ListAddressSets lists address sets in a realm.
	ListAddressSets(ctx context.Context, realm Realm) ([]AddressSetInfo, error)
}
