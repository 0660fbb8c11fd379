// Package store defines the contract shared by every pipeline store backend
// and provides the in-memory reference implementation.
//
// A store maps fully resolved URIs to JSON documents. Wildcard URIs are only
// accepted by Query. Mutations on a missing or conflicting URI fail with one of
// the sentinel errors below rather than silently doing nothing; callers are
// expected to test for ErrNotFound and ErrAlreadyExists with errors.Is to
// drive validation.
package store

import (
	"context"
	"io"
	"sort"

	"github.com/tumblehead/pipedb/internal/jsonv"
	"github.com/tumblehead/pipedb/internal/uri"
)

// Params filters query results: a datum matches when it is an object holding
// every key with an equal value. A nil Params matches everything.
type Params map[string]jsonv.Value

// Entry is one query result.
type Entry struct {
	URI   uri.URI
	Datum jsonv.Value
}

// Store is the hierarchical document store contract.
//
// Implementations must be safe for concurrent use. Values passed in and
// returned are never aliased by the store.
type Store interface {
	// Insert stores datum at u, which must not exist yet.
	Insert(ctx context.Context, u uri.URI, datum jsonv.Value) error
	// Update replaces the datum at u, which must exist.
	Update(ctx context.Context, u uri.URI, datum jsonv.Value) error
	// Rename moves the datum at src to dst. src must exist and dst must not.
	Rename(ctx context.Context, src, dst uri.URI) error
	// Delete removes u and returns the URIs that were removed.
	Delete(ctx context.Context, u uri.URI) ([]uri.URI, error)
	// Lookup returns the datum at u. It reports false instead of failing when
	// nothing is stored there.
	Lookup(ctx context.Context, u uri.URI) (jsonv.Value, bool, error)
	// Query returns every entry addressed by u, which may contain wildcards,
	// filtered by params and ordered by URI.
	Query(ctx context.Context, u uri.URI, params Params) ([]Entry, error)
	// Transact runs fn against the datum at u. Every change made through the
	// Transaction is applied if fn returns nil and discarded otherwise.
	Transact(ctx context.Context, u uri.URI, fn func(Transaction) error) error
}

// Transaction exposes granular mutations of one document. Paths address the
// container being modified, relative to the document root.
type Transaction interface {
	// ArrayInsert inserts v before index i of the array at path.
	ArrayInsert(path jsonv.Path, i int, v jsonv.Value) error
	// ArrayUpdate replaces index i of the array at path.
	ArrayUpdate(path jsonv.Path, i int, v jsonv.Value) error
	// ArrayReorder swaps indexes i and j of the array at path.
	ArrayReorder(path jsonv.Path, i, j int) error
	// ArrayRemove clears index i of the array at path. The slot is left as
	// null; the array is not compacted.
	ArrayRemove(path jsonv.Path, i int) error
	// ObjectInsert sets key in the object at path.
	ObjectInsert(path jsonv.Path, key string, v jsonv.Value) error
	// ObjectUpdate sets key in the object at path.
	ObjectUpdate(path jsonv.Path, key string, v jsonv.Value) error
	// ObjectRename renames key in the object at path. A missing key is
	// ignored.
	ObjectRename(path jsonv.Path, from, to string) error
	// ObjectRemove removes key from the object at path. A missing key is
	// ignored.
	ObjectRemove(path jsonv.Path, key string) error
}

// Backend is a Store holding resources that must be released.
type Backend interface {
	Store
	io.Closer
}

// SortEntries orders entries by URI string.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].URI.String() < entries[j].URI.String()
	})
}

// RequireConcrete returns ErrInvalidURI when u cannot address a single
// document.
func RequireConcrete(u uri.URI) error {
	switch {
	case u.IsZero():
		return wrapf(ErrInvalidURI, "empty uri")
	case u.IsRoot():
		return wrapf(ErrInvalidURI, "%s: root uri addresses no document", u)
	case u.IsWild():
		return wrapf(ErrInvalidURI, "%s: wildcard not allowed", u)
	}
	return nil
}
