package store

import (
	"context"
	"sync"

	"github.com/tumblehead/pipedb/internal/jsonv"
	"github.com/tumblehead/pipedb/internal/uri"
)

// node is one element of a purpose tree. A node may hold a datum, children or
// both: "entity:/shots" and "entity:/shots/010" can both be documents, the
// same way "shots.json" and "shots/" can live side by side on disk. Purpose
// roots never hold a datum.
type node struct {
	children map[string]*node
	datum    jsonv.Value
	has      bool
}

func newNode() *node {
	return &node{children: map[string]*node{}}
}

func (n *node) empty() bool {
	return !n.has && len(n.children) == 0
}

// MemoryStore is a Store over nested in-memory maps, one tree per purpose.
//
// Every value crossing the API is deep-copied, so callers never alias the
// tree. Empty sections are kept after Delete.
type MemoryStore struct {
	mu    sync.RWMutex
	roots map[string]*node
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{roots: map[string]*node{}}
}

// Close implements io.Closer. It is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// walk returns the node addressed by u, or nil when a segment is missing.
// With create set, missing nodes are added.
func (m *MemoryStore) walk(u uri.URI, create bool) *node {
	cur := m.roots[u.Purpose()]
	if cur == nil {
		if !create {
			return nil
		}
		cur = newNode()
		m.roots[u.Purpose()] = cur
	}
	for _, s := range u.Steps() {
		next := cur.children[s.Name]
		if next == nil {
			if !create {
				return nil
			}
			next = newNode()
			cur.children[s.Name] = next
		}
		cur = next
	}
	return cur
}

// Insert implements Store.
func (m *MemoryStore) Insert(ctx context.Context, u uri.URI, datum jsonv.Value) error {
	if err := RequireConcrete(u); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := m.walk(u, false); n != nil && n.has {
		return AlreadyExists(u)
	}
	n := m.walk(u, true)
	n.datum = datum.Clone()
	n.has = true
	return nil
}

// Update implements Store.
func (m *MemoryStore) Update(ctx context.Context, u uri.URI, datum jsonv.Value) error {
	if err := RequireConcrete(u); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.walk(u, false)
	if n == nil || !n.has {
		return NotFound(u)
	}
	n.datum = datum.Clone()
	return nil
}

// Rename implements Store. Missing sections of dst are created.
func (m *MemoryStore) Rename(ctx context.Context, src, dst uri.URI) error {
	if err := RequireConcrete(src); err != nil {
		return err
	}
	if err := RequireConcrete(dst); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.walk(src, false)
	if from == nil || !from.has {
		return NotFound(src)
	}
	if to := m.walk(dst, false); to != nil && to.has {
		return AlreadyExists(dst)
	}
	to := m.walk(dst, true)
	to.datum = from.datum.Clone()
	to.has = true
	m.remove(src, from)
	return nil
}

// remove clears the datum of n and unlinks it from its parent when nothing
// is left under it. Ancestor sections are kept even when they become empty.
func (m *MemoryStore) remove(u uri.URI, n *node) {
	n.datum = jsonv.Null()
	n.has = false
	if !n.empty() {
		return
	}
	parent, _ := u.Parent()
	if p := m.walk(parent, false); p != nil {
		delete(p.children, u.Last())
	}
}

// Delete implements Store. Only the datum at u is removed; documents below u
// are left alone.
func (m *MemoryStore) Delete(ctx context.Context, u uri.URI) ([]uri.URI, error) {
	if err := RequireConcrete(u); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.walk(u, false)
	if n == nil || !n.has {
		return nil, NotFound(u)
	}
	m.remove(u, n)
	return []uri.URI{u}, nil
}

// Lookup implements Store.
func (m *MemoryStore) Lookup(ctx context.Context, u uri.URI) (jsonv.Value, bool, error) {
	if u.IsZero() || u.IsWild() {
		return jsonv.Value{}, false, wrapf(ErrInvalidURI, "lookup of %q", u)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := m.walk(u, false)
	if n == nil || !n.has {
		return jsonv.Value{}, false, nil
	}
	return n.datum.Clone(), true, nil
}

type candidate struct {
	u uri.URI
	n *node
}

// Query implements Store.
//
// Sections fan out step by step: a wildcard section expands to every child
// and a named one narrows to a single child. A named final step selects one
// document; a wildcard final step selects every document below the
// candidates, at any depth.
func (m *MemoryStore) Query(ctx context.Context, u uri.URI, params Params) ([]Entry, error) {
	if u.IsZero() {
		return nil, wrapf(ErrInvalidURI, "empty uri")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	root := m.roots[u.Purpose()]
	if root == nil {
		return nil, nil
	}
	base, _ := uri.New(u.Purpose())
	cands := []candidate{{u: base, n: root}}
	var out []Entry
	for _, s := range u.Steps() {
		var next []candidate
		for _, c := range cands {
			switch s.Kind {
			case uri.NamedSection:
				if child := c.n.children[s.Name]; child != nil {
					next = append(next, candidate{u: c.u.MustJoin(s.Name), n: child})
				}
			case uri.WildcardSection:
				for name, child := range c.n.children {
					next = append(next, candidate{u: c.u.MustJoin(name), n: child})
				}
			case uri.NamedItem:
				if child := c.n.children[s.Name]; child != nil && child.has {
					out = appendMatch(out, c.u.MustJoin(s.Name), child.datum, params)
				}
			case uri.WildcardItem:
				out = collect(out, c.u, c.n, params)
			}
		}
		cands = next
	}
	SortEntries(out)
	return out, nil
}

func appendMatch(out []Entry, u uri.URI, datum jsonv.Value, params Params) []Entry {
	if !datum.Matches(params) {
		return out
	}
	return append(out, Entry{URI: u, Datum: datum.Clone()})
}

// collect appends every document strictly below n.
func collect(out []Entry, u uri.URI, n *node, params Params) []Entry {
	for name, child := range n.children {
		cu := u.MustJoin(name)
		if child.has {
			out = appendMatch(out, cu, child.datum, params)
		}
		out = collect(out, cu, child, params)
	}
	return out
}

// Walk returns every document strictly below u, ordered by URI. u must not
// be wild; a root URI walks the whole purpose.
func (m *MemoryStore) Walk(u uri.URI) ([]Entry, error) {
	if u.IsZero() || u.IsWild() {
		return nil, wrapf(ErrInvalidURI, "walk of %q", u)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := m.walk(u, false)
	if n == nil {
		return nil, nil
	}
	out := collect(nil, u, n, nil)
	SortEntries(out)
	return out, nil
}

// Len returns the number of documents across all purposes.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	var count func(*node)
	count = func(n *node) {
		for _, c := range n.children {
			if c.has {
				total++
			}
			count(c)
		}
	}
	for _, r := range m.roots {
		count(r)
	}
	return total
}

// Transact implements Store. The write lock is held for the whole
// read-modify-write.
func (m *MemoryStore) Transact(ctx context.Context, u uri.URI, fn func(Transaction) error) error {
	if err := RequireConcrete(u); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.walk(u, false)
	if n == nil || !n.has {
		return NotFound(u)
	}
	wc := NewWorkingCopy(n.datum)
	if err := fn(wc); err != nil {
		return err
	}
	n.datum = wc.Value()
	return nil
}
