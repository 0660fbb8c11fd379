// Provides addressing of nested values inside a document.

package jsonv

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrPath is returned when a path does not resolve against a document.
var ErrPath = errors.New("invalid json path")

// PathElem is one step of a Path: an object key or an array index.
type PathElem struct {
	Key     string
	Index   int
	IsIndex bool
}

// Path addresses a value nested inside a document. The empty Path is the
// document root.
type Path []PathElem

// Root is the empty path.
var Root = Path(nil)

// Field returns p extended with an object key.
func (p Path) Field(key string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, PathElem{Key: key})
}

// At returns p extended with an array index.
func (p Path) At(i int) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, PathElem{Index: i, IsIndex: true})
}

// ParsePath parses a dotted path such as "render.layers.0.name". Purely
// numeric elements are array indexes. The empty string is the root.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return Root, nil
	}
	var p Path
	for part := range strings.SplitSeq(s, ".") {
		if part == "" {
			return nil, fmt.Errorf("%w: empty element in %q", ErrPath, s)
		}
		if i, err := strconv.Atoi(part); err == nil && i >= 0 {
			p = p.At(i)
			continue
		}
		p = p.Field(part)
	}
	return p, nil
}

// String returns the dotted form of p.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, e := range p {
		if e.IsIndex {
			parts[i] = strconv.Itoa(e.Index)
		} else {
			parts[i] = e.Key
		}
	}
	return strings.Join(parts, ".")
}

// Lookup returns the value at p.
func (v Value) Lookup(p Path) (Value, error) {
	cur := v
	for i, e := range p {
		var (
			next Value
			ok   bool
		)
		if e.IsIndex {
			next, ok = cur.Index(e.Index)
		} else {
			next, ok = cur.Get(e.Key)
		}
		if !ok {
			return Value{}, fmt.Errorf("%w: %q does not resolve", ErrPath, p[:i+1].String())
		}
		cur = next
	}
	return cur, nil
}

// Update replaces the value at p with fn applied to it and returns the new
// document. Containers along the path are modified in place, so callers
// should operate on a clone.
func (v Value) Update(p Path, fn func(Value) (Value, error)) (Value, error) {
	if len(p) == 0 {
		return fn(v)
	}
	e := p[0]
	if e.IsIndex {
		child, ok := v.Index(e.Index)
		if !ok {
			return Value{}, fmt.Errorf("%w: index %d out of range", ErrPath, e.Index)
		}
		nv, err := child.Update(p[1:], fn)
		if err != nil {
			return Value{}, err
		}
		v.arr[e.Index] = nv
		return v, nil
	}
	child, ok := v.Get(e.Key)
	if !ok {
		return Value{}, fmt.Errorf("%w: missing key %q", ErrPath, e.Key)
	}
	nv, err := child.Update(p[1:], fn)
	if err != nil {
		return Value{}, err
	}
	v.obj.Set(e.Key, nv)
	return v, nil
}

// InsertAt returns the array v with item inserted before index i.
func (v Value) InsertAt(i int, item Value) (Value, error) {
	if v.kind != KindArray {
		return Value{}, fmt.Errorf("%w: not an array", ErrPath)
	}
	if i < 0 || i > len(v.arr) {
		return Value{}, fmt.Errorf("%w: index %d out of range", ErrPath, i)
	}
	items := make([]Value, 0, len(v.arr)+1)
	items = append(items, v.arr[:i]...)
	items = append(items, item)
	items = append(items, v.arr[i:]...)
	return Array(items...), nil
}

// SetAt returns the array v with index i replaced.
func (v Value) SetAt(i int, item Value) (Value, error) {
	if v.kind != KindArray {
		return Value{}, fmt.Errorf("%w: not an array", ErrPath)
	}
	if i < 0 || i >= len(v.arr) {
		return Value{}, fmt.Errorf("%w: index %d out of range", ErrPath, i)
	}
	v.arr[i] = item
	return v, nil
}
