// Package uri implements the hierarchical addresses used by the pipeline store.
//
// A URI is a purpose (the top-level namespace, e.g. "entity" or "schemas")
// followed by an ordered list of segments:
//
//	entity:/shots/010/010
//	schemas:/entity/assets/*
//	groups:/
//
// Every segment but the last is a section (a traversable node); the last is
// an item (a leaf). A segment equal to "*" is a wildcard and matches any name
// at that depth, or the remainder of the path when it is the last segment.
// Wildcards are only meaningful in queries.
package uri

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Wildcard is the segment literal matching any name.
const Wildcard = "*"

// ErrInvalid is returned for malformed URIs and URIs that cannot be used for
// the requested operation.
var ErrInvalid = errors.New("invalid uri")

// URI is an immutable hierarchical address.
//
// The zero value is not a valid URI.
type URI struct {
	purpose  string
	segments []string
}

// Parse parses "<purpose>:/<seg1>/.../<segN>".
func Parse(raw string) (URI, error) {
	purpose, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return URI{}, fmt.Errorf("%w %q: missing purpose", ErrInvalid, raw)
	}
	if !ValidName(purpose) {
		return URI{}, fmt.Errorf("%w %q: bad purpose", ErrInvalid, raw)
	}
	if !strings.HasPrefix(rest, "/") {
		return URI{}, fmt.Errorf("%w %q: path must start with /", ErrInvalid, raw)
	}
	if rest == "/" {
		return URI{purpose: purpose}, nil
	}
	parts := strings.Split(rest[1:], "/")
	for _, p := range parts {
		if p != Wildcard && !ValidName(p) {
			return URI{}, fmt.Errorf("%w %q: bad segment %q", ErrInvalid, raw, p)
		}
	}
	return URI{purpose: purpose, segments: parts}, nil
}

// MustParse is like Parse but panics on malformed input. Use it only for
// literals known to be well formed.
func MustParse(raw string) URI {
	u, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// New builds a URI from a purpose and segments.
func New(purpose string, segments ...string) (URI, error) {
	if !ValidName(purpose) {
		return URI{}, fmt.Errorf("%w: bad purpose %q", ErrInvalid, purpose)
	}
	return URI{purpose: purpose}.Join(segments...)
}

// ValidName reports whether name is a non-empty run of ASCII letters, digits
// and underscores.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for i := range len(name) {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return false
		}
	}
	return true
}

// Join returns u with names appended. Each name must be valid or "*".
func (u URI) Join(names ...string) (URI, error) {
	for _, n := range names {
		if n != Wildcard && !ValidName(n) {
			return URI{}, fmt.Errorf("%w: bad segment %q", ErrInvalid, n)
		}
	}
	segs := make([]string, 0, len(u.segments)+len(names))
	segs = append(segs, u.segments...)
	segs = append(segs, names...)
	return URI{purpose: u.purpose, segments: segs}, nil
}

// MustJoin is like Join but panics on invalid names.
func (u URI) MustJoin(names ...string) URI {
	v, err := u.Join(names...)
	if err != nil {
		panic(err)
	}
	return v
}

// Purpose returns the top-level namespace.
func (u URI) Purpose() string {
	return u.purpose
}

// Segments returns a copy of the segment names, root to leaf.
func (u URI) Segments() []string {
	return append([]string(nil), u.segments...)
}

// Parts returns the purpose and segments.
func (u URI) Parts() (string, []string) {
	return u.purpose, u.Segments()
}

// Len returns the number of segments.
func (u URI) Len() int {
	return len(u.segments)
}

// Last returns the leaf segment, or "" for a root URI.
func (u URI) Last() string {
	if len(u.segments) == 0 {
		return ""
	}
	return u.segments[len(u.segments)-1]
}

// IsZero reports whether u is the zero value.
func (u URI) IsZero() bool {
	return u.purpose == ""
}

// IsRoot reports whether u has no segments.
func (u URI) IsRoot() bool {
	return len(u.segments) == 0
}

// IsWild reports whether any segment is a wildcard.
func (u URI) IsWild() bool {
	for _, s := range u.segments {
		if s == Wildcard {
			return true
		}
	}
	return false
}

// Parent returns u without its last segment. It returns false for a root URI.
func (u URI) Parent() (URI, bool) {
	if len(u.segments) == 0 {
		return u, false
	}
	return URI{purpose: u.purpose, segments: u.segments[: len(u.segments)-1 : len(u.segments)-1]}, true
}

// Ancestors returns the purpose root, each longer prefix, and u itself.
func (u URI) Ancestors() []URI {
	out := make([]URI, 0, len(u.segments)+1)
	for i := 0; i <= len(u.segments); i++ {
		out = append(out, URI{purpose: u.purpose, segments: u.segments[:i:i]})
	}
	return out
}

// Contains reports whether other is a strict descendant of u.
func (u URI) Contains(other URI) bool {
	if u.purpose != other.purpose || len(u.segments) >= len(other.segments) {
		return false
	}
	for i, s := range u.segments {
		if other.segments[i] != s {
			return false
		}
	}
	return true
}

// Equal reports structural equality.
func (u URI) Equal(other URI) bool {
	if u.purpose != other.purpose || len(u.segments) != len(other.segments) {
		return false
	}
	for i, s := range u.segments {
		if other.segments[i] != s {
			return false
		}
	}
	return true
}

// DisplayName returns a short human label, e.g. "010/020" for
// entity:/shots/010/020.
func (u URI) DisplayName() string {
	if len(u.segments) >= 3 {
		return u.segments[1] + "/" + u.segments[2]
	}
	return strings.Join(u.segments, "/")
}

// String formats u as "<purpose>:/<seg1>/.../<segN>".
func (u URI) String() string {
	return u.purpose + ":/" + strings.Join(u.segments, "/")
}

// MarshalText implements encoding.TextMarshaler.
func (u URI) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *URI) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Pattern returns the anchored regular expression matching the string form of
// every concrete URI addressed by u. Concrete segments are literals, a
// wildcard before the last segment matches exactly one path element, and a
// trailing wildcard matches the rest of the path.
func (u URI) Pattern() string {
	var b strings.Builder
	b.WriteString("^")
	b.WriteString(regexp.QuoteMeta(u.purpose + ":/"))
	for i, s := range u.segments {
		if i > 0 {
			b.WriteString("/")
		}
		switch {
		case s != Wildcard:
			b.WriteString(regexp.QuoteMeta(s))
		case i == len(u.segments)-1:
			b.WriteString(".*")
		default:
			b.WriteString("[^/]+")
		}
	}
	b.WriteString("$")
	return b.String()
}

// Regexp compiles Pattern.
func (u URI) Regexp() *regexp.Regexp {
	return regexp.MustCompile(u.Pattern())
}
