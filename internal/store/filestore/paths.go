package filestore

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/tumblehead/pipedb/internal/store"
	"github.com/tumblehead/pipedb/internal/uri"
)

const ext = ".json"

// layout maps URIs to paths under a root directory:
//
//	entity:/shots/010/020  <->  <root>/entity/shots/010/020.json
type layout struct {
	root string
}

// File returns the document path of u.
func (l layout) File(u uri.URI) string {
	segs := u.Segments()
	parts := make([]string, 0, len(segs)+2)
	parts = append(parts, l.root, u.Purpose())
	parts = append(parts, segs[:len(segs)-1]...)
	parts = append(parts, segs[len(segs)-1]+ext)
	return filepath.Join(parts...)
}

// Slash returns the document path of u relative to the root, with forward
// slashes.
func (l layout) Slash(u uri.URI) string {
	segs := u.Segments()
	return path.Join(append([]string{u.Purpose()}, segs...)...) + ext
}

// Dir returns the directory holding the documents below u.
func (l layout) Dir(u uri.URI) string {
	parts := append([]string{l.root, u.Purpose()}, u.Segments()...)
	return filepath.Join(parts...)
}

func (l layout) rel(path string) ([]string, error) {
	rel, err := filepath.Rel(l.root, path)
	if err != nil {
		return nil, err
	}
	if rel == "." {
		return nil, nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%s is outside %s", path, l.root)
	}
	return strings.Split(rel, string(filepath.Separator)), nil
}

// Ignored reports whether path has a component starting with a dot below the
// root. Git metadata and in-flight temporary files live there.
func (l layout) Ignored(path string) bool {
	parts, err := l.rel(path)
	if err != nil {
		return true
	}
	for _, p := range parts {
		if strings.HasPrefix(p, ".") {
			return true
		}
	}
	return false
}

// FileURI returns the URI of a document path.
func (l layout) FileURI(path string) (uri.URI, error) {
	parts, err := l.rel(path)
	if err != nil {
		return uri.URI{}, fmt.Errorf("%w: %w", store.ErrInvalidURI, err)
	}
	if len(parts) < 2 || !strings.HasSuffix(parts[len(parts)-1], ext) {
		return uri.URI{}, fmt.Errorf("%w: %s is not a document path", store.ErrInvalidURI, path)
	}
	parts[len(parts)-1] = strings.TrimSuffix(parts[len(parts)-1], ext)
	return uri.New(parts[0], parts[1:]...)
}

// DirURI returns the URI whose documents live in dir. A purpose directory
// maps to the purpose root.
func (l layout) DirURI(dir string) (uri.URI, error) {
	parts, err := l.rel(dir)
	if err != nil {
		return uri.URI{}, fmt.Errorf("%w: %w", store.ErrInvalidURI, err)
	}
	if len(parts) == 0 {
		return uri.URI{}, fmt.Errorf("%w: %s is the store root", store.ErrInvalidURI, dir)
	}
	return uri.New(parts[0], parts[1:]...)
}
