package filestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tumblehead/pipedb/internal/store"
	"github.com/tumblehead/pipedb/internal/uri"
)

func TestLayout(t *testing.T) {
	root := filepath.FromSlash("/data/pipe")
	l := layout{root: root}
	j := func(parts ...string) string { return filepath.Join(append([]string{root}, parts...)...) }

	t.Run("file", func(t *testing.T) {
		u := uri.MustParse("entity:/shots/010/020")
		assert.Equal(t, j("entity", "shots", "010", "020.json"), l.File(u))
		assert.Equal(t, j("entity", "shots", "010", "020"), l.Dir(u))
		assert.Equal(t, j("groups", "top.json"), l.File(uri.MustParse("groups:/top")))
		assert.Equal(t, "entity/shots/010/020.json", l.Slash(u))
	})

	t.Run("file uri", func(t *testing.T) {
		tests := []struct {
			path string
			want string
		}{
			{j("entity", "shots", "010", "020.json"), "entity:/shots/010/020"},
			{j("schemas", "entity.json"), "schemas:/entity"},
		}
		for _, tt := range tests {
			u, err := l.FileURI(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		}
		for _, bad := range []string{
			j("top.json"),
			j("entity", "notes.txt"),
			j("entity", "bad-name.json"),
			filepath.FromSlash("/elsewhere/entity/a.json"),
		} {
			_, err := l.FileURI(bad)
			assert.ErrorIs(t, err, store.ErrInvalidURI, bad)
		}
	})

	t.Run("dir uri", func(t *testing.T) {
		u, err := l.DirURI(j("entity", "shots"))
		require.NoError(t, err)
		assert.Equal(t, "entity:/shots", u.String())
		u, err = l.DirURI(j("entity"))
		require.NoError(t, err)
		assert.True(t, u.IsRoot())
		_, err = l.DirURI(root)
		assert.ErrorIs(t, err, store.ErrInvalidURI)
	})

	t.Run("ignored", func(t *testing.T) {
		assert.True(t, l.Ignored(j(".git", "HEAD")))
		assert.True(t, l.Ignored(j("entity", ".a.json.123.tmp")))
		assert.True(t, l.Ignored(j("entity", ".cache", "a.json")))
		assert.True(t, l.Ignored(filepath.FromSlash("/elsewhere/a.json")))
		assert.False(t, l.Ignored(j("entity", "a.json")))
		assert.False(t, l.Ignored(root))
	})
}

func TestEventQueue(t *testing.T) {
	q := newEventQueue()
	for i, k := range []EventKind{FileCreated, FileModified, FileDeleted} {
		require.True(t, q.Enqueue(Event{Kind: k, Path: string(rune('a' + i))}))
	}
	assert.Equal(t, 3, q.Len())
	select {
	case <-q.Wait():
	default:
		t.Fatal("no signal after enqueue")
	}
	for _, want := range []EventKind{FileCreated, FileModified, FileDeleted} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.Kind)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)

	q.Enqueue(Event{Kind: DirCreated})
	q.Close()
	q.Close()
	assert.False(t, q.Enqueue(Event{Kind: DirDeleted}))
	assert.Equal(t, 0, q.Len())
	// Wait is closed, so draining it terminates.
	for range q.Wait() {
	}
}
