package filestore

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) has(want Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.events, want)
}

func TestWatchSource(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "entity", "shots"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))

	rec := &recorder{}
	src := NewWatchSource(nil)
	require.NoError(t, src.Start(t.Context(), root, rec.emit))
	t.Cleanup(func() { _ = src.Close() })
	// root, entity, entity/shots; .git is skipped.
	require.Equal(t, 3, src.WatchedDirs())

	wait := func(want Event) {
		t.Helper()
		require.Eventually(t, func() bool { return rec.has(want) }, 5*time.Second, 10*time.Millisecond, "waiting for %s", want)
	}

	shots := filepath.Join(root, "entity", "shots")
	a := filepath.Join(shots, "a.json")
	require.NoError(t, os.WriteFile(a, []byte(`{}`), 0o644))
	wait(Event{Kind: FileCreated, Path: a})
	wait(Event{Kind: FileModified, Path: a})

	b := filepath.Join(shots, "b.json")
	require.NoError(t, os.Rename(a, b))
	wait(Event{Kind: FileMoved, Path: a, Dest: b})

	seq := filepath.Join(shots, "010")
	require.NoError(t, os.Mkdir(seq, 0o755))
	wait(Event{Kind: DirCreated, Path: seq})
	require.Eventually(t, func() bool { return src.WatchedDirs() == 4 }, 5*time.Second, 10*time.Millisecond)

	// The new directory is watched.
	c := filepath.Join(seq, "c.json")
	require.NoError(t, os.WriteFile(c, []byte(`{}`), 0o644))
	wait(Event{Kind: FileCreated, Path: c})

	require.NoError(t, os.Remove(b))
	wait(Event{Kind: FileDeleted, Path: b})

	require.NoError(t, os.Remove(c))
	require.NoError(t, os.Remove(seq))
	wait(Event{Kind: DirDeleted, Path: seq})
	require.Eventually(t, func() bool { return src.WatchedDirs() == 3 }, 5*time.Second, 10*time.Millisecond)

	// A rename out of the tree is reported as a deletion once the move
	// window expires.
	d := filepath.Join(shots, "d.json")
	require.NoError(t, os.WriteFile(d, []byte(`{}`), 0o644))
	wait(Event{Kind: FileCreated, Path: d})
	require.NoError(t, os.Rename(d, filepath.Join(t.TempDir(), "d.json")))
	wait(Event{Kind: FileDeleted, Path: d})

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
}

func TestWatchSourceUnrelatedCreate(t *testing.T) {
	root := t.TempDir()
	shots := filepath.Join(root, "entity", "shots")
	require.NoError(t, os.MkdirAll(shots, 0o755))
	a := filepath.Join(shots, "a.json")
	require.NoError(t, os.WriteFile(a, []byte(`{}`), 0o644))

	rec := &recorder{}
	src := &WatchSource{MoveWindow: time.Second}
	require.NoError(t, src.Start(t.Context(), root, rec.emit))
	t.Cleanup(func() { _ = src.Close() })

	// The long window makes sure the mkdir lands while the rename is pending.
	require.NoError(t, os.Rename(a, filepath.Join(t.TempDir(), "a.json")))
	seq := filepath.Join(shots, "010")
	require.NoError(t, os.Mkdir(seq, 0o755))

	for _, want := range []Event{{Kind: FileDeleted, Path: a}, {Kind: DirCreated, Path: seq}} {
		require.Eventually(t, func() bool { return rec.has(want) }, 5*time.Second, 10*time.Millisecond, "waiting for %s", want)
	}
	require.False(t, rec.has(Event{Kind: DirMoved, Path: a, Dest: seq}))
	require.Eventually(t, func() bool { return src.WatchedDirs() == 4 }, 5*time.Second, 10*time.Millisecond)
}

func TestWatchSourceCloseBeforeStart(t *testing.T) {
	src := NewWatchSource(nil)
	require.NoError(t, src.Close())
	require.Error(t, src.Start(t.Context(), t.TempDir(), func(Event) {}))
	require.NoError(t, src.Close())
}
