package history

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/tumblehead/pipedb/internal/uri"
)

func locate(u uri.URI) string {
	return path.Join(append([]string{u.Purpose()}, u.Segments()...)...) + ".json"
}

func writeDoc(t *testing.T, dir string, u uri.URI, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(locate(u)))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestChangeSubject(t *testing.T) {
	t.Parallel()
	a := uri.MustParse("entity:/shots/010/010")
	b := uri.MustParse("entity:/shots/010/020")
	tests := []struct {
		change Change
		want   string
	}{
		{Change{Op: OpInsert, URIs: []uri.URI{a}}, "insert: entity:/shots/010/010"},
		{Change{Op: OpRename, URIs: []uri.URI{a, b}}, "rename: entity:/shots/010/010 -> entity:/shots/010/020"},
	}
	for _, tt := range tests {
		if got := tt.change.Subject(); got != tt.want {
			t.Errorf("Subject() = %q, want %q", got, tt.want)
		}
	}
}

func TestRepo(t *testing.T) {
	t.Parallel()

	t.Run("Init", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		if _, err := Open(dir, locate, Author{Name: "Test User", Email: "test@example.com"}); err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
			t.Fatalf(".git not created: %v", err)
		}
		// Reopening an existing repository works.
		if _, err := Open(dir, locate, Author{}); err != nil {
			t.Fatalf("second Open() failed: %v", err)
		}
	})

	t.Run("RecordAndLog", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		ctx := t.Context()
		r, err := Open(dir, locate, Author{Name: "Test User", Email: "test@example.com"})
		if err != nil {
			t.Fatal(err)
		}
		shot := uri.MustParse("entity:/shots/010/010")
		err = r.Record(ctx, Author{}, func() (Change, error) {
			writeDoc(t, dir, shot, `{"fps": 24}`)
			return Change{Op: OpInsert, URIs: []uri.URI{shot}}, nil
		})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		err = r.Record(ctx, Author{Name: "Artist", Email: "artist@example.com"}, func() (Change, error) {
			writeDoc(t, dir, shot, `{"fps": 25}`)
			return Change{Op: OpUpdate, URIs: []uri.URI{shot}}, nil
		})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		// Unchanged content produces no commit.
		err = r.Record(ctx, Author{}, func() (Change, error) {
			return Change{Op: OpUpdate, URIs: []uri.URI{shot}}, nil
		})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		// A failing change records nothing.
		boom := errors.New("boom")
		err = r.Record(ctx, Author{}, func() (Change, error) {
			writeDoc(t, dir, shot, `{"fps": 30}`)
			return Change{Op: OpUpdate, URIs: []uri.URI{shot}}, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Record() = %v, want %v", err, boom)
		}

		log, err := r.Log(ctx, shot, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(log) != 2 {
			t.Fatalf("len(Log) = %d, want 2", len(log))
		}
		if log[0].Op != OpUpdate || log[0].Message != "update: entity:/shots/010/010" || log[0].Author != "Artist" {
			t.Errorf("newest commit = %+v", log[0])
		}
		if log[1].Op != OpInsert || log[1].Author != "Test User" {
			t.Errorf("oldest commit = %+v", log[1])
		}
		if log, err := r.Log(ctx, shot, 1); err != nil || len(log) != 1 {
			t.Errorf("Log(1) = %d commits, %v", len(log), err)
		}

		old, err := r.At(ctx, shot, log[1].Hash)
		if err != nil {
			t.Fatal(err)
		}
		if string(old) != `{"fps": 24}` {
			t.Errorf("At = %q", old)
		}
		head, err := r.At(ctx, shot, "HEAD")
		if err != nil {
			t.Fatal(err)
		}
		if string(head) != `{"fps": 25}` {
			t.Errorf("At(HEAD) = %q", head)
		}
		if _, err := r.At(ctx, shot, "0123456789012345678901234567890123456789"); !errors.Is(err, ErrNoCommit) {
			t.Errorf("At(unknown) = %v, want ErrNoCommit", err)
		}
	})

	t.Run("RecordsRename", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		ctx := t.Context()
		r, err := Open(dir, locate, Author{})
		if err != nil {
			t.Fatal(err)
		}
		src := uri.MustParse("entity:/assets/a")
		dst := uri.MustParse("entity:/assets/b")
		if err := r.Record(ctx, Author{}, func() (Change, error) {
			writeDoc(t, dir, src, "{}")
			return Change{Op: OpInsert, URIs: []uri.URI{src}}, nil
		}); err != nil {
			t.Fatal(err)
		}
		if err := r.Record(ctx, Author{}, func() (Change, error) {
			from := filepath.Join(dir, filepath.FromSlash(locate(src)))
			to := filepath.Join(dir, filepath.FromSlash(locate(dst)))
			return Change{Op: OpRename, URIs: []uri.URI{src, dst}}, os.Rename(from, to)
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := r.At(ctx, src, "HEAD"); err == nil {
			t.Error("renamed source still present at HEAD")
		}
		if _, err := r.At(ctx, dst, "HEAD"); err != nil {
			t.Errorf("At(dst, HEAD) = %v", err)
		}
		log, err := r.Log(ctx, src, 0)
		if err != nil || len(log) != 2 {
			t.Fatalf("Log(src) = %d commits, %v; want 2", len(log), err)
		}
		if log[0].Op != OpRename {
			t.Errorf("newest op = %q", log[0].Op)
		}
	})

	t.Run("EmptyRepo", func(t *testing.T) {
		t.Parallel()
		r, err := Open(t.TempDir(), locate, Author{})
		if err != nil {
			t.Fatal(err)
		}
		u := uri.MustParse("entity:/x")
		if _, err := r.Log(t.Context(), u, 5); !errors.Is(err, ErrNoCommit) {
			t.Errorf("Log() = %v, want ErrNoCommit", err)
		}
		if _, err := r.At(t.Context(), u, "HEAD"); !errors.Is(err, ErrNoCommit) {
			t.Errorf("At(HEAD) = %v, want ErrNoCommit", err)
		}
	})
}
