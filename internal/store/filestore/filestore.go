// Package filestore persists documents as JSON files and serves reads from an
// in-memory cache kept up to date by an Indexer.
//
// Writes hit the disk synchronously; reads never touch it. A write becomes
// visible to Lookup and Query only after the Indexer has applied the
// filesystem event it caused, so read-your-writes is not guaranteed.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tumblehead/pipedb/internal/history"
	"github.com/tumblehead/pipedb/internal/jsonv"
	"github.com/tumblehead/pipedb/internal/store"
	"github.com/tumblehead/pipedb/internal/uri"
)

// ErrHistoryDisabled is returned by History and Revision when the store was
// opened without history.
var ErrHistoryDisabled = errors.New("history disabled")

// Options configures a FileStore. The zero value is usable.
type Options struct {
	Logger *slog.Logger
	// Source defaults to a WatchSource.
	Source Source
	// Registerer receives the Indexer metrics when set.
	Registerer prometheus.Registerer
	// History commits every mutation to a git repository at the root.
	History bool
	Author  history.Author
	OnError func(path string, err error)
	OnApply func(Event)
}

// FileStore is a store.Store over a directory tree:
//
//	<root>/<purpose>/<segment>/.../<last segment>.json
type FileStore struct {
	layout layout
	cache  *store.MemoryStore
	ix     *Indexer
	hist   *history.Repo
	log    *slog.Logger

	// mu serialises writers so that check-then-write sequences are atomic
	// within the process.
	mu sync.Mutex
}

var _ store.Backend = (*FileStore)(nil)

// Open starts a FileStore on root, creating the directory if needed. The
// initial scan runs in the background; use WaitReady before relying on
// reads.
func Open(ctx context.Context, root string, opts *Options) (*FileStore, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, store.IOError("resolve root", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, store.IOError("create root", err)
	}
	s := &FileStore{
		layout: layout{root: root},
		cache:  store.NewMemoryStore(),
		log:    o.Logger,
	}
	if o.History {
		if s.hist, err = history.Open(root, s.layout.Slash, o.Author); err != nil {
			return nil, err
		}
	}
	src := o.Source
	if src == nil {
		src = NewWatchSource(o.Logger)
	}
	s.ix = NewIndexer(root, s.cache, src, &IndexerOptions{
		Logger:  o.Logger,
		Metrics: NewMetrics(o.Registerer),
		OnError: o.OnError,
		OnApply: o.OnApply,
	})
	if err := s.ix.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the absolute store root.
func (s *FileStore) Root() string {
	return s.layout.root
}

// WaitReady waits for the initial scan and returns the documents it failed
// to load.
func (s *FileStore) WaitReady(ctx context.Context) error {
	return s.ix.Ready(ctx)
}

// Close stops the Indexer.
func (s *FileStore) Close() error {
	return s.ix.Stop()
}

// Len returns the number of cached documents.
func (s *FileStore) Len() int {
	return s.cache.Len()
}

// mutate runs fn under the write lock and, with history on, commits the
// documents named by change.
func (s *FileStore) mutate(ctx context.Context, change history.Change, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hist == nil {
		return fn()
	}
	var fnErr error
	err := s.hist.Record(ctx, history.Author{}, func() (history.Change, error) {
		fnErr = fn()
		return change, fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		// The files are written; only the commit failed.
		s.log.ErrorContext(ctx, "Failed to record history", "change", change.Subject(), "err", err)
	}
	return nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, store.IOError("stat "+path, err)
}

// writeFile replaces path atomically through a hidden temporary file in the
// same directory.
func writeFile(path string, v jsonv.Value) error {
	data, err := v.Indent()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return store.IOError("create "+dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return store.IOError("create temp file", err)
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return store.IOError("write "+tmp, err)
	}
	if err := f.Close(); err != nil {
		return store.IOError("close "+tmp, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return store.IOError("chmod "+tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return store.IOError("rename "+tmp, err)
	}
	return nil
}

// prune removes dir and its ancestors while they are empty, stopping below
// the root.
func (s *FileStore) prune(dir string) {
	for {
		rel, err := filepath.Rel(s.layout.root, dir)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			s.log.Warn("Failed to prune directory", "dir", dir, "err", err)
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Insert implements store.Store.
func (s *FileStore) Insert(ctx context.Context, u uri.URI, datum jsonv.Value) error {
	if err := store.RequireConcrete(u); err != nil {
		return err
	}
	path := s.layout.File(u)
	return s.mutate(ctx, history.Change{Op: history.OpInsert, URIs: []uri.URI{u}}, func() error {
		ok, err := exists(path)
		if err != nil {
			return err
		}
		if ok {
			return store.AlreadyExists(u)
		}
		return writeFile(path, datum)
	})
}

// Update implements store.Store.
func (s *FileStore) Update(ctx context.Context, u uri.URI, datum jsonv.Value) error {
	if err := store.RequireConcrete(u); err != nil {
		return err
	}
	path := s.layout.File(u)
	return s.mutate(ctx, history.Change{Op: history.OpUpdate, URIs: []uri.URI{u}}, func() error {
		ok, err := exists(path)
		if err != nil {
			return err
		}
		if !ok {
			return store.NotFound(u)
		}
		return writeFile(path, datum)
	})
}

// Rename implements store.Store. Directories left empty by the move are
// removed.
func (s *FileStore) Rename(ctx context.Context, src, dst uri.URI) error {
	if err := store.RequireConcrete(src); err != nil {
		return err
	}
	if err := store.RequireConcrete(dst); err != nil {
		return err
	}
	from, to := s.layout.File(src), s.layout.File(dst)
	return s.mutate(ctx, history.Change{Op: history.OpRename, URIs: []uri.URI{src, dst}}, func() error {
		ok, err := exists(from)
		if err != nil {
			return err
		}
		if !ok {
			return store.NotFound(src)
		}
		if ok, err = exists(to); err != nil {
			return err
		} else if ok {
			return store.AlreadyExists(dst)
		}
		if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
			return store.IOError("create "+filepath.Dir(to), err)
		}
		if err := os.Rename(from, to); err != nil {
			return store.IOError("rename "+from, err)
		}
		s.prune(filepath.Dir(from))
		return nil
	})
}

// Delete implements store.Store. Directories left empty are removed.
func (s *FileStore) Delete(ctx context.Context, u uri.URI) ([]uri.URI, error) {
	if err := store.RequireConcrete(u); err != nil {
		return nil, err
	}
	path := s.layout.File(u)
	err := s.mutate(ctx, history.Change{Op: history.OpDelete, URIs: []uri.URI{u}}, func() error {
		if err := os.Remove(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return store.NotFound(u)
			}
			return store.IOError("remove "+path, err)
		}
		s.prune(filepath.Dir(path))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []uri.URI{u}, nil
}

// Lookup implements store.Store from the cache.
func (s *FileStore) Lookup(ctx context.Context, u uri.URI) (jsonv.Value, bool, error) {
	return s.cache.Lookup(ctx, u)
}

// Query implements store.Store from the cache.
func (s *FileStore) Query(ctx context.Context, u uri.URI, params store.Params) ([]store.Entry, error) {
	return s.cache.Query(ctx, u, params)
}

// Transact implements store.Store. The document is read from disk, not from
// the cache, and written back when fn succeeds.
func (s *FileStore) Transact(ctx context.Context, u uri.URI, fn func(store.Transaction) error) error {
	if err := store.RequireConcrete(u); err != nil {
		return err
	}
	path := s.layout.File(u)
	return s.mutate(ctx, history.Change{Op: history.OpTransact, URIs: []uri.URI{u}}, func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return store.NotFound(u)
			}
			return store.IOError("read "+path, err)
		}
		doc, err := jsonv.Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		wc := store.NewWorkingCopy(doc)
		if err := fn(wc); err != nil {
			return err
		}
		return writeFile(path, wc.Value())
	})
}

// History returns up to n commits that touched u, newest first.
func (s *FileStore) History(ctx context.Context, u uri.URI, n int) ([]history.Commit, error) {
	if s.hist == nil {
		return nil, ErrHistoryDisabled
	}
	if err := store.RequireConcrete(u); err != nil {
		return nil, err
	}
	return s.hist.Log(ctx, u, n)
}

// Revision returns u as of rev, a commit hash or "HEAD".
func (s *FileStore) Revision(ctx context.Context, u uri.URI, rev string) (jsonv.Value, error) {
	if s.hist == nil {
		return jsonv.Value{}, ErrHistoryDisabled
	}
	if err := store.RequireConcrete(u); err != nil {
		return jsonv.Value{}, err
	}
	data, err := s.hist.At(ctx, u, rev)
	if err != nil {
		return jsonv.Value{}, fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}
	return jsonv.Parse(data)
}
