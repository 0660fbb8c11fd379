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

	"golang.org/x/sync/errgroup"

	"github.com/tumblehead/pipedb/internal/jsonv"
	"github.com/tumblehead/pipedb/internal/store"
	"github.com/tumblehead/pipedb/internal/uri"
)

// Cache is the store an Indexer keeps in sync. *store.MemoryStore
// implements it.
type Cache interface {
	Insert(ctx context.Context, u uri.URI, datum jsonv.Value) error
	Update(ctx context.Context, u uri.URI, datum jsonv.Value) error
	Rename(ctx context.Context, src, dst uri.URI) error
	Delete(ctx context.Context, u uri.URI) ([]uri.URI, error)
	Lookup(ctx context.Context, u uri.URI) (jsonv.Value, bool, error)
	Walk(u uri.URI) ([]store.Entry, error)
}

// IndexerOptions configures an Indexer. The zero value is usable.
type IndexerOptions struct {
	Logger  *slog.Logger
	Metrics *Metrics
	// OnError is called for every document that fails to sync.
	OnError func(path string, err error)
	// OnApply is called after each event has been applied.
	OnApply func(Event)
}

// Indexer loads a directory of JSON documents into a Cache and keeps it in
// sync with filesystem events.
//
// Events are applied one at a time in arrival order by a single goroutine,
// after the initial scan completes. There is no ordering guarantee relative
// to writes made by other goroutines: a document written to disk becomes
// visible in the cache only once its event has been applied.
type Indexer struct {
	layout layout
	cache  Cache
	src    Source
	opts   IndexerOptions
	log    *slog.Logger

	queue   *eventQueue
	scanned chan struct{}
	scanErr error

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	stop    sync.Once
	stopErr error
}

// NewIndexer returns an Indexer of root feeding cache from src.
func NewIndexer(root string, cache Cache, src Source, opts *IndexerOptions) *Indexer {
	ix := &Indexer{
		layout:  layout{root: filepath.Clean(root)},
		cache:   cache,
		src:     src,
		queue:   newEventQueue(),
		scanned: make(chan struct{}),
	}
	if opts != nil {
		ix.opts = *opts
	}
	ix.log = ix.opts.Logger
	if ix.log == nil {
		ix.log = slog.Default()
	}
	return ix
}

// Start begins watching, then scans the tree in the background. Events seen
// during the scan are queued and applied once it completes, so no change
// between the scan and the watch is lost.
func (ix *Indexer) Start(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.started {
		return errors.New("indexer already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	if err := ix.src.Start(ctx, ix.layout.root, ix.enqueue); err != nil {
		cancel()
		return fmt.Errorf("failed to start watching %s: %w", ix.layout.root, err)
	}
	ix.started = true
	ix.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ix.scanned)
		ix.scanErr = ix.scan(gctx)
		if ix.scanErr != nil {
			ix.log.ErrorContext(gctx, "Initial scan incomplete", "root", ix.layout.root, "err", ix.scanErr)
		}
		return nil
	})
	g.Go(func() error {
		return ix.consume(gctx)
	})
	ix.group = g
	return nil
}

// Ready waits for the initial scan and returns the errors it hit.
func (ix *Indexer) Ready(ctx context.Context) error {
	select {
	case <-ix.scanned:
		return ix.scanErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the Indexer down. No event is applied after Stop returns;
// queued events are dropped. It is safe to call Stop more than once.
func (ix *Indexer) Stop() error {
	ix.stop.Do(func() {
		ix.mu.Lock()
		defer ix.mu.Unlock()
		ix.stopErr = ix.src.Close()
		ix.queue.Close()
		if !ix.started {
			return
		}
		ix.cancel()
		if err := ix.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			ix.stopErr = errors.Join(ix.stopErr, err)
		}
	})
	return ix.stopErr
}

func (ix *Indexer) pending() int {
	return ix.queue.Len()
}

func (ix *Indexer) enqueue(e Event) {
	if ix.queue.Enqueue(e) {
		ix.opts.Metrics.depth(ix.pending())
	}
}

func (ix *Indexer) consume(ctx context.Context) error {
	select {
	case <-ix.scanned:
	case <-ctx.Done():
		return nil
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if e, ok := ix.queue.TryDequeue(); ok {
			ix.opts.Metrics.depth(ix.pending())
			ix.apply(ctx, e)
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case _, open := <-ix.queue.Wait():
			if !open {
				return nil
			}
		}
	}
}

func (ix *Indexer) scan(ctx context.Context) error {
	var errs []error
	err := filepath.WalkDir(ix.layout.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if ix.layout.Ignored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || filepath.Ext(path) != ext {
			return nil
		}
		if _, err := ix.layout.FileURI(path); err != nil {
			ix.log.WarnContext(ctx, "Ignoring file outside the layout", "path", path, "err", err)
			return nil
		}
		if err := ix.upsert(ctx, path, true); err != nil {
			errs = append(errs, err)
			return nil
		}
		ix.opts.Metrics.scannedFile()
		return nil
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: failed to scan %s: %w", store.ErrIO, ix.layout.root, err))
	}
	return errors.Join(errs...)
}

func (ix *Indexer) apply(ctx context.Context, e Event) {
	ix.opts.Metrics.event(e.Kind)
	ix.log.DebugContext(ctx, "Applying event", "kind", e.Kind, "path", e.Path, "dest", e.Dest)
	switch e.Kind {
	case FileCreated:
		_ = ix.upsert(ctx, e.Path, true)
	case FileModified:
		_ = ix.upsert(ctx, e.Path, false)
	case FileDeleted:
		ix.remove(ctx, e.Path)
	case FileMoved:
		ix.move(ctx, e.Path, e.Dest)
	case DirCreated, DirModified:
		ix.eachFile(ctx, e.Path, func(path string) {
			_ = ix.upsert(ctx, path, e.Kind == DirCreated)
		})
	case DirDeleted:
		ix.removeDir(ctx, e.Path)
	case DirMoved:
		ix.moveDir(ctx, e.Path, e.Dest)
	default:
		ix.log.WarnContext(ctx, "Unknown event", "event", e)
	}
	if ix.opts.OnApply != nil {
		ix.opts.OnApply(e)
	}
}

// report logs and counts a document that failed to sync.
func (ix *Indexer) report(path string, err error) error {
	ix.log.Error("Failed to sync document", "path", path, "err", err)
	ix.opts.Metrics.failed()
	if ix.opts.OnError != nil {
		ix.opts.OnError(path, err)
	}
	return err
}

// upsert reads path into the cache. A document that is already cached is
// updated and a missing one is inserted, whichever event announced it.
// Vanished and empty files are skipped; a later event carries their content.
func (ix *Indexer) upsert(ctx context.Context, path string, created bool) error {
	if ix.layout.Ignored(path) || filepath.Ext(path) != ext {
		return nil
	}
	u, err := ix.layout.FileURI(path)
	if err != nil {
		ix.log.WarnContext(ctx, "Ignoring file outside the layout", "path", path, "err", err)
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return ix.report(path, store.IOError("read "+path, err))
	}
	if len(data) == 0 {
		return nil
	}
	v, err := jsonv.Parse(data)
	if err != nil {
		return ix.report(path, fmt.Errorf("%s: %w", path, err))
	}
	if created {
		err = ix.cache.Insert(ctx, u, v)
		if errors.Is(err, store.ErrAlreadyExists) {
			err = ix.cache.Update(ctx, u, v)
		}
	} else {
		err = ix.cache.Update(ctx, u, v)
		if errors.Is(err, store.ErrNotFound) {
			err = ix.cache.Insert(ctx, u, v)
		}
	}
	if err != nil {
		return ix.report(path, err)
	}
	return nil
}

func (ix *Indexer) remove(ctx context.Context, path string) {
	if ix.layout.Ignored(path) || filepath.Ext(path) != ext {
		return
	}
	u, err := ix.layout.FileURI(path)
	if err != nil {
		return
	}
	if _, err := ix.cache.Delete(ctx, u); err != nil && !errors.Is(err, store.ErrNotFound) {
		_ = ix.report(path, err)
	}
}

func (ix *Indexer) move(ctx context.Context, src, dst string) {
	switch {
	case ix.layout.Ignored(dst) || filepath.Ext(dst) != ext:
		ix.remove(ctx, src)
		return
	case ix.layout.Ignored(src) || filepath.Ext(src) != ext:
		// Atomic writes land as a rename of a hidden temporary file.
		_ = ix.upsert(ctx, dst, true)
		return
	}
	su, err1 := ix.layout.FileURI(src)
	du, err2 := ix.layout.FileURI(dst)
	if err1 == nil && err2 == nil {
		err := ix.cache.Rename(ctx, su, du)
		if errors.Is(err, store.ErrAlreadyExists) {
			ix.remove(ctx, src)
		}
	} else if err1 == nil {
		ix.remove(ctx, src)
	}
	// The destination content wins over whatever was cached for src.
	_ = ix.upsert(ctx, dst, true)
}

func (ix *Indexer) removeDir(ctx context.Context, dir string) {
	if ix.layout.Ignored(dir) {
		return
	}
	u, err := ix.layout.DirURI(dir)
	if err != nil {
		return
	}
	entries, err := ix.cache.Walk(u)
	if err != nil {
		_ = ix.report(dir, err)
		return
	}
	for _, e := range entries {
		if _, err := ix.cache.Delete(ctx, e.URI); err != nil && !errors.Is(err, store.ErrNotFound) {
			_ = ix.report(dir, err)
		}
	}
}

func (ix *Indexer) moveDir(ctx context.Context, src, dst string) {
	switch {
	case filepath.Ext(src) == ext:
		// Documents never have directory names, so src was a file that left
		// the tree.
		ix.remove(ctx, src)
		ix.eachFile(ctx, dst, func(path string) { _ = ix.upsert(ctx, path, true) })
		return
	case ix.layout.Ignored(dst):
		ix.removeDir(ctx, src)
		return
	case ix.layout.Ignored(src):
		ix.eachFile(ctx, dst, func(path string) { _ = ix.upsert(ctx, path, true) })
		return
	}
	ix.eachFile(ctx, dst, func(path string) {
		rel, err := filepath.Rel(dst, path)
		if err != nil {
			return
		}
		ix.move(ctx, filepath.Join(src, rel), path)
	})
	// Whatever is still cached under src no longer exists anywhere.
	ix.removeDir(ctx, src)
}

// eachFile calls fn for every document below dir.
func (ix *Indexer) eachFile(ctx context.Context, dir string, fn func(path string)) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == ext {
			fn(path)
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		_ = ix.report(dir, store.IOError("enumerate "+dir, err))
	}
}
