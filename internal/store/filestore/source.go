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
	"time"

	"github.com/fsnotify/fsnotify"
)

// Source delivers filesystem events for a directory tree.
type Source interface {
	// Start watches root and calls emit for each change until Close. emit
	// must not block.
	Start(ctx context.Context, root string, emit func(Event)) error
	// Close stops the watch. It is safe to call more than once.
	Close() error
}

// DefaultMoveWindow is how long a rename waits for the matching create
// before it is reported as a deletion.
const DefaultMoveWindow = 50 * time.Millisecond

// WatchSource is a Source backed by fsnotify.
//
// fsnotify watches single directories and reports a move as a Rename of the
// old name followed by a Create of the new one. WatchSource adds a watch for
// every directory below the root, including the ones created later, and
// pairs Rename+Create into a moved event.
type WatchSource struct {
	MoveWindow time.Duration
	Logger     *slog.Logger

	mu      sync.Mutex
	w       *fsnotify.Watcher
	dirs    map[string]struct{}
	emit    func(Event)
	cancel  context.CancelFunc
	done    chan struct{}
	pending *fsnotify.Event
	closed  bool
}

// NewWatchSource returns a WatchSource with default settings.
func NewWatchSource(logger *slog.Logger) *WatchSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &WatchSource{MoveWindow: DefaultMoveWindow, Logger: logger}
}

// Start implements Source. Watches are in place when Start returns.
func (s *WatchSource) Start(ctx context.Context, root string, emit func(Event)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.MoveWindow <= 0 {
		s.MoveWindow = DefaultMoveWindow
	}
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = w.Close()
		return errors.New("watch source closed")
	}
	s.w = w
	s.dirs = map[string]struct{}{}
	s.emit = emit
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()
	if err := s.watchTree(root); err != nil {
		cancel()
		_ = w.Close()
		s.mu.Lock()
		s.w = nil
		s.cancel = nil
		close(s.done)
		s.mu.Unlock()
		return err
	}
	s.Logger.DebugContext(ctx, "Watching tree", "root", root, "dirs", s.WatchedDirs())
	go s.loop(ctx)
	return nil
}

// Close implements Source.
func (s *WatchSource) Close() error {
	s.mu.Lock()
	if s.closed || s.w == nil {
		s.closed = true
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	w, cancel, done := s.w, s.cancel, s.done
	s.mu.Unlock()
	cancel()
	err := w.Close()
	<-done
	return err
}

// WatchedDirs returns the number of directories being watched.
func (s *WatchSource) WatchedDirs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirs)
}

func (s *WatchSource) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Raced with a removal; the Remove event follows.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := s.w.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		s.mu.Lock()
		s.dirs[path] = struct{}{}
		s.mu.Unlock()
		return nil
	})
}

// forget drops dir and everything below it from the watched set.
func (s *WatchSource) forget(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := dir + string(filepath.Separator)
	for d := range s.dirs {
		if d == dir || strings.HasPrefix(d, prefix) {
			delete(s.dirs, d)
			_ = s.w.Remove(d)
		}
	}
}

func (s *WatchSource) isDir(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dirs[path]
	return ok
}

func (s *WatchSource) loop(ctx context.Context) {
	defer close(s.done)
	var (
		timer *time.Timer
		flush <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, flush = nil, nil
		}
	}
	defer stopTimer()
	for {
		select {
		case <-ctx.Done():
			return
		case <-flush:
			timer, flush = nil, nil
			s.flushPending()
		case ev, ok := <-s.w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) && s.pending != nil {
				stopTimer()
				from := *s.pending
				s.pending = nil
				s.moved(from, ev)
				continue
			}
			stopTimer()
			s.flushPending()
			if ev.Has(fsnotify.Rename) {
				s.pending = &ev
				timer = time.NewTimer(s.MoveWindow)
				flush = timer.C
				continue
			}
			s.handle(ev)
		case err, ok := <-s.w.Errors:
			if !ok {
				return
			}
			s.Logger.WarnContext(ctx, "Filesystem watch error", "err", err)
		}
	}
}

func (s *WatchSource) flushPending() {
	if s.pending == nil {
		return
	}
	p := s.pending
	s.pending = nil
	if s.isDir(p.Name) {
		s.forget(p.Name)
		s.emit(Event{Kind: DirDeleted, Path: p.Name})
		return
	}
	s.emit(Event{Kind: FileDeleted, Path: p.Name})
}

// moved pairs a Rename with the Create that followed it. The two only
// describe one move when both sides are directories or both are files;
// otherwise the rename left the tree and the create is unrelated.
func (s *WatchSource) moved(from, to fsnotify.Event) {
	fi, err := os.Stat(to.Name)
	if err != nil {
		// The destination is already gone again.
		s.pending = &from
		s.flushPending()
		return
	}
	if fi.IsDir() != s.isDir(from.Name) {
		s.pending = &from
		s.flushPending()
		s.handle(to)
		return
	}
	if fi.IsDir() {
		s.forget(from.Name)
		if strings.HasPrefix(filepath.Base(to.Name), ".") {
			s.emit(Event{Kind: DirMoved, Path: from.Name, Dest: to.Name})
			return
		}
		if err := s.watchTree(to.Name); err != nil {
			s.Logger.Warn("Failed to watch moved directory", "path", to.Name, "err", err)
		}
		s.emit(Event{Kind: DirMoved, Path: from.Name, Dest: to.Name})
		return
	}
	s.emit(Event{Kind: FileMoved, Path: from.Name, Dest: to.Name})
}

func (s *WatchSource) handle(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		fi, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if fi.IsDir() {
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				return
			}
			if err := s.watchTree(ev.Name); err != nil {
				s.Logger.Warn("Failed to watch new directory", "path", ev.Name, "err", err)
			}
			// Files written before the watch was added are picked up by
			// enumerating the directory.
			s.emit(Event{Kind: DirCreated, Path: ev.Name})
			return
		}
		s.emit(Event{Kind: FileCreated, Path: ev.Name})
	case ev.Has(fsnotify.Remove):
		if s.isDir(ev.Name) {
			s.forget(ev.Name)
			s.emit(Event{Kind: DirDeleted, Path: ev.Name})
			return
		}
		s.emit(Event{Kind: FileDeleted, Path: ev.Name})
	case ev.Has(fsnotify.Write):
		if !s.isDir(ev.Name) {
			s.emit(Event{Kind: FileModified, Path: ev.Name})
		}
	case ev.Has(fsnotify.Chmod):
		if s.isDir(ev.Name) {
			s.emit(Event{Kind: DirModified, Path: ev.Name})
		}
	}
}
