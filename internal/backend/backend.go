// Package backend opens the store selected by the configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tumblehead/pipedb/internal/config"
	"github.com/tumblehead/pipedb/internal/history"
	"github.com/tumblehead/pipedb/internal/store"
	"github.com/tumblehead/pipedb/internal/store/filestore"
	"github.com/tumblehead/pipedb/internal/store/mongostore"
)

type settings struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	onApply    func(filestore.Event)
	onError    func(path string, err error)
	wait       bool
}

// Option tunes Open.
type Option func(*settings)

// WithLogger sets the logger handed to the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithRegisterer registers the file backend metrics on r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = r }
}

// WithOnApply is called for each filesystem change the file backend applies.
func WithOnApply(fn func(filestore.Event)) Option {
	return func(s *settings) { s.onApply = fn }
}

// WithOnError is called for each file the file backend fails to index.
func WithOnError(fn func(path string, err error)) Option {
	return func(s *settings) { s.onError = fn }
}

// WithWaitReady makes Open block until the file backend finished its initial
// scan. Scan errors are logged, not returned.
func WithWaitReady() Option {
	return func(s *settings) { s.wait = true }
}

// Open returns the backend named by cfg.Backend:
//
//	"memory" - in-memory, lost on exit
//	"file"   - JSON files under cfg.File.Root
//	"mongo"  - MongoDB at cfg.Mongo.URI
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (store.Backend, error) {
	s := settings{logger: slog.Default()}
	for _, o := range opts {
		o(&s)
	}
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemoryStore(), nil
	case config.BackendFile, "":
		fs, err := filestore.Open(ctx, cfg.File.Root, &filestore.Options{
			Logger:     s.logger,
			Registerer: s.registerer,
			History:    cfg.File.History,
			Author:     history.Author{Name: cfg.File.AuthorName, Email: cfg.File.AuthorEmail},
			OnApply:    s.onApply,
			OnError:    s.onError,
		})
		if err != nil {
			return nil, err
		}
		if s.wait {
			if err := fs.WaitReady(ctx); err != nil {
				s.logger.WarnContext(ctx, "Initial scan reported errors", "root", fs.Root(), "err", err)
			}
		}
		return fs, nil
	case config.BackendMongo:
		return mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, &mongostore.Options{
			Logger:  s.logger,
			Timeout: time.Duration(cfg.Mongo.Timeout),
		})
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: memory, file, mongo)", cfg.Backend)
	}
}
