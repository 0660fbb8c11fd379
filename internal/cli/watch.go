package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tumblehead/pipedb/internal/backend"
	"github.com/tumblehead/pipedb/internal/config"
	"github.com/tumblehead/pipedb/internal/store/filestore"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	MetricsAddr string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Index the file backend and log every change until interrupted",
		Long: `Index the file backend and log every change until interrupted.

Edits made by other tools to the JSON files are picked up and logged. With
--metrics, the indexer counters are served on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts, cmd.Flags().Changed("metrics"))
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics", "", "serve prometheus metrics on this address (e.g. localhost:9090)")

	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, metricsFlag bool) error {
	cfg := opts.Config()
	if cfg.Backend != config.BackendFile {
		return fmt.Errorf("watch needs the file backend, not %q", cfg.Backend)
	}
	addr := cfg.Metrics.Addr
	if metricsFlag {
		addr = opts.MetricsAddr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	b, err := opts.open(ctx,
		backend.WithRegisterer(reg),
		backend.WithOnApply(func(e filestore.Event) {
			slog.InfoContext(ctx, "Applied", "kind", e.Kind.String(), "path", e.Path, "dest", e.Dest)
		}),
		backend.WithOnError(func(path string, err error) {
			slog.WarnContext(ctx, "Failed to index", "path", path, "err", err)
		}),
	)
	if err != nil {
		return err
	}
	defer b.Close()
	if fs, ok := b.(*filestore.FileStore); ok {
		slog.InfoContext(ctx, "Watching", "root", fs.Root(), "documents", fs.Len(), "metrics", addr)
	}

	g, ctx := errgroup.WithContext(ctx)
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to serve metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}
