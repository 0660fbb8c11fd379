// Package cli implements the pipedb command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tumblehead/pipedb/internal/backend"
	"github.com/tumblehead/pipedb/internal/config"
	"github.com/tumblehead/pipedb/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Backend    string
	LogLevel   string
	FileRoot   string

	level *slog.LevelVar
	cfg   *config.Config
}

// Config returns the effective configuration. It is set once the root
// command's pre-run hook ran.
func (o *RootOptions) Config() *config.Config {
	return o.cfg
}

// load reads the configuration file and applies the global flags on top.
func (o *RootOptions) load(cmd *cobra.Command) error {
	flags := cmd.Flags()
	cfg, err := config.Load(o.ConfigPath, func(cfg *config.Config) {
		if flags.Changed("backend") {
			cfg.Backend = o.Backend
		}
		if flags.Changed("log-level") {
			cfg.LogLevel = o.LogLevel
		}
		if flags.Changed("file-root") {
			cfg.File.Root = o.FileRoot
		}
	})
	if err != nil {
		return err
	}
	lvl, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if o.level != nil {
		o.level.Set(lvl)
	}
	o.cfg = cfg
	return nil
}

// open returns the configured backend after its initial load.
func (o *RootOptions) open(ctx context.Context, opts ...backend.Option) (store.Backend, error) {
	opts = append([]backend.Option{backend.WithLogger(slog.Default()), backend.WithWaitReady()}, opts...)
	return backend.Open(ctx, o.cfg, opts...)
}

// NewRootCommand creates the root command. level is adjusted to the
// configured log level before any subcommand runs; it may be nil.
func NewRootCommand(level *slog.LevelVar) *cobra.Command {
	opts := &RootOptions{level: level}

	cmd := &cobra.Command{
		Use:   "pipedb",
		Short: "pipedb - pipeline configuration store",
		Long: `Hierarchical JSON document store for production pipelines.

Documents are addressed by URIs such as entity:/shots/010/020 and kept in
memory, as JSON files on disk or in MongoDB.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", config.DefaultPath, "configuration file")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", config.BackendFile, "store backend (memory|file|mongo)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.FileRoot, "file-root", "./data", "root directory of the file backend")

	cmd.AddCommand(NewInsertCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewRenameCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewLookupCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
