// Package main is the entry point for the pipedb command line.
//
// pipedb stores pipeline configuration documents addressed by URIs such as
// entity:/shots/010/020, in memory, as JSON files on disk or in MongoDB.
// Configuration is read from pipedb.yaml, PIPEDB_* environment variables and
// CLI flags, in increasing order of precedence.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tumblehead/pipedb/internal/cli"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "pipedb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	slog.SetDefault(cli.NewLogger(os.Stderr, ll))
	return cli.NewRootCommand(ll).ExecuteContext(ctx)
}
