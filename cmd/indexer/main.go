package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/seanblong/sortseek/internal/app"
	"github.com/seanblong/sortseek/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("sortseek-indexer", pflag.ExitOnError)
	force := fs.Bool("force", false, "Re-index files even when unchanged")
	sweep := fs.Bool("sweep", false, "Report index inconsistencies after indexing")
	prune := fs.Bool("prune", false, "Remove inconsistencies found by the sweep (implies --sweep)")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sortseek-indexer [flags] PATH...\n")
		cfg.Usage()
	}

	roots := fs.Args()
	if len(roots) == 0 && !*sweep && !*prune {
		fs.Usage()
		os.Exit(2)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zlog.Logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	// The first signal stops new files from starting; files in flight finish.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, roots, *force, *sweep || *prune, *prune)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg config.Specification, roots []string, force, sweep, prune bool) int {
	a, err := app.New(ctx, cfg)
	if err != nil {
		zlog.Error().Err(err).Msg("failed to initialize")
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			zlog.Error().Err(err).Msg("failed to close")
		}
	}()

	code := 0
	if len(roots) > 0 {
		start := time.Now()
		res := a.Indexer.ReconcileFolder(ctx, roots, force)
		fmt.Printf("indexed: %d  skipped: %d  failed: %d  canceled: %d  (%s)\n",
			res.Indexed, res.Skipped, res.Failed, res.Canceled, time.Since(start).Round(time.Millisecond))
		for _, f := range res.Failures {
			fmt.Printf("  FAILED %s: %s\n", f.Path, f.Reason)
		}
		if res.Failed > 0 || res.Canceled > 0 {
			code = 1
		}
	}

	if sweep && ctx.Err() == nil {
		issues, err := a.Indexer.Sweep(ctx)
		if err != nil {
			zlog.Error().Err(err).Msg("sweep failed")
			return 1
		}
		for _, inc := range issues {
			fmt.Printf("  %s %s %s\n", inc.Kind, inc.DocumentID, inc.Path)
		}
		fmt.Printf("inconsistencies: %d\n", len(issues))
		if prune && len(issues) > 0 {
			fixed, err := a.Indexer.Prune(ctx, issues)
			if err != nil {
				zlog.Error().Err(err).Msg("prune failed")
				code = 1
			}
			fmt.Printf("pruned: %d\n", fixed)
		}
	}
	return code
}
