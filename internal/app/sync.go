package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bizradar.kr/grantsync/internal/cli"
	syncer "bizradar.kr/grantsync/internal/sync"
)

func runSync(args []string) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	source := fs.String("source", "", "Source to synchronize (required)")
	timeout := fs.Duration("timeout", 10*time.Minute, "Overall run timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if strings.TrimSpace(*source) == "" {
		fmt.Fprintln(os.Stderr, "--source is required")
		return 2
	}

	cfg, logger, pool, err := setup(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer pool.Close()

	orchestrator, err := buildOrchestrator(cfg, logger, pool)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build sync orchestrator")
		fmt.Fprintf(os.Stderr, "Failed to build sync orchestrator: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	summary, err := orchestrator.Sync(ctx, strings.TrimSpace(*source), syncer.Caller{ID: "cli", Trusted: true})
	if err != nil {
		logger.Error().Err(err).Str("source", *source).Msg("sync failed")
		fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
		return 1
	}

	fmt.Printf("Run %s for %s finished in %s\n", summary.RunUUID, summary.Source, summary.Duration.Round(time.Millisecond))
	fmt.Printf("  fetched:              %d\n", summary.Fetched)
	fmt.Printf("  skipped duplicates:   %d\n", summary.SkippedDuplicates)
	fmt.Printf("  upserted:             %d\n", summary.Upserted)
	fmt.Printf("  changes detected:     %d\n", summary.ChangesDetected)
	fmt.Printf("  notifications queued: %d\n", summary.NotificationsQueued)
	fmt.Printf("  expired:              %d\n", summary.Expired)
	fmt.Printf("  classified:           %d\n", summary.Classified)
	return 0
}
