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
	"bizradar.kr/grantsync/internal/globaltime"
)

func runExpire(args []string) int {
	fs := flag.NewFlagSet("expire", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	source := fs.String("source", "", "Source whose stale listings should expire (required)")

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

	_, logger, pool, err := setup(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	expired, err := pool.ExpireStaleListings(ctx, strings.TrimSpace(*source), globaltime.Today(), globaltime.UTC())
	if err != nil {
		logger.Error().Err(err).Str("source", *source).Msg("expire failed")
		fmt.Fprintf(os.Stderr, "Expire failed: %v\n", err)
		return 1
	}

	fmt.Printf("Expired %d listings for %s\n", expired, strings.TrimSpace(*source))
	return 0
}
