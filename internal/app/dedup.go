package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"bizradar.kr/grantsync/internal/cli"
	"bizradar.kr/grantsync/internal/dedup"
)

func runDedup(args []string) int {
	fs := flag.NewFlagSet("dedup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	limit := fs.Int("limit", 500, "Maximum number of active listings to review")
	asJSON := fs.Bool("json", false, "Emit links and groups as JSON")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *limit < 1 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 1")
		return 2
	}

	cfg, logger, pool, err := setup(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	listings, err := pool.ActiveListings(ctx, *limit)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load active listings")
		fmt.Fprintf(os.Stderr, "Failed to load active listings: %v\n", err)
		return 1
	}

	detector := buildDetector(cfg, logger, pool)
	links := detector.PairwiseLinks(listings)
	groups := dedup.GroupLinks(links)

	if *asJSON {
		payload := map[string]any{
			"reviewed": len(listings),
			"links":    links,
			"groups":   groups,
		}
		encoded, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
			return 1
		}
		fmt.Println(string(encoded))
		return 0
	}

	fmt.Printf("Reviewed %d active listings: %d links in %d groups\n", len(listings), len(links), len(groups))
	for _, link := range links {
		fmt.Printf("  %d <- %d  %s (%.3f)\n", link.OriginalID, link.DuplicateID, link.MatchType, link.Similarity)
	}
	for i, group := range groups {
		fmt.Printf("  group %d: %v\n", i+1, group.ListingIDs)
	}
	return 0
}
