package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bizradar.kr/grantsync/internal/classify"
	"bizradar.kr/grantsync/internal/cli"
	"bizradar.kr/grantsync/internal/config"
	"bizradar.kr/grantsync/internal/db"
	"bizradar.kr/grantsync/internal/dedup"
	"bizradar.kr/grantsync/internal/fetch"
	"bizradar.kr/grantsync/internal/logging"
	"bizradar.kr/grantsync/internal/ratelimit"
	syncer "bizradar.kr/grantsync/internal/sync"
)

// setup loads the environment, config, logger, and database pool shared by
// every command.
func setup(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, *db.Pool, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("initialize logger: %w", err)
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("connect to database: %w", err)
	}

	return cfg, logger, pool, nil
}

// buildRegistry constructs one JSON feed fetcher per configured source.
func buildRegistry(cfg *config.Config, logger zerolog.Logger) (*fetch.Registry, error) {
	feeds, err := cfg.SourceFeedMap()
	if err != nil {
		return nil, err
	}

	fetchers := make([]fetch.Fetcher, 0, len(feeds))
	for source, feedURL := range feeds {
		fetchers = append(fetchers, fetch.NewJSONFeed(source, feedURL, logger, fetch.FeedOptions{
			FetchContent:   cfg.FetchContent,
			DetectLanguage: cfg.DetectLanguage,
		}))
	}
	return fetch.NewRegistry(fetchers...), nil
}

func buildDetector(cfg *config.Config, logger zerolog.Logger, pool *db.Pool) *dedup.Detector {
	return dedup.NewDetector(pool, logger, cfg.SimilarityThreshold)
}

// buildOrchestrator wires the full sync path. The Redis limiter is optional:
// with no REDIS_URL configured the limiter runs with a nil client and allows
// everything.
func buildOrchestrator(cfg *config.Config, logger zerolog.Logger, pool *db.Pool) (*syncer.Orchestrator, error) {
	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(redisOpts)
	}
	limiter := ratelimit.NewRedisLimiter(redisClient, logger, cfg.SyncRateLimit, cfg.SyncRateWindow())

	var classifier syncer.Classifier
	if cfg.ClassifierURL != "" {
		classifier = classify.NewClient(cfg.ClassifierURL, cfg.ClassifyTimeout())
	}

	return syncer.NewOrchestrator(
		registry,
		limiter,
		buildDetector(cfg, logger, pool),
		syncer.NewUpserter(pool, logger),
		classifier,
		pool,
		logger,
		syncer.Options{
			ClassifyBatchSize: cfg.ClassifyBatchSize,
			ClassifyDelay:     cfg.ClassifyDelay(),
		},
	), nil
}
