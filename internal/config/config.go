package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"GS_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"GS_DB_MAX_CONNS" default:"8"`

	// RedisURL is optional; when empty the sync rate limiter fails open.
	RedisURL string `envconfig:"REDIS_URL" default:""`

	// SchedulerToken marks a caller as the trusted scheduler and bypasses
	// rate limiting. Empty means no caller is ever trusted.
	SchedulerToken string `envconfig:"SCHEDULER_TOKEN" default:""`

	ClassifierURL       string `envconfig:"CLASSIFIER_URL" default:""`
	ClassifyBatchSize   int    `envconfig:"CLASSIFY_BATCH_SIZE" default:"10"`
	ClassifyDelayMS     int    `envconfig:"CLASSIFY_DELAY_MS" default:"1000"`
	ClassifyTimeoutSecs int    `envconfig:"CLASSIFY_TIMEOUT_SECONDS" default:"30"`

	SyncRateLimit       int     `envconfig:"SYNC_RATE_LIMIT" default:"10"`
	SyncRateWindowSecs  int     `envconfig:"SYNC_RATE_WINDOW_SECONDS" default:"3600"`
	SimilarityThreshold float64 `envconfig:"SIMILARITY_THRESHOLD" default:"0.90"`

	// SourceFeeds maps source names to JSON feed URLs, e.g.
	// "bizinfo=https://feeds.example.kr/bizinfo.json,kstartup=https://feeds.example.kr/kstartup.json".
	SourceFeeds string `envconfig:"SOURCE_FEEDS" default:""`

	// FetchContent enables readable-content extraction for listings that
	// arrive with only a detail URL.
	FetchContent   bool `envconfig:"FETCH_CONTENT" default:"false"`
	DetectLanguage bool `envconfig:"DETECT_LANGUAGE" default:"false"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("GS_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("GS_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("GS_DB_MIN_CONNS (%d) cannot exceed GS_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.ClassifyBatchSize < 0 {
		return fmt.Errorf("CLASSIFY_BATCH_SIZE must be >= 0")
	}
	if c.ClassifyDelayMS < 0 {
		return fmt.Errorf("CLASSIFY_DELAY_MS must be >= 0")
	}
	if c.ClassifyTimeoutSecs < 1 {
		return fmt.Errorf("CLASSIFY_TIMEOUT_SECONDS must be >= 1")
	}
	if c.SyncRateLimit < 1 {
		return fmt.Errorf("SYNC_RATE_LIMIT must be >= 1")
	}
	if c.SyncRateWindowSecs < 1 {
		return fmt.Errorf("SYNC_RATE_WINDOW_SECONDS must be >= 1")
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be in (0, 1]")
	}
	if _, err := c.SourceFeedMap(); err != nil {
		return err
	}
	return nil
}

func (c *Config) ClassifyDelay() time.Duration {
	return time.Duration(c.ClassifyDelayMS) * time.Millisecond
}

func (c *Config) ClassifyTimeout() time.Duration {
	return time.Duration(c.ClassifyTimeoutSecs) * time.Second
}

func (c *Config) SyncRateWindow() time.Duration {
	return time.Duration(c.SyncRateWindowSecs) * time.Second
}

// SourceFeedMap parses SOURCE_FEEDS into a source -> feed URL map.
func (c *Config) SourceFeedMap() (map[string]string, error) {
	feeds := map[string]string{}
	if c == nil {
		return feeds, nil
	}

	for _, part := range strings.Split(c.SourceFeeds, ",") {
		entry := strings.TrimSpace(part)
		if entry == "" {
			continue
		}
		name, feedURL, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(strings.ToLower(name))
		feedURL = strings.TrimSpace(feedURL)
		if !ok || name == "" || feedURL == "" {
			return nil, fmt.Errorf("SOURCE_FEEDS entry %q must look like source=url", entry)
		}
		if _, exists := feeds[name]; exists {
			return nil, fmt.Errorf("SOURCE_FEEDS source %q is configured twice", name)
		}
		feeds[name] = feedURL
	}
	return feeds, nil
}
