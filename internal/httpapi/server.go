package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"bizradar.kr/grantsync/internal/db"
	"bizradar.kr/grantsync/internal/dedup"
	"bizradar.kr/grantsync/internal/globaltime"
	syncer "bizradar.kr/grantsync/internal/sync"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200

	defaultReviewLimit = 500
	maxReviewLimit     = 2000
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	SchedulerToken  string
}

// SyncRunner triggers one source synchronization.
type SyncRunner interface {
	Sync(ctx context.Context, source string, caller syncer.Caller) (*syncer.Summary, error)
}

type Server struct {
	pool     *db.Pool
	runner   SyncRunner
	detector *dedup.Detector
	logger   zerolog.Logger
	opts     Options
}

func NewServer(pool *db.Pool, runner SyncRunner, detector *dedup.Detector, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8080
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		// Sync runs synchronously inside the request.
		writeTimeout = 5 * time.Minute
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:     pool,
		runner:   runner,
		detector: detector,
		logger:   logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			SchedulerToken:  opts.SchedulerToken,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.buildEcho()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("grantsync api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("grantsync api server stopped")
	return nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/listings", s.handleListings)
	api.GET("/listings/:listing_uuid", s.handleListingDetail)
	api.GET("/listings/:listing_uuid/changes", s.handleListingChanges)
	api.GET("/changes", s.handleRecentChanges)
	api.GET("/runs", s.handleRuns)
	api.GET("/duplicates", s.handleDuplicates)
	api.GET("/duplicate-groups", s.handleDuplicateGroups)
	api.POST("/sync/:source", s.handleSync)
	api.POST("/listings/:listing_uuid/merge", s.handleMerge)

	return e
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "grantsync",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.pool.QueryStats(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleRuns(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), 50, 1, 500)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	source := strings.TrimSpace(c.QueryParam("source"))
	runs, err := s.pool.ListSyncRuns(c.Request().Context(), source, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query sync runs failed")
		return internalError(c, "Failed to load sync runs")
	}

	items := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		items = append(items, runView(run))
	}
	return success(c, map[string]any{
		"items":  items,
		"source": source,
	})
}

func (s *Server) handleRecentChanges(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), 50, 1, 500)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	records, err := s.pool.ListRecentChangeRecords(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query recent changes failed")
		return internalError(c, "Failed to load change records")
	}
	return success(c, map[string]any{
		"items": changeViews(records),
	})
}

func parsePositiveInt(raw string, fallback, min, max int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < min || value > max {
		return 0, fmt.Errorf("must be between %d and %d", min, max)
	}
	return value, nil
}

func runView(run db.SyncRun) map[string]any {
	view := map[string]any{
		"run_uuid":      run.SyncRunUUID,
		"source":        run.Source,
		"status":        run.Status,
		"started_at":    run.StartedAt,
		"ended_at":      run.EndedAt,
		"total_fetched": run.TotalFetched,
		"new_added":     run.NewAdded,
		"updated":       run.Updated,
		"failed":        run.Failed,
	}
	if run.ErrorMessage != nil {
		view["error_message"] = *run.ErrorMessage
	}
	return view
}

func changeViews(records []db.ChangeRecord) []map[string]any {
	views := make([]map[string]any, 0, len(records))
	for _, record := range records {
		views = append(views, map[string]any{
			"listing_id":  record.ListingID,
			"change_type": record.ChangeType,
			"field_name":  record.FieldName,
			"old_value":   record.OldValue,
			"new_value":   record.NewValue,
			"detected_at": record.DetectedAt,
		})
	}
	return views
}
