// Package api wires together all HTTP routes for the fieldtrace service.
//
// Route grouping philosophy:
//   - System routes (/health, /ready, /version, /metrics) are unauthenticated
//     so probes and scrapers need no credentials.
//   - Everything under /api/v1/ requires authentication and the appropriate
//     scope: changes:write to record, changes:read to query, admin for key
//     management and operational triggers.
//
// Middleware order matters: Recovery first so a panic anywhere below still
// produces a 500, RequestID before Logger so every log line carries the ID,
// Metrics before handlers so latency covers the whole chain.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldtrace/fieldtrace/internal/api/admin"
	"github.com/fieldtrace/fieldtrace/internal/archive"
	"github.com/fieldtrace/fieldtrace/internal/auth"
	"github.com/fieldtrace/fieldtrace/internal/auth/oidc"
	"github.com/fieldtrace/fieldtrace/internal/config"
	"github.com/fieldtrace/fieldtrace/internal/db/repositories"
	"github.com/fieldtrace/fieldtrace/internal/jobs"
	"github.com/fieldtrace/fieldtrace/internal/middleware"
	"github.com/fieldtrace/fieldtrace/internal/policy"
	"github.com/fieldtrace/fieldtrace/internal/recorder"
	"github.com/fieldtrace/fieldtrace/internal/shipper"
	"github.com/fieldtrace/fieldtrace/pkg/track"

	// Import archive backends to register them
	_ "github.com/fieldtrace/fieldtrace/internal/archive/azure"
	_ "github.com/fieldtrace/fieldtrace/internal/archive/gcs"
	_ "github.com/fieldtrace/fieldtrace/internal/archive/local"
	_ "github.com/fieldtrace/fieldtrace/internal/archive/s3"
)

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	retentionSweeper *jobs.RetentionSweeper
	exportJob        *jobs.ArchiveExportJob
	policyWatcher    *policy.Watcher
	shippers         *shipper.MultiShipper
	limiterStop      func()
}

// Shutdown stops all background goroutines and flushes the shippers. It should
// be called after the HTTP server has been shut down so that in-flight requests
// are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.retentionSweeper != nil {
		bg.retentionSweeper.Stop()
	}
	if bg.exportJob != nil {
		bg.exportJob.Stop()
	}
	if bg.policyWatcher != nil {
		bg.policyWatcher.Stop()
	}
	if bg.shippers != nil {
		if err := bg.shippers.Close(); err != nil {
			slog.Error("failed to close shippers", "error", err)
		}
	}
	if bg.limiterStop != nil {
		bg.limiterStop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router with all routes, middleware,
// and background services.
func NewRouter(cfg *config.Config, db *sqlx.DB) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	bg := &BackgroundServices{}

	// Repositories
	changeSetRepo := repositories.NewChangeSetRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)

	// Delivery sinks
	shippers, err := shipper.NewMultiShipper(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize shippers: %w", err)
	}
	bg.shippers = shippers

	var sink shipper.Shipper
	if shippers.Len() > 0 {
		sink = shippers
	}
	rec := recorder.New(changeSetRepo, sink)

	// Archive backend and exporter (optional)
	var backend archive.Backend
	var exporter *archive.Exporter
	if cfg.Archive.Backend != "" {
		backend, err = archive.New(&cfg.Archive)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize archive backend: %w", err)
		}
		var signer *archive.Signer
		if cfg.Archive.SigningKeyFile != "" {
			signer, err = archive.NewSignerFromFile(cfg.Archive.SigningKeyFile)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to load archive signing key: %w", err)
			}
		}
		exporter = archive.NewExporter(changeSetRepo, backend, cfg.Archive.Prefix, signer)
		slog.Info("archive backend initialized", "backend", cfg.Archive.Backend)
	}

	// Tracking registry and policy
	registry := track.NewRegistry()
	if cfg.Policy.Debug {
		registry.SetDiagnostic(track.NewSlogDiagnostic(slog.Default()))
	}
	applier := policy.NewApplier(registry)
	var watcher *policy.Watcher
	if cfg.Policy.Path != "" {
		p, err := policy.Load(cfg.Policy.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load tracking policy: %w", err)
		}
		applier.Apply(p)

		if cfg.Policy.Watch {
			watcher, err = policy.NewWatcher(cfg.Policy.Path, applier)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to watch tracking policy: %w", err)
			}
			watcher.Start()
			bg.policyWatcher = watcher
		}
	}

	// Background jobs
	sweeper := jobs.NewRetentionSweeper(changeSetRepo, &cfg.Retention)
	sweeper.Start(context.Background())
	bg.retentionSweeper = sweeper

	if exporter != nil {
		exportJob := jobs.NewArchiveExportJob(exporter, &cfg.Archive.Export)
		exportJob.Start(context.Background())
		bg.exportJob = exportJob
	}

	// OIDC bearer verification (optional)
	var verifier *oidc.Verifier
	if cfg.Auth.OIDC.Enabled {
		verifier, err = oidc.NewVerifier(&cfg.Auth.OIDC)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize OIDC verifier: %w", err)
		}
	}

	// Middleware chain
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// System endpoints
	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, backend))
	router.GET("/version", versionHandler())
	if cfg.Telemetry.Metrics.Enabled && cfg.Telemetry.Metrics.PrometheusPort == 0 {
		// A non-zero port moves the scrape endpoint to a dedicated listener
		// in cmd/server, keeping it off the public API surface.
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// Handlers
	changeSetHandlers := NewChangeSetHandlers(changeSetRepo, rec)
	profileHandlers := NewProfileHandlers(registry, changeSetRepo, rec)
	apiKeyHandlers := admin.NewAPIKeyHandlers(cfg, apiKeyRepo)
	opsHandlers := admin.NewOpsHandlers(cfg.Policy.Path, applier, exporter)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(cfg, apiKeyRepo, verifier))

	if cfg.Security.RateLimiting.Enabled {
		rlc := middleware.DefaultRateLimitConfig()
		if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
			rlc.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
		}
		if cfg.Security.RateLimiting.Burst > 0 {
			rlc.BurstSize = cfg.Security.RateLimiting.Burst
		}
		limiter, stop := middleware.NewClientLimiter(cfg, rlc)
		bg.limiterStop = stop
		apiV1.Use(middleware.RateLimitMiddleware(limiter, rlc.RequestsPerMinute))
	}

	{
		// Change-set ingest and query
		apiV1.POST("/changesets",
			middleware.RequireScope(auth.ScopeChangesWrite),
			changeSetHandlers.Ingest)
		apiV1.GET("/changesets",
			middleware.RequireScope(auth.ScopeChangesRead),
			changeSetHandlers.List)
		// stats before :id so gin does not treat "stats" as an ID
		apiV1.GET("/changesets/stats",
			middleware.RequireScope(auth.ScopeAdmin),
			changeSetHandlers.Stats)
		apiV1.GET("/changesets/:id",
			middleware.RequireScope(auth.ScopeChangesRead),
			changeSetHandlers.Get)

		// Profile demo entity, mutated through the tracking engine
		apiV1.POST("/profiles",
			middleware.RequireScope(auth.ScopeChangesWrite),
			profileHandlers.Create)
		apiV1.GET("/profiles/:id",
			middleware.RequireScope(auth.ScopeChangesRead),
			profileHandlers.Get)
		apiV1.PATCH("/profiles/:id",
			middleware.RequireScope(auth.ScopeChangesWrite),
			profileHandlers.Update)
		apiV1.GET("/profiles/:id/history",
			middleware.RequireScope(auth.ScopeChangesRead),
			profileHandlers.History)

		// Admin
		adminGroup := apiV1.Group("/admin")
		adminGroup.Use(middleware.RequireScope(auth.ScopeAdmin))
		{
			adminGroup.POST("/apikeys", apiKeyHandlers.Create)
			adminGroup.GET("/apikeys", apiKeyHandlers.List)
			adminGroup.DELETE("/apikeys/:id", apiKeyHandlers.Delete)
			adminGroup.POST("/policy/reload", opsHandlers.ReloadPolicy)
			adminGroup.POST("/archive/export", opsHandlers.ExportArchive)
		}
	}

	return router, bg, nil
}

// LoggerMiddleware logs one structured line per request.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS preflight and response headers for the
// configured allowed origins.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
