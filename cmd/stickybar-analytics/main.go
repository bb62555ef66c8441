package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bdmapps/stickybar-analytics/internal/config"
	"github.com/bdmapps/stickybar-analytics/internal/database"
	"github.com/bdmapps/stickybar-analytics/internal/geo"
	"github.com/bdmapps/stickybar-analytics/internal/httpserver"
	"github.com/bdmapps/stickybar-analytics/internal/ingest"
	"github.com/bdmapps/stickybar-analytics/internal/metrics"
	"github.com/bdmapps/stickybar-analytics/internal/middleware"
	"github.com/bdmapps/stickybar-analytics/internal/rollup"
	"github.com/bdmapps/stickybar-analytics/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use logger yet, fall back to panic
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting stickybar-analytics",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics("stickybar")

	// Databases connect best-effort: an unreachable store degrades the
	// service to in-memory mode instead of preventing startup, so the
	// storefront script keeps getting 2xx during an outage.
	ch, err := database.NewClickHouseDB(ctx, cfg.ClickHouse, logger)
	if err != nil {
		logger.Warn("clickhouse unavailable", zap.Error(err))
		ch = nil
	} else {
		defer ch.Close()
	}

	pg, err := database.NewPostgresDB(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Warn("postgres unavailable", zap.Error(err))
		pg = nil
	} else {
		defer pg.Close()
	}

	rdb, err := database.NewRedisDB(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Warn("redis unavailable, report caching disabled", zap.Error(err))
		rdb = nil
	} else {
		defer rdb.Close()
	}

	// Self-bootstrap schemas on whatever stores are reachable.
	if pg != nil {
		if err := storage.EnsurePostgresSchema(ctx, pg.Pool); err != nil {
			logger.Fatal("failed to ensure postgres schema", zap.Error(err))
		}
	}

	var geoResolver ingest.CountryResolver
	if cfg.Geo.Enabled {
		resolver, err := geo.NewResolver(cfg.Geo.DatabasePath, cfg.Geo.CacheSize, cfg.Geo.CacheTTL)
		if err != nil {
			logger.Warn("geo enrichment disabled", zap.Error(err))
		} else {
			defer resolver.Close()
			geoResolver = resolver
		}
	}

	deps := &httpserver.Dependencies{
		PG:      pg,
		CH:      ch,
		Redis:   rdb,
		Geo:     geoResolver,
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
	}

	stores := httpserver.BuildStores(deps)

	if ch != nil {
		if chStore, ok := stores.Events.(*storage.ClickHouseEventStore); ok {
			if err := chStore.EnsureSchema(ctx); err != nil {
				logger.Fatal("failed to ensure clickhouse schema", zap.Error(err))
			}
		}
	}

	handler := httpserver.NewServer(deps, stores)

	// Apply middleware chain (order matters: outermost first)
	// Recovery -> Logging -> RateLimit -> Auth -> Handler
	recoveryMW := middleware.NewRecoveryMiddleware(logger)
	loggingMW := middleware.NewLoggingMiddleware(logger)
	rateLimitMW := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger, m)
	authMW := middleware.NewAuthMiddleware(cfg.Auth, logger)

	finalHandler := recoveryMW.Handler(
		loggingMW.Handler(
			rateLimitMW.Handler(
				authMW.Handler(handler),
			),
		),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           finalHandler,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Nightly rollup
	if cfg.Rollup.Enabled {
		runner := rollup.NewRunner(stores.Events, stores.Conversions, stores.Dailies, cfg.Rollup.Concurrency, logger, m)
		scheduler := rollup.NewScheduler(runner, cfg.Rollup.Delay, logger)
		go scheduler.Start(ctx)
	}

	// Periodic connection pool stats
	if pg != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					st := pg.Stats()
					m.UpdateDBStats(int(st.IdleConns()), int(st.AcquiredConns()), int(st.TotalConns()))
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	cancel()

	logger.Info("server stopped")
}
