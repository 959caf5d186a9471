// Package main is the entrypoint for the ApplyPilot API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/applyhq/applypilot/internal/api"
	"github.com/applyhq/applypilot/internal/api/handler"
	mw "github.com/applyhq/applypilot/internal/api/middleware"
	"github.com/applyhq/applypilot/internal/api/response"
	"github.com/applyhq/applypilot/internal/broadcast"
	"github.com/applyhq/applypilot/internal/cache"
	"github.com/applyhq/applypilot/internal/config"
	"github.com/applyhq/applypilot/internal/enrich"
	"github.com/applyhq/applypilot/internal/jobboard"
	"github.com/applyhq/applypilot/internal/orchestrator"
	"github.com/applyhq/applypilot/internal/ratelimit"
	"github.com/applyhq/applypilot/internal/scheduler"
	"github.com/applyhq/applypilot/internal/store"
	"github.com/applyhq/applypilot/internal/submitter"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "board", cfg.Board.BaseURL, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create store and collaborators
	pgStore := store.NewPostgresStore(pool)

	board := jobboard.NewHTTPClient(cfg.Board.BaseURL, cfg.Board.APIKey, cfg.Board.Source, cfg.Board.Timeout)

	enricher, err := enrich.NewEnricher(cfg.Enrich)
	if err != nil {
		return fmt.Errorf("create enricher: %w", err)
	}
	slog.Info("enricher initialized", "provider", enricher.Name())

	broadcaster := broadcast.NewRedisBroadcaster(redisCache.Client())

	limiter := ratelimit.New(ratelimit.Config{
		Capacity:      cfg.RateLimit.Capacity,
		RefillPerHour: cfg.RateLimit.RefillPerHour,
	})
	defer limiter.Close()

	scorer := scheduler.NewService(pgStore, redisCache, limiter)

	// 6. Start background loops
	orch := orchestrator.New(board, enricher, broadcaster, pgStore, cfg.Orchestrator, cfg.Board.Source)
	go orch.Run(ctx)

	worker := submitter.New(pgStore, board, limiter, submitter.NopCustomizer{}, cfg.Submitter)
	go worker.Run(ctx)

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		CreateWorkflowHandler:   handler.NewCreateWorkflowHandler(pgStore),
		GetWorkflowHandler:      handler.NewGetWorkflowHandler(pgStore),
		WorkflowQueueHandler:    handler.NewWorkflowQueueHandler(pgStore),
		WorkflowProgressHandler: handler.NewWorkflowProgressHandler(pgStore, scorer),
		OptimizeHandler:         handler.NewOptimizeWorkflowHandler(pgStore, scorer),
		EstimateHandler:         handler.NewEstimateWorkflowHandler(pgStore, scorer),

		PutScheduleHandler:    handler.NewPutScheduleHandler(orch),
		GetScheduleHandler:    handler.NewGetScheduleHandler(orch),
		DeleteScheduleHandler: handler.NewDeleteScheduleHandler(orch),
		FetchNowHandler:       handler.NewFetchNowHandler(orch),
		FetchHandler:          handler.NewFetchHandler(orch),

		LimitsHandler: handler.NewLimitsHandler(limiter),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
