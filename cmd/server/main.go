// Package main is the entrypoint for the try-on API server.
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

	"github.com/tryrack/tryon/internal/api"
	"github.com/tryrack/tryon/internal/api/handler"
	mw "github.com/tryrack/tryon/internal/api/middleware"
	"github.com/tryrack/tryon/internal/cache"
	"github.com/tryrack/tryon/internal/config"
	"github.com/tryrack/tryon/internal/fetch"
	"github.com/tryrack/tryon/internal/generate"
	"github.com/tryrack/tryon/internal/storage"
	"github.com/tryrack/tryon/internal/store"
	"github.com/tryrack/tryon/internal/tryon"
	"github.com/tryrack/tryon/internal/wardrobe"
)

const (
	version         = "0.3.0"
	shutdownTimeout = 30 * time.Second
)

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
	slog.Info("config loaded", "env", cfg.Server.Env, "model", cfg.Gemini.Model)

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

	// 5. Create object storage
	uploader, err := storage.NewS3Uploader(cfg.S3)
	if err != nil {
		return fmt.Errorf("create s3 uploader: %w", err)
	}
	slog.Info("object storage initialized", "bucket", cfg.S3.Bucket)

	// 6. Create store and pipeline
	pgStore := store.NewPostgresStore(pool)

	fetcher := fetch.NewHTTPFetcher(cfg.Pipeline.FetchTimeout)
	acquirer := fetch.NewAcquirer(fetcher, cfg.Pipeline.FetchBackoff, slog.Default())
	invoker := generate.NewGeminiInvoker(cfg.Gemini)
	slog.Info("generation invoker initialized", "invoker", invoker.Name())

	deliverer := tryon.NewDeliverer(pgStore, redisCache, uploader, cfg.Pipeline.ResultCacheTTL, slog.Default())
	orchestrator := tryon.NewOrchestrator(pgStore, acquirer, invoker, deliverer, slog.Default())

	workerPool := tryon.NewPool(orchestrator, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, slog.Default())
	workerPool.Start(ctx)

	sweeper := tryon.NewSweeper(pgStore, redisCache, deliverer,
		cfg.Pipeline.StaleAfter, cfg.Pipeline.SweepInterval, slog.Default())
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	// 7. Create services
	tryOnSvc := tryon.NewService(pgStore, redisCache, workerPool, slog.Default())
	wardrobeSvc := wardrobe.NewService(pgStore, uploader, slog.Default())

	// 8. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache, version),

		CreateTryOnHandler: handler.NewCreateTryOnHandler(tryOnSvc),
		PollTryOnHandler:   handler.NewPollTryOnHandler(tryOnSvc),
		ListTryOnHandler:   handler.NewListTryOnHandler(tryOnSvc),
		DeleteTryOnHandler: handler.NewDeleteTryOnHandler(tryOnSvc),

		CreateWardrobeHandler: handler.NewCreateWardrobeHandler(wardrobeSvc),
		GetWardrobeHandler:    handler.NewGetWardrobeHandler(wardrobeSvc),
		ListWardrobeHandler:   handler.NewListWardrobeHandler(wardrobeSvc),
		UpdateWardrobeHandler: handler.NewUpdateWardrobeHandler(wardrobeSvc),
		DeleteWardrobeHandler: handler.NewDeleteWardrobeHandler(wardrobeSvc),
		MarkWornHandler:       handler.NewMarkWornHandler(wardrobeSvc),
		StyleInsightsHandler:  handler.NewStyleInsightsHandler(wardrobeSvc),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
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

	// Graceful shutdown with timeout. Order matters: stop accepting requests,
	// then drain the pipeline, then let pending uploads land.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	sweeper.Stop()
	workerPool.Stop()
	deliverer.Wait()

	slog.Info("server stopped gracefully")
	return nil
}
