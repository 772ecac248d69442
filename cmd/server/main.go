package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iammorganparry/rolechat-memory/internal/api"
	"github.com/iammorganparry/rolechat-memory/internal/app"
	"github.com/iammorganparry/rolechat-memory/internal/config"
	"github.com/iammorganparry/rolechat-memory/internal/jobs"
	"github.com/iammorganparry/rolechat-memory/internal/logging"
)

func main() {
	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Logger
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Index.HealthCheck(ctx); err != nil {
		logger.Warn("vector index not available at startup, will retry on first use", "error", err)
	}

	// Periodic sweep
	var scheduler *jobs.Scheduler
	if cfg.SweepEnabled {
		scheduler, err = jobs.NewScheduler(cfg.SweepSchedule, a.Sweeper, 5*time.Minute, logger)
		if err != nil {
			logger.Error("failed to create sweep scheduler", "error", err)
			os.Exit(1)
		}
		scheduler.Start(ctx)
	}

	// Router
	router := api.NewRouter(a.DB, a.Service, a.Index, a.LLMHealth, cfg.APIKey, logger)

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("memory server starting", "addr", addr,
			"llm", a.Model.Name(), "embedding_model", a.Embedder.Model(), "vector_backend", cfg.VectorBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if scheduler != nil {
		scheduler.Stop()
	}

	logger.Info("server stopped")
}
