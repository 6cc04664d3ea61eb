// Kestrel - Customer segmentation for CRM analytics dashboards.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

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

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/audience"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/snapshot"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	domain.ApplyEnv(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"snapshot_ttl", cfg.Analytics.SnapshotTTL.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	snapshots := snapshot.NewService(repo, cacheImpl, cfg.Analytics.SnapshotTTL)

	engine, err := audience.NewEngine(8)
	if err != nil {
		slog.Error("failed to initialize audience engine", "error", err)
		os.Exit(1)
	}
	loadAudiences(ctx, repo, engine)

	syncWorker := worker.NewWorker(busImpl, repo, snapshots)
	if err := syncWorker.Start(); err != nil {
		slog.Error("failed to start sync worker", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(repo, cacheImpl, busImpl, snapshots, engine, cfg.Analytics, Version)
	srv := api.NewServer(cfg.Server, handler)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if err := syncWorker.Stop(); err != nil {
		slog.Error("failed to stop sync worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadAudiences loads saved audiences into the engine. Audiences that fail
// to compile are skipped so one bad expression cannot block startup.
func loadAudiences(ctx context.Context, repo domain.Repository, engine *audience.Engine) {
	saved, err := repo.ListAudiences(ctx)
	if err != nil {
		slog.Warn("failed to list audiences from database", "error", err)
		return
	}

	for _, a := range saved {
		if err := engine.Load(a); err != nil {
			slog.Warn("skipping audience", "id", a.ID, "error", err)
		}
	}

	slog.Info("audience engine initialized", "audiences_count", engine.Count())
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                 KESTREL                   |")
	fmt.Println("  |      RFM Customer Segmentation Engine     |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /rfm/analysis             - Segment customers (segment, limit)")
	fmt.Println("    GET  /rfm/segments             - Segment rules and actions")
	fmt.Println("    GET  /products/analytics       - Product sales statistics")
	fmt.Println("    GET  /dashboard/overview       - Sales overview and segment counts")
	fmt.Println("    POST /sync/events              - Queue a CRM sync batch")
	fmt.Println("    GET  /sync/status              - Latest sync run")
	fmt.Println("    GET  /audiences                - List audiences")
	fmt.Println("    POST /audiences                - Create an audience")
	fmt.Println("    GET  /audiences/{id}/customers - Audience members")
	fmt.Println("    POST /audiences/reload         - Hot-reload audiences")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println()
}
