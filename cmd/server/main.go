package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/FleetAI/fleet-console/internal/analytics"
	"github.com/FleetAI/fleet-console/internal/client"
	"github.com/FleetAI/fleet-console/internal/config"
	"github.com/FleetAI/fleet-console/internal/handler/tools"
	"github.com/FleetAI/fleet-console/internal/logger"
	mcpserver "github.com/FleetAI/fleet-console/internal/mcp-server"
	"github.com/FleetAI/fleet-console/internal/session"
	"github.com/FleetAI/fleet-console/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LogLevel(cfg.LogLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(log, cfg); err != nil {
		log.Fatal("Server stopped", zap.Error(err))
	}
}

func run(log *zap.Logger, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, log, telemetry.Config{
		Endpoint:       cfg.OtelEndpoint,
		Insecure:       cfg.OtelInsecure,
		ServiceName:    "fleet-console",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}

	tracker, err := analytics.New(log, cfg.SegmentWriteKey)
	if err != nil {
		return fmt.Errorf("failed to set up analytics: %w", err)
	}

	// one client per API key; the rate limit applies per key
	newGateway := func(apiKey string) session.Gateway {
		return client.NewClient(log, cfg.URL, apiKey,
			client.WithRateLimit(cfg.RequestsPerSecond, int(cfg.RequestsPerSecond)),
			client.WithTimeout(cfg.RequestTimeout))
	}

	handler, err := tools.NewHandler(log, newGateway, tools.Options{
		DefaultAPIKey: cfg.APIKey,
		CacheSize:     cfg.SessionCacheSize,
		Tracker:       tracker,
		Session: session.Options{
			ListPageSize:    cfg.ListPageSize,
			ReportPageSize:  cfg.ReportPageSize,
			RefreshDebounce: cfg.RefreshDebounce,
		},
	})
	if err != nil {
		return err
	}

	serveErr := mcpserver.NewMCPServer(log, handler, cfg).Start(ctx)

	handler.Close()
	if err := tracker.Close(); err != nil {
		log.Warn("Failed to flush analytics", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		log.Warn("Failed to shut down telemetry", zap.Error(err))
	}
	return serveErr
}
