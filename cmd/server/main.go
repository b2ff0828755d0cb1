// Command server runs the Codexverse API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codexverse/internal/analytics"
	"codexverse/internal/bootstrap"
	"codexverse/internal/config"
	"codexverse/internal/middleware"
	"codexverse/internal/observability"
	"codexverse/internal/server"
	"codexverse/internal/supervisor"
)

var version = "dev"

// @title Codexverse API
// @version 1.0
// @description Project catalogue, support tickets, moderation and realtime chat.
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email support@codexverse.dev

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:10000
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	fixtures := flag.String("fixtures", "", "YAML catalogue to apply at startup")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	middleware.SetupLogger(cfg.Env)
	logger := middleware.Logger
	observability.SetLogger(logger)

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "codexverse-api",
		ServiceVersion: version,
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSampleRatio,
		DBDriver:       cfg.DBDriver,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, rdb, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{FixturesPath: *fixtures})
	if err != nil {
		logger.Error("failed to initialize runtime", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv, err := server.NewServerWithDeps(cfg, db, rdb)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	treeCfg := supervisor.DefaultTreeConfig()
	tree := supervisor.NewTree(logger, treeCfg)
	tree.AddBackgroundService(analytics.NewPruner(srv.Analytics(), cfg.AnalyticsPruneInterval, logger))
	tree.AddAPIService(supervisor.NewHTTPService(srv.App(), ":"+cfg.Port, treeCfg.ShutdownTimeout,
		func(ctx context.Context) {
			// Sockets close before the listener stops.
			if err := srv.Hub().Shutdown(ctx); err != nil {
				logger.Warn("hub shutdown failed", slog.String("error", err.Error()))
			}
		}))

	logger.Info("server starting", slog.String("port", cfg.Port), slog.String("env", cfg.Env), slog.String("version", version))
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("supervisor exited", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", slog.String("error", err.Error()))
	}
}
