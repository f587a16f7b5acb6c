// Command analytics runs the standalone search analytics service.
//
// It consumes search-analytics events from Kafka, aggregates them in memory
// (query volume, latency percentiles, cache hit rate, zero-result rate, top
// queries) and serves the totals at GET /api/v1/analytics. When Postgres is
// reachable the aggregate is restored on start and snapshotted periodically.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/analytics"
	analyticsstore "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document/pgstore"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Analytics.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aggregator := analytics.NewAggregator()
	checker := health.NewChecker()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, analytics will not be snapshotted", "error", err)
	} else {
		defer db.Close()
		if err := pgstore.Migrate(cfg.Postgres.DSN()); err != nil {
			slog.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		snapshots := analyticsstore.NewStore(db, analyticsstore.SourceAnalytics)
		if err := snapshots.RestoreLatest(ctx, aggregator); err != nil {
			slog.Warn("could not restore analytics snapshot", "error", err)
		}
		snapshots.StartPeriodicSave(ctx, aggregator, cfg.Analytics.SnapshotInterval, cfg.Analytics.SnapshotRetention)
		checker.Register("postgres", health.Optional(health.PingCheck(db.Ping)))
	}

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(aggregator))
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("analytics consumer stopped", "error", err)
		}
	}()
	slog.Info("analytics consumer started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	checker.Register("kafka", func(context.Context) health.ComponentHealth {
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d events handled, %d dropped", consumer.Handled(), consumer.Dropped()),
		}
	})
	checker.Register("aggregator", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d searches recorded", aggregator.Stats().TotalSearches),
		}
	})

	mux := http.NewServeMux()
	analytics.NewHandler(aggregator).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins)),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Analytics.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
