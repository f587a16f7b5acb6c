// Command ingestion serves the document administration API.
//
// Editors create, update, archive and delete knowledge records through
// /api/v1/documents. Every committed change is written to the document store
// and announced on the document-changes Kafka topic so search nodes re-index
// it.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document/pgstore"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/middleware"
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
	slog.Info("starting ingestion service", "port", cfg.Ingestion.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker()

	var store document.Store
	pg, db, err := pgstore.Open(ctx, cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, records will not outlive this process", "error", err)
		store = document.NewMemoryStore()
	} else {
		defer db.Close()
		store = pg
		checker.Register("postgres", health.PingCheck(db.Ping))
		slog.Info("connected to postgres", "database", cfg.Postgres.Database)
	}

	var producer kafka.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		p := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentChanges)
		defer p.Close()
		producer = p
		slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.DocumentChanges)
	}

	pub := publisher.New(store, producer)
	h := handler.New(pub, cfg.Ingestion.MaxBodyBytes, cfg.Ingestion.MaxTitleLength)

	m := metrics.New()
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins)),
		middleware.Metrics(m),
		middleware.Timeout(cfg.Server.RequestTimeout),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Ingestion.Port),
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
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
