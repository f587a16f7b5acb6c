// Command searcher serves knowledge search for the portal.
//
// It keeps an in-memory inverted index of published documents, applies
// document change events from Kafka, and answers full and instant searches
// over HTTP. Postgres is the document store when reachable; otherwise the
// service runs on an in-memory store loaded from the seed file.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
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
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document/pgstore"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/redis"
	"github.com/prometheus/client_golang/prometheus"
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
	slog.Info("starting search service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		metrics.StartServer(ctx, cfg.Metrics.Port, prometheus.DefaultGatherer)
	}

	store, db := openStore(ctx, cfg)
	if db != nil {
		defer db.Close()
	}

	weights := index.Weights{
		Title:   cfg.Indexer.Weights.Title,
		Tags:    cfg.Indexer.Weights.Tags,
		Content: cfg.Indexer.Weights.Content,
	}
	engine := indexer.NewEngine(store, weights, m)
	store.Subscribe(engine.Listener())
	report, err := engine.RebuildAll(ctx)
	if err != nil {
		slog.Error("initial index build failed", "error", err)
		os.Exit(1)
	}
	slog.Info("index built", "documents", report.Indexed, "rejected", len(report.Rejected))
	engine.StartConsistencyLoop(ctx, cfg.Indexer.ConsistencyInterval)

	processor := query.NewProcessor(nil)
	if path := cfg.Search.SynonymsPath; path != "" {
		syn, err := query.LoadSynonyms(path)
		if err != nil {
			slog.Error("failed to load synonyms", "path", path, "error", err)
			os.Exit(1)
		}
		processor.SetSynonyms(syn)
		if err := processor.WatchSynonyms(ctx, path, m); err != nil {
			slog.Warn("synonym hot reload disabled", "error", err)
		}
		slog.Info("synonyms loaded", "path", path, "groups", syn.Len())
	}

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	aggregator := analytics.NewAggregator()
	var analyticsPublisher kafka.Publisher = kafka.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, kafka.Async())
		defer producer.Close()
		analyticsPublisher = producer

		changes := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentChanges, consumer.New(engine, m).Handle)
		go func() {
			if err := changes.Start(ctx); err != nil {
				slog.Error("change consumer stopped", "error", err)
			}
		}()
		slog.Info("consuming document changes",
			"topic", cfg.Kafka.Topics.DocumentChanges,
			"group", cfg.Kafka.ConsumerGroup,
		)
	} else {
		slog.Warn("no kafka brokers configured, relying on local change events and consistency checks")
	}
	collector := analytics.NewCollector(analyticsPublisher, aggregator, cfg.Analytics.BufferSize, analytics.WithCollectorMetrics(m))
	collector.Start(ctx)

	if db != nil {
		snapshots := analyticsstore.NewStore(db, analyticsstore.SourceSearcher)
		if err := snapshots.RestoreLatest(ctx, aggregator); err != nil {
			slog.Warn("could not restore analytics snapshot", "error", err)
		}
		snapshots.StartPeriodicSave(ctx, aggregator, cfg.Analytics.SnapshotInterval, cfg.Analytics.SnapshotRetention)
	}

	opts := []searcher.Option{
		searcher.WithMetrics(m),
		searcher.WithTracker(collector),
		searcher.WithRelated(aggregator),
	}
	if queryCache != nil {
		opts = append(opts, searcher.WithCache(queryCache))
	}
	service := searcher.NewService(store, engine, processor, cfg.Search, opts...)

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		stats := engine.Stats()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("generation %d, %d documents", stats.Generation, stats.Documents),
		}
	})
	if db != nil {
		checker.Register("postgres", health.PingCheck(db.Ping))
	}
	if redisClient != nil {
		checker.Register("redis", health.Optional(health.PingCheck(redisClient.Ping)))
	}

	var instantLimiter func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewClientLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		limiter.StartCleanup(ctx)
		instantLimiter = middleware.RateLimit(limiter)
	}

	mux := http.NewServeMux()
	handler.New(service, queryCache).Register(mux, instantLimiter)
	analytics.NewHandler(aggregator).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins)),
		middleware.Metrics(m),
		middleware.Timeout(cfg.Server.RequestTimeout),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	collector.Close()
	slog.Info("search service stopped")
}

// openStore prefers Postgres and falls back to a seeded in-memory store.
func openStore(ctx context.Context, cfg *config.Config) (document.Store, *postgres.Client) {
	store, db, err := pgstore.Open(ctx, cfg.Postgres)
	if err == nil {
		slog.Info("using postgres document store", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		return store, db
	}
	slog.Warn("postgres unavailable, using in-memory document store", "error", err)

	mem := document.NewMemoryStore()
	if path := cfg.Indexer.SeedPath; path != "" {
		n, err := document.LoadSeed(ctx, mem, path)
		if err != nil {
			slog.Error("failed to load seed documents", "path", path, "error", err)
			os.Exit(1)
		}
		slog.Info("seed documents loaded", "path", path, "count", n)
	}
	return mem, nil
}
