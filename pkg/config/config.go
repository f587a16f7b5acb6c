// Package config loads application configuration from YAML files with
// environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Indexer, Search, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/logger"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Search    SearchConfig    `yaml:"search"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings for the search service.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

// IngestionConfig holds settings for the document administration service.
type IngestionConfig struct {
	Port           int   `yaml:"port"`
	MaxBodyBytes   int64 `yaml:"maxBodyBytes"`
	MaxTitleLength int   `yaml:"maxTitleLength"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables event streaming and the services fall back to in-process events.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentChanges string `yaml:"documentChanges"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and result-caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// FieldWeights are the per-field multipliers applied to term frequency.
type FieldWeights struct {
	Title   float64 `yaml:"title"`
	Tags    float64 `yaml:"tags"`
	Content float64 `yaml:"content"`
}

// IndexerConfig controls index construction and reconciliation.
type IndexerConfig struct {
	Weights             FieldWeights  `yaml:"weights"`
	ConsistencyInterval time.Duration `yaml:"consistencyInterval"`
	SeedPath            string        `yaml:"seedPath"`
}

// SearchConfig controls query processing, ranking and paging limits.
type SearchConfig struct {
	InstantMinWidth  int           `yaml:"instantMinWidth"`
	InstantLimit     int           `yaml:"instantLimit"`
	MaxInstantLimit  int           `yaml:"maxInstantLimit"`
	PrefixExpansions int           `yaml:"prefixExpansions"`
	DefaultPageSize  int           `yaml:"defaultPageSize"`
	MaxPageSize      int           `yaml:"maxPageSize"`
	SnippetLength    int           `yaml:"snippetLength"`
	PhraseBoost      float64       `yaml:"phraseBoost"`
	SynonymsPath     string        `yaml:"synonymsPath"`
	HealTimeout      time.Duration `yaml:"healTimeout"`
}

// AnalyticsConfig controls search-event collection and the standalone
// analytics service.
type AnalyticsConfig struct {
	Port              int           `yaml:"port"`
	BufferSize        int           `yaml:"bufferSize"`
	SnapshotInterval  time.Duration `yaml:"snapshotInterval"`
	SnapshotRetention int           `yaml:"snapshotRetention"` // 0 keeps every snapshot
}

// RateLimitConfig bounds per-client request rates on instant search.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the search core cannot run with.
func (c *Config) Validate() error {
	w := c.Indexer.Weights
	if w.Title <= 0 || w.Tags <= 0 || w.Content <= 0 {
		return fmt.Errorf("invalid config: field weights must be positive, got title=%v tags=%v content=%v", w.Title, w.Tags, w.Content)
	}
	if c.Search.InstantLimit < 1 || c.Search.InstantLimit > c.Search.MaxInstantLimit {
		return fmt.Errorf("invalid config: search.instantLimit %d outside [1, %d]", c.Search.InstantLimit, c.Search.MaxInstantLimit)
	}
	if c.Search.DefaultPageSize < 1 || c.Search.DefaultPageSize > c.Search.MaxPageSize {
		return fmt.Errorf("invalid config: search.defaultPageSize %d outside [1, %d]", c.Search.DefaultPageSize, c.Search.MaxPageSize)
	}
	if c.Search.InstantMinWidth < 1 {
		return fmt.Errorf("invalid config: search.instantMinWidth must be positive")
	}
	if c.Search.PhraseBoost < 0 {
		return fmt.Errorf("invalid config: search.phraseBoost must not be negative")
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid config: logging: %w", err)
	}
	if f := strings.ToLower(c.Logging.Format); f != "json" && f != "text" {
		return fmt.Errorf("invalid config: logging.format %q is neither json nor text", c.Logging.Format)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Ingestion: IngestionConfig{
			Port:           8081,
			MaxBodyBytes:   2 << 20,
			MaxTitleLength: 200,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "ark_knowledge",
			User:            "ark",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "ark-knowledge-searcher",
			Topics: KafkaTopics{
				DocumentChanges: "document-changes",
				AnalyticsEvents: "search-analytics",
			},
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Indexer: IndexerConfig{
			Weights:             FieldWeights{Title: 3, Tags: 2, Content: 1},
			ConsistencyInterval: 5 * time.Minute,
		},
		Search: SearchConfig{
			InstantMinWidth:  3,
			InstantLimit:     5,
			MaxInstantLimit:  20,
			PrefixExpansions: 8,
			DefaultPageSize:  10,
			MaxPageSize:      100,
			SnippetLength:    120,
			PhraseBoost:      0.25,
			HealTimeout:      5 * time.Second,
		},
		Analytics: AnalyticsConfig{
			Port:              8082,
			BufferSize:        10000,
			SnapshotInterval:  5 * time.Minute,
			SnapshotRetention: 288,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads ARK_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARK_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ARK_INGESTION_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.Port = port
		}
	}
	if v := os.Getenv("ARK_ANALYTICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Analytics.Port = port
		}
	}
	if v := os.Getenv("ARK_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("ARK_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("ARK_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("ARK_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("ARK_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("ARK_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v, ok := os.LookupEnv("ARK_KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("ARK_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("ARK_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ARK_REDIS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = enabled
		}
	}
	if v := os.Getenv("ARK_INDEXER_SEED_PATH"); v != "" {
		cfg.Indexer.SeedPath = v
	}
	if v := os.Getenv("ARK_SEARCH_SYNONYMS_PATH"); v != "" {
		cfg.Search.SynonymsPath = v
	}
	if v := os.Getenv("ARK_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ARK_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("ARK_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
