// Command indexer builds the inverted index once from the document store and
// prints the build report as JSON. It is used to validate a store before
// rolling out search nodes and to inspect tokenization of a single record.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml] [-seed configs/seed.yaml] [-doc kb-001]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document/pgstore"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/logger"
)

type report struct {
	Build       indexer.BatchReport       `json:"build"`
	Consistency indexer.ConsistencyReport `json:"consistency"`
	Stats       indexer.Stats             `json:"stats"`
	Document    *documentTerms            `json:"document,omitempty"`
}

type documentTerms struct {
	ID    string   `json:"id"`
	Terms []string `json:"terms"`
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	seedPath := flag.String("seed", "", "build from a seed file instead of the configured store")
	docID := flag.String("doc", "", "print the indexed terms of one document")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	// stdout carries the JSON report.
	slog.SetDefault(logger.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store document.Store
	if *seedPath != "" {
		mem := document.NewMemoryStore()
		n, err := document.LoadSeed(ctx, mem, *seedPath)
		if err != nil {
			slog.Error("failed to load seed documents", "path", *seedPath, "error", err)
			os.Exit(1)
		}
		slog.Info("seed documents loaded", "count", n)
		store = mem
	} else {
		pg, db, err := pgstore.Open(ctx, cfg.Postgres)
		if err != nil {
			slog.Error("failed to open document store", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = pg
	}

	weights := index.Weights{
		Title:   cfg.Indexer.Weights.Title,
		Tags:    cfg.Indexer.Weights.Tags,
		Content: cfg.Indexer.Weights.Content,
	}
	engine := indexer.NewEngine(store, weights, nil)

	var out report
	if out.Build, err = engine.RebuildAll(ctx); err != nil {
		slog.Error("index build failed", "error", err)
		os.Exit(1)
	}
	if out.Consistency, err = engine.CheckConsistency(ctx); err != nil {
		slog.Error("consistency check failed", "error", err)
		os.Exit(1)
	}
	out.Stats = engine.Stats()

	if *docID != "" {
		terms, ok := engine.Snapshot().TermsOf(*docID)
		if !ok {
			slog.Error("document is not indexed", "doc_id", *docID)
			os.Exit(1)
		}
		sort.Strings(terms)
		out.Document = &documentTerms{ID: *docID, Terms: terms}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		slog.Error("failed to write report", "error", err)
		os.Exit(1)
	}
	if len(out.Build.Rejected) > 0 {
		os.Exit(2)
	}
}
