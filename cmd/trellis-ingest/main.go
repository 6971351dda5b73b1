// Command trellis-ingest runs a one-shot ingest: it scans the configured
// document roots, builds the graph delta for every new or changed document,
// and applies it to the stores. Useful for backfills and cron-driven setups
// where the long-running service is not wanted.
package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jmadden/trellis/internal/config"
	"github.com/jmadden/trellis/internal/embed"
	"github.com/jmadden/trellis/internal/engine"
	"github.com/jmadden/trellis/internal/graph"
	"github.com/jmadden/trellis/internal/ingest"
	"github.com/jmadden/trellis/internal/storage"
	"github.com/jmadden/trellis/internal/storage/neo4j"
	"github.com/jmadden/trellis/internal/storage/postgres"
	"github.com/jmadden/trellis/internal/storage/sqlite"
)

func main() {
	roots := flag.String("roots", "", "comma-separated directories to scan (overrides TRELLIS_INGEST_ROOTS)")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall ingest deadline")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *roots != "" {
		cfg.Ingest.Roots = nil
		for _, r := range strings.Split(*roots, ",") {
			if r = strings.TrimSpace(r); r != "" {
				cfg.Ingest.Roots = append(cfg.Ingest.Roots, r)
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := neo4j.NewGraphStore(ctx, cfg.Storage.Neo4jURI, cfg.Storage.Neo4jUser, cfg.Storage.Neo4jPassword)
	if err != nil {
		log.Fatalf("Failed to connect to graph store: %v", err)
	}
	defer store.Close(context.Background())

	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure graph schema: %v", err)
	}

	var vectors storage.VectorIndex
	if cfg.Storage.PostgresDSN != "" {
		vi, err := postgres.NewVectorIndex(ctx, cfg.Storage.PostgresDSN, cfg.Embedding.Dimension)
		if err != nil {
			log.Fatalf("Failed to connect to vector index: %v", err)
		}
		defer vi.Close()
		vectors = vi
	}

	var embedder embed.Embedder
	if cfg.Embedding.Enabled {
		embedder = embed.NewOllamaClient(embed.OllamaConfig{
			BaseURL: cfg.Embedding.OllamaURL,
			Model:   cfg.Embedding.OllamaModel,
			Timeout: cfg.Embedding.Timeout,
		})
	}

	catalog, err := sqlite.NewCatalog(cfg.Storage.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}
	defer catalog.Close()

	engineCfg := engine.DefaultConfig()
	engineCfg.NumWorkers = cfg.Graph.NumWorkers
	graphCfg := graph.Config{
		MinConfidence:       cfg.Graph.MinConfidence,
		SimilarityThreshold: cfg.Graph.SimilarityThreshold,
		ActiveWindow:        cfg.Graph.ActiveWindow,
		NumWorkers:          cfg.Graph.NumWorkers,
		PatternFile:         cfg.Graph.PatternFile,
	}
	pipeline, err := engine.NewIngestPipeline(engineCfg, graphCfg, engine.Deps{
		Store:    store,
		Vectors:  vectors,
		Embedder: embedder,
		Catalog:  catalog,
	})
	if err != nil {
		log.Fatalf("Failed to create ingest pipeline: %v", err)
	}

	// Track completions so the run can exit once every enqueued document
	// lands.
	var mu sync.Mutex
	ingested := 0
	pipeline.SetOnDocumentIngested(func(update ingest.DocumentUpdate, stats *graph.BuildStats) {
		mu.Lock()
		ingested++
		mu.Unlock()
	})

	if err := pipeline.Start(ctx); err != nil {
		log.Fatalf("Failed to start ingest pipeline: %v", err)
	}

	chunker := ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.Overlap)
	scanner := ingest.NewScanner(catalog, chunker, cfg.Ingest.Extensions)

	updates, stats, err := scanner.Scan(ctx, cfg.Ingest.Roots)
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}
	log.Printf("Scan: %d seen, %d changed, %d skipped, %d failed",
		stats.FilesSeen, stats.FilesChanged, stats.FilesSkipped, stats.FilesFailed)

	enqueued := 0
	for i := range updates {
		if pipeline.Enqueue(updates[i]) {
			enqueued++
		}
	}

	// Shutdown drains the queue before returning.
	if err := pipeline.Shutdown(ctx); err != nil {
		log.Fatalf("Ingest pipeline shutdown failed: %v", err)
	}

	mu.Lock()
	done := ingested
	mu.Unlock()
	log.Printf("Ingest complete: %d/%d documents ingested", done, enqueued)
}
