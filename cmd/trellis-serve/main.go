// Command trellis-serve runs the Trellis knowledge-graph service: an initial
// scan of the configured document roots, the ingest worker pool, an optional
// filesystem watcher, and the HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmadden/trellis/internal/config"
	"github.com/jmadden/trellis/internal/embed"
	"github.com/jmadden/trellis/internal/engine"
	"github.com/jmadden/trellis/internal/graph"
	"github.com/jmadden/trellis/internal/ingest"
	"github.com/jmadden/trellis/internal/server"
	"github.com/jmadden/trellis/internal/storage"
	"github.com/jmadden/trellis/internal/storage/neo4j"
	"github.com/jmadden/trellis/internal/storage/postgres"
	"github.com/jmadden/trellis/internal/storage/sqlite"
	"github.com/jmadden/trellis/web/handlers"
)

func main() {
	watchFlag := flag.Bool("watch", false, "watch ingest roots for changes (overrides TRELLIS_WATCH)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *watchFlag {
		cfg.Ingest.Watch = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graph store
	store, err := neo4j.NewGraphStore(ctx, cfg.Storage.Neo4jURI, cfg.Storage.Neo4jUser, cfg.Storage.Neo4jPassword)
	if err != nil {
		log.Fatalf("Failed to connect to graph store: %v", err)
	}
	defer store.Close(context.Background())

	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure graph schema: %v", err)
	}

	// Optional vector index and embedder
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

	// Document catalog
	catalog, err := sqlite.NewCatalog(cfg.Storage.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}
	defer catalog.Close()

	// Ingest pipeline
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

	// HTTP API
	addr, wsHub, err := server.Start(ctx, cfg, server.Deps{
		Store:    store,
		Vectors:  vectors,
		Embedder: embedder,
		Temporal: pipeline.Temporal(),
	})
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Trellis API running at http://%s", addr)

	pipeline.SetOnDocumentIngested(func(update ingest.DocumentUpdate, stats *graph.BuildStats) {
		wsHub.Broadcast(handlers.NewActivityEvent(handlers.EventDocumentIngested, map[string]interface{}{
			"path":          update.Entry.Path,
			"chunks":        update.Entry.ChunkCount,
			"entities":      stats.EntitiesMerged,
			"relationships": stats.RelationshipsMerged,
		}))
	})

	if err := pipeline.Start(ctx); err != nil {
		log.Fatalf("Failed to start ingest pipeline: %v", err)
	}

	// Initial scan
	chunker := ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.Overlap)
	scanner := ingest.NewScanner(catalog, chunker, cfg.Ingest.Extensions)

	updates, stats, err := scanner.Scan(ctx, cfg.Ingest.Roots)
	if err != nil {
		log.Fatalf("Initial scan failed: %v", err)
	}
	for i := range updates {
		pipeline.Enqueue(updates[i])
	}
	wsHub.Broadcast(handlers.NewActivityEvent(handlers.EventScanCompleted, stats))

	// Optional filesystem watcher
	if cfg.Ingest.Watch {
		watcher := ingest.NewWatcher(cfg.Ingest.Roots, cfg.Ingest.Extensions, func(path string) {
			update, changed, err := scanner.ScanFile(ctx, path)
			if err != nil {
				log.Printf("Watcher: WARNING - failed to scan %s: %v", path, err)
				return
			}
			if changed {
				pipeline.Enqueue(*update)
			}
		})
		if err := watcher.Start(); err != nil {
			log.Fatalf("Failed to start watcher: %v", err)
		}
		defer watcher.Stop()
		log.Printf("Watching %d root(s) for changes", len(cfg.Ingest.Roots))
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	if err := pipeline.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down ingest pipeline: %v", err)
	}

	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}
