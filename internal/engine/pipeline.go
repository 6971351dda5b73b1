package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jmadden/trellis/internal/embed"
	"github.com/jmadden/trellis/internal/graph"
	"github.com/jmadden/trellis/internal/ingest"
	"github.com/jmadden/trellis/internal/persist"
	"github.com/jmadden/trellis/internal/storage"
)

// Deps carries the pipeline's backing services. Vectors and Embedder are
// optional and enable semantic clustering; Catalog is optional and enables
// change detection across runs.
type Deps struct {
	Store    storage.GraphStore
	Vectors  storage.VectorIndex
	Embedder embed.Embedder
	Catalog  storage.Catalog
}

// IngestPipeline is the ingestion orchestrator. Enqueue() is non-blocking;
// worker goroutines drain the queue, build each document's graph delta, and
// persist it.
type IngestPipeline struct {
	config Config

	builder   *graph.Builder
	applier   *persist.Applier
	clusterer *graph.ConceptClusterer

	vectors  storage.VectorIndex
	embedder embed.Embedder
	catalog  storage.Catalog

	queue           chan *IngestJob
	workerWaitGroup sync.WaitGroup
	workerCtx       context.Context
	workerCancel    context.CancelFunc

	started      bool
	shuttingDown bool
	mu           sync.RWMutex

	onDocumentIngested func(update ingest.DocumentUpdate, stats *graph.BuildStats)
}

// NewIngestPipeline creates a pipeline from the engine and builder configs.
func NewIngestPipeline(engineCfg Config, graphCfg graph.Config, deps Deps) (*IngestPipeline, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("graph store is required")
	}
	if err := engineCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	builder, err := graph.NewBuilder(graphCfg)
	if err != nil {
		return nil, err
	}

	return &IngestPipeline{
		config:    engineCfg,
		builder:   builder,
		applier:   persist.NewApplier(deps.Store, engineCfg.ApplyOpsPerSecond, engineCfg.ApplyBurst),
		clusterer: graph.NewConceptClusterer(graphCfg.SimilarityThreshold),
		vectors:   deps.Vectors,
		embedder:  deps.Embedder,
		catalog:   deps.Catalog,
		queue:     make(chan *IngestJob, engineCfg.QueueSize),
	}, nil
}

// Temporal exposes the builder's temporal index for the read APIs.
func (p *IngestPipeline) Temporal() *graph.TemporalIndex {
	return p.builder.Temporal()
}

// SetOnDocumentIngested registers a callback invoked after each successful
// document ingest. Must be called before Start.
func (p *IngestPipeline) SetOnDocumentIngested(fn func(update ingest.DocumentUpdate, stats *graph.BuildStats)) {
	p.onDocumentIngested = fn
}

// Start launches the worker pool.
func (p *IngestPipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("pipeline already started")
	}

	p.workerCtx, p.workerCancel = context.WithCancel(ctx)
	p.startWorkerPool(p.workerCtx)

	p.started = true
	log.Printf("Pipeline: started with %d workers", p.config.NumWorkers)
	return nil
}

// Enqueue queues a document update for ingestion. Returns false if the queue
// is full or the pipeline is not accepting work.
func (p *IngestPipeline) Enqueue(update ingest.DocumentUpdate) bool {
	p.mu.RLock()
	canQueue := p.started && !p.shuttingDown
	p.mu.RUnlock()
	if !canQueue {
		return false
	}

	job := &IngestJob{Update: update, Timestamp: time.Now()}
	return p.queueJob(job)
}

// QueueSize returns the current number of jobs waiting on the queue.
func (p *IngestPipeline) QueueSize() int {
	return len(p.queue)
}

// Shutdown closes the queue and waits for workers to drain, bounded by the
// configured shutdown timeout. Pending jobs are processed before shutdown
// completes.
func (p *IngestPipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return fmt.Errorf("pipeline not started")
	}
	log.Println("Pipeline: shutting down...")
	p.shuttingDown = true
	p.mu.Unlock()

	// Drain before cancelling the worker context so in-flight jobs finish.
	if err := p.stopWorkerPool(ctx); err != nil {
		log.Printf("Pipeline: WARNING - worker pool shutdown had errors: %v", err)
	}

	if p.workerCancel != nil {
		p.workerCancel()
	}

	p.mu.Lock()
	p.started = false
	p.shuttingDown = false
	p.mu.Unlock()
	log.Println("Pipeline: shut down")
	return nil
}

// queueJob attempts a non-blocking enqueue.
func (p *IngestPipeline) queueJob(job *IngestJob) bool {
	if p.workerCtx != nil && p.workerCtx.Err() != nil {
		return false
	}

	select {
	case p.queue <- job:
		return true
	default:
		log.Printf("Pipeline: WARNING - ingest queue full (size=%d), dropping job for %s",
			p.config.QueueSize, job.Update.Entry.Path)
		return false
	}
}

// requeueJob attempts to requeue a failed job. Returns false once max
// retries are exceeded or the pipeline is shutting down.
func (p *IngestPipeline) requeueJob(job *IngestJob) bool {
	p.mu.RLock()
	draining := p.shuttingDown
	p.mu.RUnlock()
	if draining || (p.workerCtx != nil && p.workerCtx.Err() != nil) {
		return false
	}

	if job.Attempt >= p.config.MaxRetries {
		log.Printf("Pipeline: max retries (%d) exceeded for %s, giving up",
			p.config.MaxRetries, job.Update.Entry.Path)
		return false
	}

	job.Attempt++

	select {
	case p.queue <- job:
		log.Printf("Pipeline: requeued %s (attempt %d/%d)",
			job.Update.Entry.Path, job.Attempt, p.config.MaxRetries)
		return true
	case <-time.After(10 * time.Millisecond):
		log.Printf("Pipeline: WARNING - failed to requeue %s, queue full", job.Update.Entry.Path)
		return false
	}
}
