package engine

import (
	"context"
	"log"
	"time"

	"github.com/jmadden/trellis/internal/graph"
	"github.com/jmadden/trellis/pkg/types"
)

// startWorkerPool launches the ingest worker goroutines.
func (p *IngestPipeline) startWorkerPool(ctx context.Context) {
	for i := 0; i < p.config.NumWorkers; i++ {
		p.workerWaitGroup.Add(1)
		go p.ingestWorker(ctx, i)
	}

	log.Printf("Pipeline: started %d ingest workers", p.config.NumWorkers)
}

// stopWorkerPool closes the queue and waits for the workers to drain.
func (p *IngestPipeline) stopWorkerPool(ctx context.Context) error {
	close(p.queue)

	done := make(chan struct{})
	go func() {
		p.workerWaitGroup.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Pipeline: all ingest workers finished gracefully")
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		log.Printf("Pipeline: WARNING - shutdown timeout reached, %d jobs may be dropped", len(p.queue))
		return nil
	case <-ctx.Done():
		log.Printf("Pipeline: WARNING - context cancelled, %d jobs may be dropped", len(p.queue))
		return ctx.Err()
	}
}

// ingestWorker processes jobs until the queue is closed.
func (p *IngestPipeline) ingestWorker(ctx context.Context, workerID int) {
	defer p.workerWaitGroup.Done()

	log.Printf("Pipeline: ingest worker %d started", workerID)

	for job := range p.queue {
		p.processIngestJob(ctx, workerID, job)
	}

	log.Printf("Pipeline: ingest worker %d stopped", workerID)
}

// processIngestJob runs one document through build, embed, cluster, and
// apply. Failures requeue with backoff up to the retry cap.
func (p *IngestPipeline) processIngestJob(ctx context.Context, workerID int, job *IngestJob) {
	update := job.Update
	log.Printf("Pipeline: worker %d processing %s (%d chunks, attempt %d)",
		workerID, update.Entry.Path, len(update.Chunks), job.Attempt)

	// Backoff on retries to let transient store failures clear.
	if job.Attempt > 0 {
		backoff := time.Duration(job.Attempt*job.Attempt) * 100 * time.Millisecond // 100ms, 400ms, 900ms...
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}

	plan, stats, err := p.builder.Build(ctx, graph.Batch{Chunks: update.Chunks})
	if err != nil {
		log.Printf("Pipeline: ERROR - worker %d build failed for %s: %v", workerID, update.Entry.Path, err)
		p.requeueJob(job)
		return
	}

	// Embed the batch's entities and fold the resulting clusters into the
	// plan before it is applied.
	embeddings, entities := p.embedPlanEntities(ctx, plan)
	if len(embeddings) > 0 {
		clusters := p.clusterer.Cluster(entities, embeddings)
		for _, c := range clusters {
			plan.Ops = append(plan.Ops, graph.UpsertConcept{Concept: *c})
		}
	}

	report, err := p.applier.Apply(ctx, plan)
	if err != nil {
		log.Printf("Pipeline: ERROR - worker %d apply failed for %s: %v", workerID, update.Entry.Path, err)
		p.requeueJob(job)
		return
	}
	if len(report.Failed) > 0 {
		log.Printf("Pipeline: WARNING - worker %d: %d ops failed for %s", workerID, len(report.Failed), update.Entry.Path)
	}

	// Record the catalog entry only after the graph write, so a failed
	// batch is re-ingested on the next scan. Use a background context to
	// avoid losing the record during shutdown.
	if p.catalog != nil {
		if err := p.catalog.RecordDocument(context.Background(), &update.Entry); err != nil {
			log.Printf("Pipeline: WARNING - worker %d failed to record catalog entry for %s: %v",
				workerID, update.Entry.Path, err)
		}
	}

	log.Printf("Pipeline: worker %d ingested %s: %d entities, %d relationships, %d ops applied",
		workerID, update.Entry.Path, stats.EntitiesMerged, stats.RelationshipsMerged, report.Applied)

	if p.onDocumentIngested != nil {
		p.onDocumentIngested(update, stats)
	}
}

// embedPlanEntities embeds the plan's entities and upserts the vectors.
// Returns the embeddings keyed by entity ID together with the entities, for
// the clustering pass. Embedding failures degrade to an empty result; the
// graph write never waits on the embedder.
func (p *IngestPipeline) embedPlanEntities(ctx context.Context, plan *graph.GraphUpsertPlan) (map[string][]float32, []*types.Entity) {
	if p.embedder == nil || p.vectors == nil {
		return nil, nil
	}

	var entities []*types.Entity
	var names []string
	for _, op := range plan.Ops {
		if up, ok := op.(graph.UpsertEntity); ok {
			e := up.Entity
			entities = append(entities, &e)
			names = append(names, e.Name)
		}
	}
	if len(entities) == 0 {
		return nil, nil
	}

	vectors, err := p.embedder.EmbedBatch(ctx, names)
	if err != nil {
		log.Printf("Pipeline: WARNING - embedding failed, skipping clustering: %v", err)
		return nil, nil
	}

	embeddings := make(map[string][]float32, len(entities))
	for i, e := range entities {
		embeddings[e.ID] = vectors[i]
		if err := p.vectors.Upsert(ctx, e.ID, vectors[i], p.embedder.Model()); err != nil {
			log.Printf("Pipeline: WARNING - vector upsert failed for %s: %v", e.ID, err)
		}
	}
	return embeddings, entities
}
