package graph

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmadden/trellis/internal/extract"
	"github.com/jmadden/trellis/pkg/types"
)

// Config holds configuration for the graph builder.
type Config struct {
	// MinConfidence is the extraction confidence floor (default: 0.3).
	MinConfidence float64

	// SimilarityThreshold is the cosine similarity required to join a
	// concept cluster (default: 0.7).
	SimilarityThreshold float64

	// ActiveWindow biases recency scoring in the temporal index
	// (default: 7 days). It never causes data to be discarded.
	ActiveWindow time.Duration

	// NumWorkers is the number of concurrent extraction workers
	// (default: 4). Extraction is pure, so workers share no state.
	NumWorkers int

	// PatternFile optionally overlays extraction rules from a YAML file.
	PatternFile string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinConfidence:       0.3,
		SimilarityThreshold: 0.7,
		ActiveWindow:        DefaultActiveWindow,
		NumWorkers:          4,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("MinConfidence must be in [0,1], got %f", c.MinConfidence)
	}
	if c.NumWorkers < 1 {
		return fmt.Errorf("NumWorkers must be >= 1, got %d", c.NumWorkers)
	}
	if c.ActiveWindow < 0 {
		return fmt.Errorf("ActiveWindow must be >= 0, got %v", c.ActiveWindow)
	}
	return nil
}

// Batch is the input to one build: chunks from the ingestion layer plus
// optional entity embeddings from the embedding collaborator. The engine
// consumes vectors, it never computes them; a nil or empty map simply skips
// the clustering stage.
type Batch struct {
	Chunks     []types.Chunk
	Embeddings map[string][]float32
}

// ChunkFailure records a chunk whose extraction failed. Failures never abort
// the batch; they are reported in the build stats.
type ChunkFailure struct {
	ChunkID string `json:"chunk_id"`
	Reason  string `json:"reason"`
}

// BuildStats summarizes one build for logging and observability.
type BuildStats struct {
	ChunksProcessed        int            `json:"chunks_processed"`
	EntitiesExtracted      int            `json:"entities_extracted"`
	RelationshipsExtracted int            `json:"relationships_extracted"`
	EntitiesMerged         int            `json:"entities_merged"`
	RelationshipsMerged    int            `json:"relationships_merged"`
	ClustersFormed         int            `json:"clusters_formed"`
	Failures               []ChunkFailure `json:"failures,omitempty"`
}

// Builder orchestrates extraction, resolution, clustering, and temporal
// indexing over a batch of chunks, and emits an idempotent upsert plan for
// the graph store. The builder itself holds no long-lived graph data beyond
// the temporal index; the graph database is the system of record.
type Builder struct {
	entities      *extract.EntityExtractor
	relationships *extract.RelationshipExtractor
	resolver      *EntityResolver
	clusterer     *ConceptClusterer
	temporal      *TemporalIndex
	numWorkers    int
}

// NewBuilder creates a builder from config, loading the pattern overlay file
// when one is configured.
func NewBuilder(cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid builder config: %w", err)
	}

	table := extract.DefaultPatternTable()
	if cfg.PatternFile != "" {
		var err error
		table, err = extract.LoadPatternFile(cfg.PatternFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load pattern file: %w", err)
		}
	}

	return &Builder{
		entities:      extract.NewEntityExtractor(table, cfg.MinConfidence),
		relationships: extract.NewRelationshipExtractor(cfg.MinConfidence),
		resolver:      NewEntityResolver(),
		clusterer:     NewConceptClusterer(cfg.SimilarityThreshold),
		temporal:      NewTemporalIndex(cfg.ActiveWindow),
		numWorkers:    cfg.NumWorkers,
	}, nil
}

// Temporal exposes the builder's temporal index for the read APIs.
func (b *Builder) Temporal() *TemporalIndex {
	return b.temporal
}

// chunkResult carries one chunk's extraction output from a worker.
type chunkResult struct {
	chunk    types.Chunk
	entities []*types.Entity
	rels     []*types.Relationship
	failure  *ChunkFailure
}

// Build runs the full pipeline over one batch:
//
//	extract (worker pool) -> resolve (serialized) -> temporal -> cluster -> plan
//
// A single chunk's failure is recorded and skipped, never fatal. The context
// is checked between chunks and again at the cluster boundary, so a
// long-running batch cancels cleanly; on cancellation Build returns the
// stats gathered so far together with ctx.Err().
func (b *Builder) Build(ctx context.Context, batch Batch) (*GraphUpsertPlan, *BuildStats, error) {
	stats := &BuildStats{}
	if len(batch.Chunks) == 0 {
		return &GraphUpsertPlan{BatchID: uuid.NewString(), CreatedAt: time.Now()}, stats, nil
	}

	results, err := b.extractAll(ctx, batch.Chunks)
	stats.ChunksProcessed = len(results)
	if err != nil {
		return nil, stats, err
	}

	// Collect candidates; the merge step below is the batch's single
	// serialization point.
	var allEntities []*types.Entity
	var allRels []*types.Relationship
	mentions := make(map[string][]string) // chunk ID -> entity IDs
	for _, res := range results {
		if res.failure != nil {
			stats.Failures = append(stats.Failures, *res.failure)
			continue
		}
		allEntities = append(allEntities, res.entities...)
		allRels = append(allRels, res.rels...)
		for _, e := range res.entities {
			mentions[res.chunk.ID] = append(mentions[res.chunk.ID], e.ID)
		}
	}
	stats.EntitiesExtracted = len(allEntities)
	stats.RelationshipsExtracted = len(allRels)

	merged := b.resolver.Merge(allEntities)
	stats.EntitiesMerged = len(merged)

	mergedRels := mergeRelationships(allRels)
	stats.RelationshipsMerged = len(mergedRels)

	// Record per-chunk observations so timelines keep mention granularity.
	for _, res := range results {
		if res.failure != nil {
			continue
		}
		for _, e := range res.entities {
			b.temporal.RecordEntity(e, res.chunk.Timestamp, "mentioned in "+res.chunk.ID)
		}
	}
	for _, r := range mergedRels {
		b.temporal.RecordRelationship(r, fmt.Sprintf("%s between %s and %s", r.Type, r.SourceID, r.TargetID))
	}

	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	var clusters []*types.ConceptCluster
	if len(batch.Embeddings) > 0 {
		clusters = b.clusterer.Cluster(merged, batch.Embeddings)
		stats.ClustersFormed = len(clusters)
	}

	plan := assemblePlan(batch.Chunks, merged, mergedRels, clusters, mentions)
	log.Printf("Builder: batch %s built: %d entities, %d relationships, %d clusters, %d ops, %d failed chunks",
		plan.BatchID, stats.EntitiesMerged, stats.RelationshipsMerged, stats.ClustersFormed, plan.Len(), len(stats.Failures))

	return plan, stats, nil
}

// extractAll fans the batch's chunks out over the worker pool. Workers are
// stateless; results come back in chunk order. A worker panic is confined to
// its chunk and reported as a failure.
func (b *Builder) extractAll(ctx context.Context, chunks []types.Chunk) ([]chunkResult, error) {
	workers := b.numWorkers
	if workers > len(chunks) {
		workers = len(chunks)
	}

	jobs := make(chan int)
	results := make([]chunkResult, len(chunks))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = b.extractChunk(chunks[idx])
			}
		}()
	}

	var cancelled error
dispatch:
	for i := range chunks {
		select {
		case <-ctx.Done():
			cancelled = ctx.Err()
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if cancelled != nil {
		return results, cancelled
	}
	return results, nil
}

// extractChunk runs both extractors over one chunk, converting a panic from
// malformed input into a per-chunk failure entry.
func (b *Builder) extractChunk(chunk types.Chunk) (res chunkResult) {
	res.chunk = chunk

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Builder: WARNING - extraction panic on chunk %s: %v", chunk.ID, r)
			res.entities = nil
			res.rels = nil
			res.failure = &ChunkFailure{ChunkID: chunk.ID, Reason: fmt.Sprintf("extraction panic: %v", r)}
		}
	}()

	res.entities = b.entities.Extract(chunk.Text, chunk.ID, chunk.Timestamp)
	res.rels = b.relationships.Extract(chunk.Text, res.entities, chunk.Timestamp)
	return res
}

// mergeRelationships dedups relationship candidates by (source, target,
// type): weight and confidence take the max, occurrences sum, and the
// earliest observation keeps the timestamp. Input order does not matter.
func mergeRelationships(rels []*types.Relationship) []*types.Relationship {
	byKey := make(map[string]*types.Relationship)
	for _, r := range rels {
		key := r.Key()
		existing, ok := byKey[key]
		if !ok {
			cp := *r
			byKey[key] = &cp
			continue
		}
		existing.Occurrences += r.Occurrences
		if r.Weight > existing.Weight {
			existing.Weight = r.Weight
		}
		if r.Confidence > existing.Confidence {
			existing.Confidence = r.Confidence
		}
		if r.Timestamp.Before(existing.Timestamp) {
			existing.Timestamp = r.Timestamp
		}
	}

	out := make([]*types.Relationship, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// assemblePlan lays out the idempotent op list: documents, then chunks, then
// entities, relationships, concepts, and finally chunk MENTIONS links.
func assemblePlan(chunks []types.Chunk, entities []*types.Entity, rels []*types.Relationship, clusters []*types.ConceptCluster, mentions map[string][]string) *GraphUpsertPlan {
	plan := &GraphUpsertPlan{
		BatchID:   uuid.NewString(),
		CreatedAt: time.Now(),
	}

	docSeen := make(map[string]bool)
	var docIDs []string
	for _, c := range chunks {
		if !docSeen[c.DocumentID] {
			docSeen[c.DocumentID] = true
			docIDs = append(docIDs, c.DocumentID)
		}
	}
	sort.Strings(docIDs)
	for _, id := range docIDs {
		plan.Ops = append(plan.Ops, UpsertDocument{Document: types.Document{ID: id, Name: id}})
	}

	for _, c := range chunks {
		plan.Ops = append(plan.Ops, UpsertChunk{Chunk: c})
	}

	for _, e := range entities {
		plan.Ops = append(plan.Ops, UpsertEntity{Entity: *e})
	}
	for _, r := range rels {
		plan.Ops = append(plan.Ops, UpsertRelationship{Relationship: *r})
	}
	for _, cl := range clusters {
		plan.Ops = append(plan.Ops, UpsertConcept{Concept: *cl})
	}

	chunkIDs := make([]string, 0, len(mentions))
	for id := range mentions {
		chunkIDs = append(chunkIDs, id)
	}
	sort.Strings(chunkIDs)
	for _, chunkID := range chunkIDs {
		entityIDs := mentions[chunkID]
		sort.Strings(entityIDs)
		seen := make(map[string]bool)
		for _, entityID := range entityIDs {
			if seen[entityID] {
				continue
			}
			seen[entityID] = true
			plan.Ops = append(plan.Ops, LinkChunkEntity{ChunkID: chunkID, EntityID: entityID})
		}
	}

	return plan
}
