package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmadden/trellis/pkg/types"
)

var buildTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder(DefaultConfig())
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	return b
}

func TestBuildSingleChunk(t *testing.T) {
	b := testBuilder(t)

	batch := Batch{Chunks: []types.Chunk{{
		ID:         "chunk:doc1:0",
		DocumentID: "doc1",
		Text:       "John Smith works at Acme Corp on the Phoenix project.",
		Timestamp:  buildTime,
	}}}

	plan, stats, err := b.Build(context.Background(), batch)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if stats.ChunksProcessed != 1 {
		t.Errorf("expected 1 chunk processed, got %d", stats.ChunksProcessed)
	}
	if stats.EntitiesMerged != 3 {
		t.Errorf("expected 3 merged entities, got %d", stats.EntitiesMerged)
	}
	if stats.RelationshipsMerged != 3 {
		t.Errorf("expected 3 merged relationships, got %d", stats.RelationshipsMerged)
	}
	if len(stats.Failures) != 0 {
		t.Errorf("expected no failures, got %v", stats.Failures)
	}

	counts := plan.CountByKind()
	if counts[OpUpsertDocument] != 1 {
		t.Errorf("expected 1 document op, got %d", counts[OpUpsertDocument])
	}
	if counts[OpUpsertChunk] != 1 {
		t.Errorf("expected 1 chunk op, got %d", counts[OpUpsertChunk])
	}
	if counts[OpUpsertEntity] != 3 {
		t.Errorf("expected 3 entity ops, got %d", counts[OpUpsertEntity])
	}
	if counts[OpLinkChunkEntity] != 3 {
		t.Errorf("expected 3 mention links, got %d", counts[OpLinkChunkEntity])
	}
	if plan.BatchID == "" {
		t.Error("plan must carry a batch ID")
	}
}

// TestBuildMergesAcrossChunks verifies the same entity mentioned in two
// chunks becomes one canonical node with summed mentions, while each chunk
// keeps its own MENTIONS link.
func TestBuildMergesAcrossChunks(t *testing.T) {
	b := testBuilder(t)

	batch := Batch{Chunks: []types.Chunk{
		{ID: "chunk:doc1:0", DocumentID: "doc1", Text: "Jane Doe joined Acme Corp.", Timestamp: buildTime},
		{ID: "chunk:doc1:1", DocumentID: "doc1", Text: "Jane Doe leads the Phoenix project.", Timestamp: buildTime.Add(time.Hour)},
	}}

	plan, stats, err := b.Build(context.Background(), batch)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var jane *types.Entity
	for _, op := range plan.Ops {
		if up, ok := op.(UpsertEntity); ok && up.Entity.Name == "Jane Doe" {
			e := up.Entity
			jane = &e
		}
	}
	if jane == nil {
		t.Fatal("expected a single canonical Jane Doe entity")
	}
	if jane.MentionCount != 2 {
		t.Errorf("expected 2 mentions, got %d", jane.MentionCount)
	}
	if !jane.FirstSeen.Equal(buildTime) || !jane.LastSeen.Equal(buildTime.Add(time.Hour)) {
		t.Errorf("unexpected seen range: %v .. %v", jane.FirstSeen, jane.LastSeen)
	}

	links := 0
	for _, op := range plan.Ops {
		if link, ok := op.(LinkChunkEntity); ok && link.EntityID == jane.ID {
			links++
		}
	}
	if links != 2 {
		t.Errorf("expected MENTIONS link from both chunks, got %d", links)
	}

	if stats.EntitiesExtracted <= stats.EntitiesMerged {
		t.Errorf("merge should reduce candidates: extracted %d, merged %d",
			stats.EntitiesExtracted, stats.EntitiesMerged)
	}
}

// TestBuildOpKeysIdempotent verifies two builds over the same input yield the
// same op keys, so replaying a plan cannot duplicate graph state.
func TestBuildOpKeysIdempotent(t *testing.T) {
	batch := Batch{Chunks: []types.Chunk{{
		ID:         "chunk:doc1:0",
		DocumentID: "doc1",
		Text:       "Acme Corp acquired Globex Corp before the merger event.",
		Timestamp:  buildTime,
	}}}

	keys := func() []string {
		b := testBuilder(t)
		plan, _, err := b.Build(context.Background(), batch)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		out := make([]string, 0, plan.Len())
		for _, op := range plan.Ops {
			out = append(out, string(op.Kind())+"|"+op.Key())
		}
		return out
	}

	first := keys()
	second := keys()
	if len(first) != len(second) {
		t.Fatalf("op count differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("op %d differs: %q vs %q", i, first[i], second[i])
		}
	}
}

// TestBuildWithEmbeddings verifies the clustering stage runs only when
// vectors are supplied.
func TestBuildWithEmbeddings(t *testing.T) {
	chunks := []types.Chunk{{
		ID:         "chunk:doc1:0",
		DocumentID: "doc1",
		Text:       "The encryption protocol uses a new algorithm.",
		Timestamp:  buildTime,
	}}

	b := testBuilder(t)
	plan, stats, err := b.Build(context.Background(), Batch{Chunks: chunks})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if stats.ClustersFormed != 0 || plan.CountByKind()[OpUpsertConcept] != 0 {
		t.Error("clustering must be skipped without embeddings")
	}

	b2 := testBuilder(t)
	probe, _, err := b2.Build(context.Background(), Batch{Chunks: chunks})
	if err != nil {
		t.Fatalf("probe Build failed: %v", err)
	}
	embeddings := make(map[string][]float32)
	for _, op := range probe.Ops {
		if up, ok := op.(UpsertEntity); ok {
			embeddings[up.Entity.ID] = []float32{1, 0, 0}
		}
	}

	b3 := testBuilder(t)
	plan3, stats3, err := b3.Build(context.Background(), Batch{Chunks: chunks, Embeddings: embeddings})
	if err != nil {
		t.Fatalf("Build with embeddings failed: %v", err)
	}
	if stats3.ClustersFormed == 0 {
		t.Error("expected at least one cluster with embeddings supplied")
	}
	if plan3.CountByKind()[OpUpsertConcept] != stats3.ClustersFormed {
		t.Errorf("concept ops (%d) should match clusters formed (%d)",
			plan3.CountByKind()[OpUpsertConcept], stats3.ClustersFormed)
	}
}

// TestBuildEmptyBatch verifies an empty batch yields an empty plan, not an
// error.
func TestBuildEmptyBatch(t *testing.T) {
	b := testBuilder(t)
	plan, stats, err := b.Build(context.Background(), Batch{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if plan.Len() != 0 {
		t.Errorf("expected empty plan, got %d ops", plan.Len())
	}
	if stats.ChunksProcessed != 0 {
		t.Errorf("expected 0 chunks processed, got %d", stats.ChunksProcessed)
	}
}

// TestBuildCancellation verifies a cancelled context stops the batch and
// surfaces ctx.Err().
func TestBuildCancellation(t *testing.T) {
	b := testBuilder(t)

	chunks := make([]types.Chunk, 200)
	for i := range chunks {
		chunks[i] = types.Chunk{
			ID:         fmt.Sprintf("chunk:doc1:%d", i),
			DocumentID: "doc1",
			Text:       "Acme Corp works with Globex Corp on the Phoenix project.",
			Timestamp:  buildTime,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := b.Build(ctx, Batch{Chunks: chunks})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// TestBuildRecordsTemporalEvents verifies mention events land in the
// temporal index with chunk timestamps.
func TestBuildRecordsTemporalEvents(t *testing.T) {
	b := testBuilder(t)

	batch := Batch{Chunks: []types.Chunk{{
		ID:         "chunk:doc1:0",
		DocumentID: "doc1",
		Text:       "John Smith works at Acme Corp.",
		Timestamp:  buildTime,
	}}}

	if _, _, err := b.Build(context.Background(), batch); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	id := types.EntityID("John Smith", types.EntityPerson)
	timeline := b.Temporal().Timeline(id)
	if len(timeline) != 1 {
		t.Fatalf("expected 1 timeline event, got %d", len(timeline))
	}
	if !timeline[0].Timestamp.Equal(buildTime) {
		t.Errorf("event should carry the chunk timestamp, got %v", timeline[0].Timestamp)
	}
}

// TestBuildRecoversChunkPanic verifies a chunk whose extraction panics is
// reported as a per-chunk failure while the rest of the batch still builds.
// The bad rule references a capture group the regex does not have, which
// blows up only on text the pattern matches.
func TestBuildRecoversChunkPanic(t *testing.T) {
	overlay := filepath.Join(t.TempDir(), "patterns.yaml")
	rules := "rules:\n  - type: PROJECT\n    pattern: '\\bZephyr\\b'\n    group: 3\n"
	if err := os.WriteFile(overlay, []byte(rules), 0o644); err != nil {
		t.Fatalf("failed to write overlay: %v", err)
	}

	cfg := DefaultConfig()
	cfg.PatternFile = overlay
	b, err := NewBuilder(cfg)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}

	batch := Batch{Chunks: []types.Chunk{
		{
			ID:         "chunk:doc1:0",
			DocumentID: "doc1",
			Text:       "The Zephyr rollout starts next week.",
			Timestamp:  buildTime,
		},
		{
			ID:         "chunk:doc1:1",
			DocumentID: "doc1",
			Text:       "John Smith works at Acme Corp on the Phoenix project.",
			Timestamp:  buildTime,
		},
	}}

	plan, stats, err := b.Build(context.Background(), batch)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if stats.ChunksProcessed != 2 {
		t.Errorf("expected 2 chunks processed, got %d", stats.ChunksProcessed)
	}
	if len(stats.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %v", stats.Failures)
	}
	if stats.Failures[0].ChunkID != "chunk:doc1:0" {
		t.Errorf("failure should name the panicking chunk, got %q", stats.Failures[0].ChunkID)
	}
	if !strings.Contains(stats.Failures[0].Reason, "panic") {
		t.Errorf("failure reason should mention the panic, got %q", stats.Failures[0].Reason)
	}

	// The healthy chunk still contributes its entities.
	if stats.EntitiesMerged != 3 {
		t.Errorf("expected 3 merged entities from the healthy chunk, got %d", stats.EntitiesMerged)
	}
	if plan.CountByKind()[OpUpsertChunk] != 2 {
		t.Errorf("both chunks should still be upserted, got %d chunk ops", plan.CountByKind()[OpUpsertChunk])
	}
}

func TestNewBuilderRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumWorkers = 0
	if _, err := NewBuilder(cfg); err == nil {
		t.Error("expected error for zero workers")
	}

	cfg = DefaultConfig()
	cfg.MinConfidence = 1.5
	if _, err := NewBuilder(cfg); err == nil {
		t.Error("expected error for out-of-range confidence")
	}
}
