package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmadden/trellis/internal/graph"
	"github.com/jmadden/trellis/internal/ingest"
	"github.com/jmadden/trellis/internal/storage"
	"github.com/jmadden/trellis/pkg/types"
)

// trackingStore is a thread-safe in-memory GraphStore that records upserts.
type trackingStore struct {
	mu       sync.Mutex
	entities map[string]*types.Entity
	failAll  bool
}

func newTrackingStore() *trackingStore {
	return &trackingStore{entities: make(map[string]*types.Entity)}
}

func (s *trackingStore) maybeFail() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("store down")
	}
	return nil
}

func (s *trackingStore) UpsertDocument(ctx context.Context, d *types.Document) error {
	return s.maybeFail()
}

func (s *trackingStore) UpsertChunk(ctx context.Context, c *types.Chunk) error {
	return s.maybeFail()
}

func (s *trackingStore) UpsertEntity(ctx context.Context, e *types.Entity) error {
	if err := s.maybeFail(); err != nil {
		return err
	}
	s.mu.Lock()
	s.entities[e.ID] = e
	s.mu.Unlock()
	return nil
}

func (s *trackingStore) UpsertRelationship(ctx context.Context, r *types.Relationship) error {
	return s.maybeFail()
}

func (s *trackingStore) UpsertConcept(ctx context.Context, c *types.ConceptCluster) error {
	return s.maybeFail()
}

func (s *trackingStore) LinkChunkEntity(ctx context.Context, chunkID, entityID string) error {
	return s.maybeFail()
}

func (s *trackingStore) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e, nil
}

func (s *trackingStore) FindEntities(ctx context.Context, query string, limit int) ([]*types.Entity, error) {
	return nil, nil
}

func (s *trackingStore) Neighbors(ctx context.Context, entityID string, limit int) ([]storage.Neighbor, error) {
	return nil, nil
}

func (s *trackingStore) Stats(ctx context.Context) (*storage.GraphStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &storage.GraphStats{Entities: int64(len(s.entities))}, nil
}

func (s *trackingStore) Close(ctx context.Context) error { return nil }

func (s *trackingStore) entityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

func testUpdate(docID, path, content string) ingest.DocumentUpdate {
	now := time.Now().UTC()
	return ingest.DocumentUpdate{
		Document: types.Document{ID: docID, Name: path, IngestedAt: now},
		Chunks: []types.Chunk{
			{
				ID:         docID + ":chunk:0",
				DocumentID: docID,
				Text:       content,
				Timestamp:  now,
			},
		},
		Entry: storage.CatalogEntry{
			Path:        path,
			DocumentID:  docID,
			ContentHash: "hash-" + docID,
			ChunkCount:  1,
			IngestedAt:  now,
		},
	}
}

func newTestPipeline(t *testing.T, store storage.GraphStore, catalog storage.Catalog) *IngestPipeline {
	t.Helper()
	cfg := DefaultConfig()
	cfg.NumWorkers = 2
	cfg.ShutdownTimeout = 5 * time.Second
	p, err := NewIngestPipeline(cfg, graph.DefaultConfig(), Deps{Store: store, Catalog: catalog})
	if err != nil {
		t.Fatalf("NewIngestPipeline failed: %v", err)
	}
	return p
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestPipelineIngestsDocument(t *testing.T) {
	store := newTrackingStore()
	p := newTestPipeline(t, store, nil)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	update := testUpdate("doc:1", "/srv/notes/a.md", "John Smith works at Acme Corp on the Phoenix project.")
	if !p.Enqueue(update) {
		t.Fatal("Enqueue returned false")
	}

	waitFor(t, 5*time.Second, func() bool { return store.entityCount() >= 3 })

	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestPipelineRecordsCatalogEntry(t *testing.T) {
	store := newTrackingStore()
	catalog := &memCatalog{entries: make(map[string]*storage.CatalogEntry)}
	p := newTestPipeline(t, store, catalog)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	update := testUpdate("doc:2", "/srv/notes/b.md", "Jane Doe leads the Trellis project.")
	p.Enqueue(update)

	waitFor(t, 5*time.Second, func() bool {
		_, err := catalog.GetDocument(ctx, "/srv/notes/b.md")
		return err == nil
	})

	entry, err := catalog.GetDocument(ctx, "/srv/notes/b.md")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if entry.DocumentID != "doc:2" {
		t.Errorf("DocumentID = %q, want doc:2", entry.DocumentID)
	}

	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestPipelineCallbackFires(t *testing.T) {
	store := newTrackingStore()
	p := newTestPipeline(t, store, nil)

	done := make(chan ingest.DocumentUpdate, 1)
	p.SetOnDocumentIngested(func(update ingest.DocumentUpdate, stats *graph.BuildStats) {
		select {
		case done <- update:
		default:
		}
	})

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	p.Enqueue(testUpdate("doc:3", "/srv/notes/c.md", "Acme Corp acquired Initech."))

	select {
	case update := <-done:
		if update.Entry.Path != "/srv/notes/c.md" {
			t.Errorf("callback path = %q", update.Entry.Path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback not invoked")
	}

	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestPipelineShutdownDrainsQueue(t *testing.T) {
	store := newTrackingStore()
	p := newTestPipeline(t, store, nil)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		update := testUpdate(
			"doc:drain:"+string(rune('a'+i)),
			"/srv/notes/drain-"+string(rune('a'+i))+".md",
			"John Smith works at Acme Corp on the Phoenix project.",
		)
		p.Enqueue(update)
	}

	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	// All queued jobs drained before shutdown returned.
	if store.entityCount() < 3 {
		t.Errorf("entityCount = %d, want >= 3 after drain", store.entityCount())
	}
	if p.Enqueue(testUpdate("doc:late", "/srv/notes/late.md", "late")) {
		t.Error("Enqueue succeeded after shutdown")
	}
}

func TestPipelineRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumWorkers = 0
	_, err := NewIngestPipeline(cfg, graph.DefaultConfig(), Deps{Store: newTrackingStore()})
	if err == nil {
		t.Fatal("expected error for zero workers")
	}
}

// memCatalog is a minimal in-memory Catalog.
type memCatalog struct {
	mu      sync.Mutex
	entries map[string]*storage.CatalogEntry
}

func (c *memCatalog) GetDocument(ctx context.Context, path string) (*storage.CatalogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e, nil
}

func (c *memCatalog) RecordDocument(ctx context.Context, entry *storage.CatalogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *entry
	c.entries[entry.Path] = &cp
	return nil
}

func (c *memCatalog) ListDocuments(ctx context.Context) ([]*storage.CatalogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*storage.CatalogEntry
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out, nil
}

func (c *memCatalog) DeleteDocument(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
	return nil
}

func (c *memCatalog) Close() error { return nil }
