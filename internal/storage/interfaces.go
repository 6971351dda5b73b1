// Package storage provides composable storage interfaces for the Trellis system.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed: the graph database is the
// system of record, the vector index serves similarity search, and the
// catalog tracks what has been ingested.
package storage

import (
	"context"
	"time"

	"github.com/jmadden/trellis/pkg/types"
)

// GraphStore persists the knowledge graph. All write operations have upsert
// semantics keyed by the stable IDs the builder assigns, so replaying a plan
// leaves the graph unchanged.
type GraphStore interface {
	// UpsertDocument creates or updates a document node.
	UpsertDocument(ctx context.Context, doc *types.Document) error

	// UpsertChunk creates or updates a chunk node and its FROM_DOCUMENT edge.
	UpsertChunk(ctx context.Context, chunk *types.Chunk) error

	// UpsertEntity creates or updates a canonical entity node. Mention counts
	// accumulate across calls; confidence keeps the maximum seen.
	UpsertEntity(ctx context.Context, entity *types.Entity) error

	// UpsertRelationship creates or updates a typed edge between two
	// entities, accumulating occurrence counts.
	UpsertRelationship(ctx context.Context, rel *types.Relationship) error

	// UpsertConcept creates or updates a concept node and its CLUSTERS edges
	// to the member entities.
	UpsertConcept(ctx context.Context, concept *types.ConceptCluster) error

	// LinkChunkEntity attaches a MENTIONS edge from a chunk to an entity.
	LinkChunkEntity(ctx context.Context, chunkID, entityID string) error

	// GetEntity retrieves a canonical entity by ID.
	// Returns ErrNotFound if the entity doesn't exist.
	GetEntity(ctx context.Context, id string) (*types.Entity, error)

	// FindEntities returns entities whose normalized name contains the query
	// string, ordered by mention count descending, capped at limit.
	FindEntities(ctx context.Context, query string, limit int) ([]*types.Entity, error)

	// Neighbors returns the entities directly connected to the given entity
	// together with the connecting relationship.
	Neighbors(ctx context.Context, entityID string, limit int) ([]Neighbor, error)

	// Stats returns node and edge counts for observability.
	Stats(ctx context.Context) (*GraphStats, error)

	// Close releases any resources held by the store.
	Close(ctx context.Context) error
}

// VectorIndex stores entity embeddings and answers nearest-neighbor queries.
// Trellis only consumes vectors produced by the embedding provider; the
// index never computes them.
type VectorIndex interface {
	// Upsert stores or replaces the embedding for an entity.
	Upsert(ctx context.Context, entityID string, vector []float32, model string) error

	// Get retrieves the stored embedding for an entity.
	// Returns ErrNotFound if no embedding exists.
	Get(ctx context.Context, entityID string) ([]float32, error)

	// GetBatch retrieves embeddings for many entities at once. IDs with no
	// stored vector are simply absent from the result map.
	GetBatch(ctx context.Context, entityIDs []string) (map[string][]float32, error)

	// Search returns the topK entities nearest to the query vector by cosine
	// distance, best first.
	Search(ctx context.Context, vector []float32, topK int) ([]SearchHit, error)

	// Delete removes an entity's embedding.
	// Returns ErrNotFound if no embedding exists.
	Delete(ctx context.Context, entityID string) error

	// Close releases the underlying connection.
	Close() error
}

// Catalog tracks ingested documents so re-scans can skip unchanged files.
type Catalog interface {
	// GetDocument retrieves catalog state for a document path.
	// Returns ErrNotFound if the path has never been ingested.
	GetDocument(ctx context.Context, path string) (*CatalogEntry, error)

	// RecordDocument upserts catalog state after a successful ingest.
	RecordDocument(ctx context.Context, entry *CatalogEntry) error

	// ListDocuments returns all catalog entries, most recently ingested
	// first.
	ListDocuments(ctx context.Context) ([]*CatalogEntry, error)

	// DeleteDocument removes a document from the catalog.
	// Returns ErrNotFound if the path is not cataloged.
	DeleteDocument(ctx context.Context, path string) error

	// Close releases the underlying connection.
	Close() error
}

// Neighbor is one edge-connected entity returned by GraphStore.Neighbors.
type Neighbor struct {
	// Entity is the connected entity.
	Entity *types.Entity

	// RelationType is the type of the connecting edge.
	RelationType types.RelationType

	// Weight is the edge weight.
	Weight float64
}

// SearchHit is one nearest-neighbor result from a VectorIndex query.
type SearchHit struct {
	// EntityID is the matched entity.
	EntityID string

	// Similarity is the cosine similarity to the query vector, in [-1, 1].
	Similarity float64
}

// CatalogEntry is the ingest bookkeeping for one document.
type CatalogEntry struct {
	// Path is the document's filesystem path, the catalog key.
	Path string

	// DocumentID is the stable graph ID derived from the path.
	DocumentID string

	// ContentHash is the SHA-256 of the file content at last ingest.
	ContentHash string

	// ChunkCount is how many chunks the document produced.
	ChunkCount int

	// IngestedAt is when the document was last ingested.
	IngestedAt time.Time
}

// GraphStats summarizes the graph for the stats API.
type GraphStats struct {
	Documents     int64 `json:"documents"`
	Chunks        int64 `json:"chunks"`
	Entities      int64 `json:"entities"`
	Relationships int64 `json:"relationships"`
	Concepts      int64 `json:"concepts"`
}
