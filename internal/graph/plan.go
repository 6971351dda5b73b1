package graph

import (
	"fmt"
	"time"

	"github.com/jmadden/trellis/pkg/types"
)

// OpKind identifies the kind of a plan operation.
type OpKind string

const (
	OpUpsertDocument     OpKind = "upsert_document"
	OpUpsertChunk        OpKind = "upsert_chunk"
	OpUpsertEntity       OpKind = "upsert_entity"
	OpUpsertRelationship OpKind = "upsert_relationship"
	OpUpsertConcept      OpKind = "upsert_concept"
	OpLinkChunkEntity    OpKind = "link_chunk_entity"
)

// Op is one idempotent operation in a GraphUpsertPlan. Every op carries a
// stable key, so applying the same plan twice leaves the store unchanged.
type Op interface {
	// Kind returns the operation kind.
	Kind() OpKind

	// Key returns the stable idempotence key for the operation.
	Key() string
}

// UpsertDocument creates or updates a document node.
type UpsertDocument struct {
	Document types.Document
}

func (o UpsertDocument) Kind() OpKind { return OpUpsertDocument }
func (o UpsertDocument) Key() string  { return o.Document.ID }

// UpsertChunk creates or updates a chunk node and its FROM_DOCUMENT edge.
type UpsertChunk struct {
	Chunk types.Chunk
}

func (o UpsertChunk) Kind() OpKind { return OpUpsertChunk }
func (o UpsertChunk) Key() string  { return o.Chunk.ID }

// UpsertEntity creates or updates a canonical entity node.
type UpsertEntity struct {
	Entity types.Entity
}

func (o UpsertEntity) Kind() OpKind { return OpUpsertEntity }
func (o UpsertEntity) Key() string  { return o.Entity.ID }

// UpsertRelationship creates or updates a typed edge between two entities.
type UpsertRelationship struct {
	Relationship types.Relationship
}

func (o UpsertRelationship) Kind() OpKind { return OpUpsertRelationship }
func (o UpsertRelationship) Key() string  { return o.Relationship.Key() }

// UpsertConcept creates or updates a concept node and its CLUSTERS edges to
// the member entities.
type UpsertConcept struct {
	Concept types.ConceptCluster
}

func (o UpsertConcept) Kind() OpKind { return OpUpsertConcept }
func (o UpsertConcept) Key() string  { return o.Concept.ID }

// LinkChunkEntity attaches a MENTIONS edge from a chunk to an entity.
type LinkChunkEntity struct {
	ChunkID  string
	EntityID string
}

func (o LinkChunkEntity) Kind() OpKind { return OpLinkChunkEntity }
func (o LinkChunkEntity) Key() string {
	return fmt.Sprintf("mention:%s:%s", o.ChunkID, o.EntityID)
}

// GraphUpsertPlan is the ordered list of idempotent operations a build
// emits for the graph-persistence layer. Order matters only across kinds
// (documents before chunks, entities before relationships); within a kind
// the ops are sorted by key for reproducibility.
type GraphUpsertPlan struct {
	// BatchID identifies the build that produced this plan.
	BatchID string `json:"batch_id"`

	// CreatedAt is when the plan was assembled.
	CreatedAt time.Time `json:"created_at"`

	// Ops is the ordered operation list.
	Ops []Op `json:"-"`
}

// Len returns the number of operations in the plan.
func (p *GraphUpsertPlan) Len() int {
	return len(p.Ops)
}

// CountByKind tallies operations per kind, for stats and logging.
func (p *GraphUpsertPlan) CountByKind() map[OpKind]int {
	counts := make(map[OpKind]int)
	for _, op := range p.Ops {
		counts[op.Kind()]++
	}
	return counts
}
