// Package neo4j implements the graph store on Neo4j. Every write is a Cypher
// MERGE keyed by the builder's stable IDs, so applying the same upsert plan
// twice leaves the graph unchanged.
package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/jmadden/trellis/internal/storage"
	"github.com/jmadden/trellis/pkg/types"
)

// GraphStore implements storage.GraphStore using a Neo4j database.
type GraphStore struct {
	driver neo4j.DriverWithContext
}

// NewGraphStore connects to Neo4j and verifies connectivity before returning.
func NewGraphStore(ctx context.Context, uri, user, password string) (*GraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("%w: neo4j at %s: %v", storage.ErrUnavailable, uri, err)
	}

	log.Printf("GraphStore: connected to neo4j at %s", uri)
	return &GraphStore{driver: driver}, nil
}

// EnsureSchema creates the uniqueness constraints the upsert queries rely on.
// Safe to call on every startup.
func (s *GraphStore) EnsureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	constraints := []string{
		`CREATE CONSTRAINT document_id IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
		`CREATE CONSTRAINT chunk_id IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
		`CREATE CONSTRAINT concept_id IF NOT EXISTS FOR (n:Concept) REQUIRE n.id IS UNIQUE`,
	}

	for _, stmt := range constraints {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to create constraint: %w", err)
		}
	}
	return nil
}

// Close closes the Neo4j driver connection.
func (s *GraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// UpsertDocument creates or updates a document node.
func (s *GraphStore) UpsertDocument(ctx context.Context, doc *types.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("%w: document ID is required", storage.ErrInvalidInput)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (d:Document {id: $id})
		SET d.name = $name,
		    d.content_hash = $contentHash,
		    d.chunk_count = $chunkCount,
		    d.ingested_at = datetime($ingestedAt)
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"id":          doc.ID,
		"name":        doc.Name,
		"contentHash": doc.ContentHash,
		"chunkCount":  doc.ChunkCount,
		"ingestedAt":  fmtTime(doc.IngestedAt),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// UpsertChunk creates or updates a chunk node and links it to its document.
func (s *GraphStore) UpsertChunk(ctx context.Context, chunk *types.Chunk) error {
	if chunk == nil || chunk.ID == "" {
		return fmt.Errorf("%w: chunk ID is required", storage.ErrInvalidInput)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (c:Chunk {id: $id})
		SET c.text = $text,
		    c.timestamp = datetime($timestamp)
		WITH c
		MERGE (d:Document {id: $documentID})
		MERGE (c)-[:FROM_DOCUMENT]->(d)
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"id":         chunk.ID,
		"text":       chunk.Text,
		"timestamp":  fmtTime(chunk.Timestamp),
		"documentID": chunk.DocumentID,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert chunk %s: %w", chunk.ID, err)
	}
	return nil
}

// UpsertEntity creates or updates a canonical entity node. Mention counts
// accumulate across batches; confidence keeps the maximum and the seen range
// widens monotonically.
func (s *GraphStore) UpsertEntity(ctx context.Context, entity *types.Entity) error {
	if entity == nil || entity.ID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	props, err := json.Marshal(entity.Properties)
	if err != nil {
		return fmt.Errorf("failed to encode entity properties: %w", err)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (e:Entity {id: $id})
		ON CREATE SET e.name = $name,
		    e.type = $type,
		    e.confidence = $confidence,
		    e.mention_count = $mentionCount,
		    e.first_seen = datetime($firstSeen),
		    e.last_seen = datetime($lastSeen),
		    e.properties = $properties
		ON MATCH SET e.name = $name,
		    e.confidence = CASE WHEN $confidence > e.confidence THEN $confidence ELSE e.confidence END,
		    e.mention_count = e.mention_count + $mentionCount,
		    e.first_seen = CASE WHEN datetime($firstSeen) < e.first_seen THEN datetime($firstSeen) ELSE e.first_seen END,
		    e.last_seen = CASE WHEN datetime($lastSeen) > e.last_seen THEN datetime($lastSeen) ELSE e.last_seen END,
		    e.properties = $properties
	`

	_, err = session.Run(ctx, query, map[string]interface{}{
		"id":           entity.ID,
		"name":         entity.Name,
		"type":         string(entity.Type),
		"confidence":   entity.Confidence,
		"mentionCount": entity.MentionCount,
		"firstSeen":    fmtTime(entity.FirstSeen),
		"lastSeen":     fmtTime(entity.LastSeen),
		"properties":   string(props),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert entity %s: %w", entity.ID, err)
	}
	return nil
}

// UpsertRelationship creates or updates a typed edge between two entities.
// Cypher cannot parametrize relationship types, so the type is interpolated
// after validating it against the known set.
func (s *GraphStore) UpsertRelationship(ctx context.Context, rel *types.Relationship) error {
	if rel == nil || rel.SourceID == "" || rel.TargetID == "" {
		return fmt.Errorf("%w: relationship endpoints are required", storage.ErrInvalidInput)
	}
	if !types.IsValidRelationType(rel.Type) {
		return fmt.Errorf("%w: unknown relation type %q", storage.ErrInvalidInput, rel.Type)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MATCH (src:Entity {id: $sourceID})
		MATCH (dst:Entity {id: $targetID})
		MERGE (src)-[r:%s]->(dst)
		ON CREATE SET r.weight = $weight,
		    r.confidence = $confidence,
		    r.occurrences = $occurrences,
		    r.first_observed = datetime($timestamp)
		ON MATCH SET r.weight = CASE WHEN $weight > r.weight THEN $weight ELSE r.weight END,
		    r.confidence = CASE WHEN $confidence > r.confidence THEN $confidence ELSE r.confidence END,
		    r.occurrences = r.occurrences + $occurrences
	`, rel.Type)

	_, err := session.Run(ctx, query, map[string]interface{}{
		"sourceID":    rel.SourceID,
		"targetID":    rel.TargetID,
		"weight":      rel.Weight,
		"confidence":  rel.Confidence,
		"occurrences": rel.Occurrences,
		"timestamp":   fmtTime(rel.Timestamp),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert relationship %s: %w", rel.Key(), err)
	}
	return nil
}

// UpsertConcept creates or updates a concept node and its CLUSTERS edges.
// Membership is replaced wholesale: clusters are recomputed per batch, so
// stale member edges from earlier batches are detached first.
func (s *GraphStore) UpsertConcept(ctx context.Context, concept *types.ConceptCluster) error {
	if concept == nil || concept.ID == "" {
		return fmt.Errorf("%w: concept ID is required", storage.ErrInvalidInput)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (n:Concept {id: $id})
		SET n.label = $label,
		    n.representative_id = $representativeID
		WITH n
		OPTIONAL MATCH (n)-[old:CLUSTERS]->(:Entity)
		DELETE old
		WITH DISTINCT n
		UNWIND $memberIDs AS memberID
		MATCH (e:Entity {id: memberID})
		MERGE (n)-[:CLUSTERS]->(e)
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"id":               concept.ID,
		"label":            concept.Label,
		"representativeID": concept.RepresentativeID,
		"memberIDs":        concept.MemberIDs,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert concept %s: %w", concept.ID, err)
	}
	return nil
}

// LinkChunkEntity attaches a MENTIONS edge from a chunk to an entity.
func (s *GraphStore) LinkChunkEntity(ctx context.Context, chunkID, entityID string) error {
	if chunkID == "" || entityID == "" {
		return fmt.Errorf("%w: chunk and entity IDs are required", storage.ErrInvalidInput)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (c:Chunk {id: $chunkID})
		MATCH (e:Entity {id: $entityID})
		MERGE (c)-[:MENTIONS]->(e)
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"chunkID":  chunkID,
		"entityID": entityID,
	})
	if err != nil {
		return fmt.Errorf("failed to link chunk %s to entity %s: %w", chunkID, entityID, err)
	}
	return nil
}

// GetEntity retrieves a canonical entity by ID.
func (s *GraphStore) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (e:Entity {id: $id})
		RETURN e.id AS id, e.name AS name, e.type AS type,
		       e.confidence AS confidence, e.mention_count AS mention_count,
		       e.first_seen AS first_seen, e.last_seen AS last_seen,
		       e.properties AS properties
	`

	result, err := session.Run(ctx, query, map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s: %w", id, err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to fetch entity record: %w", err)
		}
		return nil, storage.ErrNotFound
	}

	return entityFromRecord(result.Record())
}

// FindEntities returns entities whose name contains the query string,
// case-insensitively, ordered by mention count descending.
func (s *GraphStore) FindEntities(ctx context.Context, query string, limit int) ([]*types.Entity, error) {
	if limit < 1 {
		limit = 20
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	cypher := `
		MATCH (e:Entity)
		WHERE toLower(e.name) CONTAINS toLower($query)
		RETURN e.id AS id, e.name AS name, e.type AS type,
		       e.confidence AS confidence, e.mention_count AS mention_count,
		       e.first_seen AS first_seen, e.last_seen AS last_seen,
		       e.properties AS properties
		ORDER BY e.mention_count DESC, e.id
		LIMIT $limit
	`

	result, err := session.Run(ctx, cypher, map[string]interface{}{
		"query": query,
		"limit": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}

	var entities []*types.Entity
	for result.Next(ctx) {
		e, err := entityFromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entity results: %w", err)
	}
	return entities, nil
}

// Neighbors returns the entities directly connected to the given entity.
func (s *GraphStore) Neighbors(ctx context.Context, entityID string, limit int) ([]storage.Neighbor, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if limit < 1 {
		limit = 50
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (src:Entity {id: $entityID})-[r]-(e:Entity)
		RETURN e.id AS id, e.name AS name, e.type AS type,
		       e.confidence AS confidence, e.mention_count AS mention_count,
		       e.first_seen AS first_seen, e.last_seen AS last_seen,
		       e.properties AS properties,
		       type(r) AS relation_type, r.weight AS weight
		ORDER BY r.weight DESC, e.id
		LIMIT $limit
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"entityID": entityID,
		"limit":    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get neighbors of %s: %w", entityID, err)
	}

	var neighbors []storage.Neighbor
	for result.Next(ctx) {
		record := result.Record()
		e, err := entityFromRecord(record)
		if err != nil {
			return nil, err
		}
		neighbors = append(neighbors, storage.Neighbor{
			Entity:       e,
			RelationType: types.RelationType(getString(record, "relation_type")),
			Weight:       getFloat(record, "weight"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate neighbor results: %w", err)
	}
	return neighbors, nil
}

// statsQuery uses count subqueries instead of chained MATCH clauses: a
// MATCH on a label with no nodes yields zero rows and would collapse the
// whole pipeline, so a fresh or concept-less graph would return nothing.
const statsQuery = `
	RETURN count{ (:Document) } AS documents,
	       count{ (:Chunk) } AS chunks,
	       count{ (:Entity) } AS entities,
	       count{ (:Concept) } AS concepts,
	       count{ (:Entity)-[]->(:Entity) } AS relationships
`

// Stats returns node and edge counts for observability.
func (s *GraphStore) Stats(ctx context.Context) (*storage.GraphStats, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, statsQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query graph stats: %w", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stats record: %w", err)
	}
	return statsFromRecord(record), nil
}

// statsFromRecord maps a stats query record to GraphStats. Missing keys
// count as zero.
func statsFromRecord(record *neo4j.Record) *storage.GraphStats {
	return &storage.GraphStats{
		Documents:     getInt(record, "documents"),
		Chunks:        getInt(record, "chunks"),
		Entities:      getInt(record, "entities"),
		Relationships: getInt(record, "relationships"),
		Concepts:      getInt(record, "concepts"),
	}
}

// entityFromRecord rebuilds a types.Entity from a query record.
func entityFromRecord(record *neo4j.Record) (*types.Entity, error) {
	e := &types.Entity{
		ID:           getString(record, "id"),
		Name:         getString(record, "name"),
		Type:         types.EntityType(getString(record, "type")),
		Confidence:   getFloat(record, "confidence"),
		MentionCount: int(getInt(record, "mention_count")),
		FirstSeen:    getTime(record, "first_seen"),
		LastSeen:     getTime(record, "last_seen"),
	}

	if raw := getString(record, "properties"); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &e.Properties); err != nil {
			return nil, fmt.Errorf("failed to decode properties of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// fmtTime renders a timestamp as UTC ISO 8601, the form datetime() accepts.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func getString(record *neo4j.Record, key string) string {
	if val, ok := record.Get(key); ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

func getFloat(record *neo4j.Record, key string) float64 {
	if val, ok := record.Get(key); ok {
		switch v := val.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		}
	}
	return 0
}

func getInt(record *neo4j.Record, key string) int64 {
	if val, ok := record.Get(key); ok {
		if n, ok := val.(int64); ok {
			return n
		}
	}
	return 0
}

func getTime(record *neo4j.Record, key string) time.Time {
	if val, ok := record.Get(key); ok {
		if t, ok := val.(time.Time); ok {
			return t
		}
	}
	return time.Time{}
}
