// Package postgres implements the vector index on PostgreSQL with the
// pgvector extension. Entity embeddings are produced elsewhere; this package
// only stores them and answers cosine nearest-neighbor queries.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jmadden/trellis/internal/storage"
)

// VectorIndex implements storage.VectorIndex using PostgreSQL + pgvector.
type VectorIndex struct {
	db        *sql.DB
	dimension int
}

// NewVectorIndex opens a connection and prepares the embeddings table. The
// dimension is fixed per index; pgvector columns cannot change width after
// creation.
func NewVectorIndex(ctx context.Context, dsn string, dimension int) (*VectorIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", storage.ErrInvalidInput)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: postgres: %v", storage.ErrUnavailable, err)
	}

	idx := &VectorIndex{db: db, dimension: dimension}
	if err := idx.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Printf("VectorIndex: connected to postgres (dimension %d)", dimension)
	return idx, nil
}

// ensureSchema creates the pgvector extension and the embeddings table.
func (v *VectorIndex) ensureSchema(ctx context.Context) error {
	if _, err := v.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create pgvector extension: %w", err)
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS entity_embeddings (
			entity_id  TEXT PRIMARY KEY,
			embedding  vector(%d) NOT NULL,
			model      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`, v.dimension)
	if _, err := v.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create entity_embeddings table: %w", err)
	}

	// ivfflat needs rows before it helps; created lazily is fine, IF NOT
	// EXISTS keeps startup idempotent.
	index := `
		CREATE INDEX IF NOT EXISTS entity_embeddings_cosine_idx
		ON entity_embeddings USING ivfflat (embedding vector_cosine_ops)
	`
	if _, err := v.db.ExecContext(ctx, index); err != nil {
		log.Printf("VectorIndex: WARNING - could not create ivfflat index (continuing without): %v", err)
	}
	return nil
}

// Close closes the database connection.
func (v *VectorIndex) Close() error {
	return v.db.Close()
}

// Upsert stores or replaces the embedding for an entity.
func (v *VectorIndex) Upsert(ctx context.Context, entityID string, vector []float32, model string) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if len(vector) != v.dimension {
		return fmt.Errorf("%w: vector length (%d) does not match index dimension (%d)",
			storage.ErrInvalidInput, len(vector), v.dimension)
	}
	if model == "" {
		return fmt.Errorf("%w: model is required", storage.ErrInvalidInput)
	}

	query := `
		INSERT INTO entity_embeddings (entity_id, embedding, model, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT(entity_id) DO UPDATE SET
			embedding = excluded.embedding,
			model = excluded.model,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := v.db.ExecContext(ctx, query, entityID, pgvector.NewVector(vector), model)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding for %s: %w", entityID, err)
	}
	return nil
}

// Get retrieves the stored embedding for an entity.
func (v *VectorIndex) Get(ctx context.Context, entityID string) ([]float32, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	var vec pgvector.Vector
	err := v.db.QueryRowContext(ctx,
		`SELECT embedding FROM entity_embeddings WHERE entity_id = $1`, entityID).Scan(&vec)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get embedding for %s: %w", entityID, err)
	}
	return vec.Slice(), nil
}

// GetBatch retrieves embeddings for many entities at once. IDs with no
// stored vector are absent from the result map.
func (v *VectorIndex) GetBatch(ctx context.Context, entityIDs []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(entityIDs))
	if len(entityIDs) == 0 {
		return out, nil
	}

	rows, err := v.db.QueryContext(ctx,
		`SELECT entity_id, embedding FROM entity_embeddings WHERE entity_id = ANY($1)`,
		pq.Array(entityIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to batch-get embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}
		out[id] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate embedding rows: %w", err)
	}
	return out, nil
}

// Search returns the topK entities nearest to the query vector by cosine
// distance, best first. pgvector's <=> operator returns cosine distance;
// similarity is 1 - distance.
func (v *VectorIndex) Search(ctx context.Context, vector []float32, topK int) ([]storage.SearchHit, error) {
	if len(vector) != v.dimension {
		return nil, fmt.Errorf("%w: query vector length (%d) does not match index dimension (%d)",
			storage.ErrInvalidInput, len(vector), v.dimension)
	}
	if topK < 1 {
		topK = 10
	}

	query := `
		SELECT entity_id, 1 - (embedding <=> $1) AS similarity
		FROM entity_embeddings
		ORDER BY embedding <=> $1
		LIMIT $2
	`

	rows, err := v.db.QueryContext(ctx, query, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.SearchHit
	for rows.Next() {
		var hit storage.SearchHit
		if err := rows.Scan(&hit.EntityID, &hit.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search hits: %w", err)
	}
	return hits, nil
}

// Delete removes an entity's embedding.
func (v *VectorIndex) Delete(ctx context.Context, entityID string) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	result, err := v.db.ExecContext(ctx,
		`DELETE FROM entity_embeddings WHERE entity_id = $1`, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete embedding for %s: %w", entityID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
