// Package sqlite implements the ingest catalog on SQLite. The catalog tracks
// which documents have been ingested and their content hashes, so re-scans
// can skip unchanged files without touching the graph database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/jmadden/trellis/internal/storage"
)

// Catalog implements storage.Catalog on a local SQLite file.
type Catalog struct {
	db *sql.DB
}

// NewCatalog opens (creating if needed) the catalog database at path,
// configures WAL mode, and creates the schema.
func NewCatalog(path string) (*Catalog, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: catalog path is required", storage.ErrInvalidInput)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	// modernc.org/sqlite serializes access per connection; a single
	// connection avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable WAL mode for better read concurrency (readers don't block writers).
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout so that callers wait instead of getting an immediate
	// SQLITE_BUSY error when the connection is held by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	c := &Catalog{db: db}
	if err := c.createSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			path         TEXT PRIMARY KEY,
			document_id  TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			chunk_count  INTEGER NOT NULL DEFAULT 0,
			ingested_at  TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_documents_document_id ON documents(document_id);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create catalog schema: %w", err)
	}
	return nil
}

// Close closes the catalog database.
func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// GetDocument retrieves catalog state for a document path.
func (c *Catalog) GetDocument(ctx context.Context, path string) (*storage.CatalogEntry, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path is required", storage.ErrInvalidInput)
	}

	query := `
		SELECT path, document_id, content_hash, chunk_count, ingested_at
		FROM documents
		WHERE path = ?
	`

	entry := &storage.CatalogEntry{}
	err := c.db.QueryRowContext(ctx, query, path).Scan(
		&entry.Path, &entry.DocumentID, &entry.ContentHash, &entry.ChunkCount, &entry.IngestedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get catalog entry for %s: %w", path, err)
	}
	return entry, nil
}

// RecordDocument upserts catalog state after a successful ingest.
func (c *Catalog) RecordDocument(ctx context.Context, entry *storage.CatalogEntry) error {
	if entry == nil || entry.Path == "" {
		return fmt.Errorf("%w: catalog entry path is required", storage.ErrInvalidInput)
	}
	if entry.DocumentID == "" {
		return fmt.Errorf("%w: document ID is required", storage.ErrInvalidInput)
	}

	query := `
		INSERT INTO documents (path, document_id, content_hash, chunk_count, ingested_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			document_id = excluded.document_id,
			content_hash = excluded.content_hash,
			chunk_count = excluded.chunk_count,
			ingested_at = excluded.ingested_at
	`

	_, err := c.db.ExecContext(ctx, query,
		entry.Path, entry.DocumentID, entry.ContentHash, entry.ChunkCount, entry.IngestedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record catalog entry for %s: %w", entry.Path, err)
	}
	return nil
}

// ListDocuments returns all catalog entries, most recently ingested first.
func (c *Catalog) ListDocuments(ctx context.Context) ([]*storage.CatalogEntry, error) {
	query := `
		SELECT path, document_id, content_hash, chunk_count, ingested_at
		FROM documents
		ORDER BY ingested_at DESC, path
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*storage.CatalogEntry
	for rows.Next() {
		entry := &storage.CatalogEntry{}
		if err := rows.Scan(
			&entry.Path, &entry.DocumentID, &entry.ContentHash, &entry.ChunkCount, &entry.IngestedAt); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate catalog rows: %w", err)
	}
	return entries, nil
}

// DeleteDocument removes a document from the catalog.
func (c *Catalog) DeleteDocument(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("%w: path is required", storage.ErrInvalidInput)
	}

	result, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to delete catalog entry for %s: %w", path, err)
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
