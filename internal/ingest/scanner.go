package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmadden/trellis/internal/storage"
	"github.com/jmadden/trellis/pkg/types"
)

// DocumentUpdate is one changed document found by a scan: the document node,
// its chunks, and the catalog entry to record once the batch is persisted.
type DocumentUpdate struct {
	Document types.Document
	Chunks   []types.Chunk
	Entry    storage.CatalogEntry
}

// ScanStats summarizes one scan pass.
type ScanStats struct {
	FilesSeen    int
	FilesSkipped int // unchanged per the catalog
	FilesChanged int
	FilesFailed  int
}

// Scanner walks document roots and yields updates for files whose content
// changed since the last ingest.
type Scanner struct {
	catalog    storage.Catalog
	chunker    *Chunker
	extensions map[string]bool
}

// NewScanner creates a scanner. extensions are matched case-insensitively
// and must include the leading dot.
func NewScanner(catalog storage.Catalog, chunker *Chunker, extensions []string) *Scanner {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}
	return &Scanner{catalog: catalog, chunker: chunker, extensions: exts}
}

// Scan walks the given roots and returns an update for every new or changed
// document. Unreadable files are logged and counted, never fatal.
func (s *Scanner) Scan(ctx context.Context, roots []string) ([]DocumentUpdate, *ScanStats, error) {
	stats := &ScanStats{}
	var updates []DocumentUpdate

	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Printf("Scanner: WARNING - cannot access %s: %v", path, err)
				stats.FilesFailed++
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				return nil
			}
			if !s.extensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}

			stats.FilesSeen++
			update, changed, err := s.ScanFile(ctx, path)
			if err != nil {
				log.Printf("Scanner: WARNING - failed to ingest %s: %v", path, err)
				stats.FilesFailed++
				return nil
			}
			if !changed {
				stats.FilesSkipped++
				return nil
			}
			stats.FilesChanged++
			updates = append(updates, *update)
			return nil
		})
		if err != nil {
			return updates, stats, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	log.Printf("Scanner: scanned %d files: %d changed, %d unchanged, %d failed",
		stats.FilesSeen, stats.FilesChanged, stats.FilesSkipped, stats.FilesFailed)
	return updates, stats, nil
}

// ScanFile ingests a single file. It returns changed=false when the catalog
// already holds the file's current content hash.
func (s *Scanner) ScanFile(ctx context.Context, path string) (*DocumentUpdate, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read file: %w", err)
	}

	sum := sha256.Sum256(content)
	contentHash := hex.EncodeToString(sum[:])

	existing, err := s.catalog.GetDocument(ctx, path)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to check catalog: %w", err)
	}
	if existing != nil && existing.ContentHash == contentHash {
		return nil, false, nil
	}

	now := time.Now().UTC()
	docID := DocumentID(path)

	pieces := s.chunker.Chunk(string(content))
	chunks := make([]types.Chunk, 0, len(pieces))
	for i, text := range pieces {
		chunks = append(chunks, types.Chunk{
			ID:         fmt.Sprintf("%s:chunk:%d", docID, i),
			DocumentID: docID,
			Text:       text,
			Timestamp:  now,
		})
	}

	update := &DocumentUpdate{
		Document: types.Document{
			ID:          docID,
			Name:        filepath.Base(path),
			ContentHash: contentHash,
			ChunkCount:  len(chunks),
			IngestedAt:  now,
		},
		Chunks: chunks,
		Entry: storage.CatalogEntry{
			Path:        path,
			DocumentID:  docID,
			ContentHash: contentHash,
			ChunkCount:  len(chunks),
			IngestedAt:  now,
		},
	}
	return update, true, nil
}

// DocumentID derives the stable graph ID for a document path.
func DocumentID(path string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	return fmt.Sprintf("doc:%016x", h.Sum64())
}
