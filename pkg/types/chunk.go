package types

import "time"

// Chunk is a unit of text supplied by the ingestion layer. Chunk and
// document IDs are opaque external identities: the graph engine never
// mutates them, it only attaches MENTIONS edges to them.
type Chunk struct {
	// ID is the opaque chunk identifier (format used by the scanner:
	// <document id>:chunk:<index>).
	ID string `json:"id"`

	// DocumentID identifies the source document the chunk belongs to.
	DocumentID string `json:"document_id"`

	// Text is the chunk content handed to the extractors.
	Text string `json:"text"`

	// Timestamp is the observation time for everything extracted from this
	// chunk (typically the source file's modification time).
	Timestamp time.Time `json:"timestamp"`
}

// Document describes a source file registered in the ingest catalog.
type Document struct {
	// ID is the opaque document identifier (format: doc:<path hash>).
	ID string `json:"id"`

	// Name is a human-readable name, usually the file path.
	Name string `json:"name"`

	// ContentHash is the sha256 of the file content, used for change
	// detection between ingest runs.
	ContentHash string `json:"content_hash,omitempty"`

	// ChunkCount is the number of chunks produced from this document.
	ChunkCount int `json:"chunk_count,omitempty"`

	// IngestedAt is when the document was last ingested.
	IngestedAt time.Time `json:"ingested_at"`
}
