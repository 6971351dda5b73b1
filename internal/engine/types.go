// Package engine orchestrates document ingestion: a worker pool drains a job
// queue, runs each document batch through the graph builder, applies the
// resulting upsert plan, and keeps the vector index and document catalog in
// step with the graph.
package engine

import (
	"fmt"
	"time"

	"github.com/jmadden/trellis/internal/ingest"
)

// Config holds the pipeline's worker pool configuration.
type Config struct {
	// NumWorkers is the number of concurrent ingest workers (default: 4).
	NumWorkers int

	// QueueSize bounds the ingest job queue (default: 100).
	QueueSize int

	// MaxRetries caps requeue attempts for a failed job (default: 3).
	MaxRetries int

	// ShutdownTimeout bounds the graceful drain on shutdown (default: 30s).
	ShutdownTimeout time.Duration

	// ApplyOpsPerSecond throttles writes to the graph store; <= 0 disables
	// the throttle.
	ApplyOpsPerSecond float64

	// ApplyBurst is the write throttle's burst size.
	ApplyBurst int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NumWorkers:      4,
		QueueSize:       100,
		MaxRetries:      3,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.NumWorkers < 1 {
		return fmt.Errorf("NumWorkers must be >= 1, got %d", c.NumWorkers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries must be >= 0, got %d", c.MaxRetries)
	}
	return nil
}

// IngestJob is one document's worth of work on the queue.
type IngestJob struct {
	Update    ingest.DocumentUpdate
	Timestamp time.Time
	Attempt   int
}
