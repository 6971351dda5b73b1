// Package persist applies graph upsert plans to the graph store. The applier
// is the only writer the graph database sees: it rate-limits writes, retries
// transient failures, and reports rather than aborts on persistent ones.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/jmadden/trellis/internal/graph"
	"github.com/jmadden/trellis/internal/storage"
)

// DefaultMaxRetries is how many times a failing op is retried before it is
// recorded as failed.
const DefaultMaxRetries = 3

// FailedOp records one operation that could not be applied after retries.
type FailedOp struct {
	Kind  graph.OpKind `json:"kind"`
	Key   string       `json:"key"`
	Error string       `json:"error"`
}

// ApplyReport summarizes one plan application. A plan with failures is not
// an error: ops are idempotent, so the caller can re-apply the plan later
// and only the missing pieces change.
type ApplyReport struct {
	BatchID  string        `json:"batch_id"`
	Applied  int           `json:"applied"`
	Failed   []FailedOp    `json:"failed,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Applier writes upsert plans to a GraphStore.
type Applier struct {
	store      storage.GraphStore
	limiter    *rate.Limiter
	maxRetries int
}

// NewApplier creates an applier writing at most opsPerSecond operations per
// second with the given burst. A zero or negative opsPerSecond disables
// rate limiting.
func NewApplier(store storage.GraphStore, opsPerSecond float64, burst int) *Applier {
	limit := rate.Inf
	if opsPerSecond > 0 {
		limit = rate.Limit(opsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Applier{
		store:      store,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: DefaultMaxRetries,
	}
}

// Apply writes every operation in the plan to the store, in plan order. A
// single op's failure is retried with backoff and then recorded; it never
// aborts the rest of the plan. Apply returns an error only on context
// cancellation, along with the report for whatever was applied before it.
func (a *Applier) Apply(ctx context.Context, plan *graph.GraphUpsertPlan) (*ApplyReport, error) {
	report := &ApplyReport{BatchID: plan.BatchID}
	start := time.Now()

	for _, op := range plan.Ops {
		if err := a.limiter.Wait(ctx); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}

		if err := a.applyWithRetry(ctx, op); err != nil {
			if ctx.Err() != nil {
				report.Duration = time.Since(start)
				return report, ctx.Err()
			}
			log.Printf("Applier: op %s %s failed after %d attempts: %v", op.Kind(), op.Key(), a.maxRetries, err)
			report.Failed = append(report.Failed, FailedOp{Kind: op.Kind(), Key: op.Key(), Error: err.Error()})
			continue
		}
		report.Applied++
	}

	report.Duration = time.Since(start)
	log.Printf("Applier: batch %s applied %d/%d ops in %v", plan.BatchID, report.Applied, plan.Len(), report.Duration)
	return report, nil
}

// applyWithRetry runs one op, retrying transient failures with backoff.
// Invalid input is not transient and fails immediately.
func (a *Applier) applyWithRetry(ctx context.Context, op graph.Op) error {
	var lastErr error
	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		if attempt > 1 {
			// 100ms, 400ms, 900ms...
			backoffDuration := time.Duration(attempt*attempt) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDuration):
			}
		}

		lastErr = a.applyOp(ctx, op)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, storage.ErrInvalidInput) || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// applyOp dispatches one operation to the matching store method.
func (a *Applier) applyOp(ctx context.Context, op graph.Op) error {
	switch o := op.(type) {
	case graph.UpsertDocument:
		return a.store.UpsertDocument(ctx, &o.Document)
	case graph.UpsertChunk:
		return a.store.UpsertChunk(ctx, &o.Chunk)
	case graph.UpsertEntity:
		return a.store.UpsertEntity(ctx, &o.Entity)
	case graph.UpsertRelationship:
		return a.store.UpsertRelationship(ctx, &o.Relationship)
	case graph.UpsertConcept:
		return a.store.UpsertConcept(ctx, &o.Concept)
	case graph.LinkChunkEntity:
		return a.store.LinkChunkEntity(ctx, o.ChunkID, o.EntityID)
	default:
		return fmt.Errorf("%w: unknown op kind %s", storage.ErrInvalidInput, op.Kind())
	}
}
