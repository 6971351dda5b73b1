package graph

import (
	"sort"
	"sync"
	"time"

	"github.com/jmadden/trellis/pkg/types"
)

// DefaultActiveWindow is the default recency window used for relevance
// scoring. It is a query-time bias only: the index never discards history.
const DefaultActiveWindow = 7 * 24 * time.Hour

// EventKind distinguishes entity observations from relationship
// observations in the temporal log.
type EventKind string

const (
	// EventEntity records an entity mention.
	EventEntity EventKind = "entity"

	// EventRelationship records a relationship observation.
	EventRelationship EventKind = "relationship"
)

// Event is one append-only entry in an ID's timeline.
type Event struct {
	// ID is the entity or relationship key the event belongs to.
	ID string `json:"id"`

	// Kind says whether the event describes an entity or a relationship.
	Kind EventKind `json:"kind"`

	// EntityType is set for entity events and used by type-filtered range
	// queries.
	EntityType types.EntityType `json:"entity_type,omitempty"`

	// Timestamp is the observation time.
	Timestamp time.Time `json:"timestamp"`

	// Context is a short human-readable description ("mentioned in
	// chunk:...", "co-occurs with ...").
	Context string `json:"context"`
}

// TemporalIndex maintains append-only, timestamp-ordered event logs keyed by
// entity or relationship ID, and answers inclusive time-range queries over
// them. Writers for different IDs may run concurrently; the index serializes
// them with a single RWMutex, which is cheap at batch granularity.
//
// Nothing is ever deleted: the "active window" is a scoring bias, not a
// retention policy.
type TemporalIndex struct {
	mu           sync.RWMutex
	events       map[string][]Event
	activeWindow time.Duration
}

// NewTemporalIndex creates an empty index with the given active window
// (DefaultActiveWindow when zero).
func NewTemporalIndex(activeWindow time.Duration) *TemporalIndex {
	if activeWindow <= 0 {
		activeWindow = DefaultActiveWindow
	}
	return &TemporalIndex{
		events:       make(map[string][]Event),
		activeWindow: activeWindow,
	}
}

// RecordEntity appends an entity observation to its timeline.
func (t *TemporalIndex) RecordEntity(e *types.Entity, ts time.Time, context string) {
	t.append(Event{
		ID:         e.ID,
		Kind:       EventEntity,
		EntityType: e.Type,
		Timestamp:  ts,
		Context:    context,
	})
}

// RecordRelationship appends a relationship observation keyed by the
// relationship's stable dedup key.
func (t *TemporalIndex) RecordRelationship(r *types.Relationship, context string) {
	t.append(Event{
		ID:        r.Key(),
		Kind:      EventRelationship,
		Timestamp: r.Timestamp,
		Context:   context,
	})
}

// append inserts an event keeping each per-ID log timestamp-ordered. Events
// arrive mostly in order, so the tail check is the common path.
func (t *TemporalIndex) append(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	log := t.events[ev.ID]
	if n := len(log); n == 0 || !ev.Timestamp.Before(log[n-1].Timestamp) {
		t.events[ev.ID] = append(log, ev)
		return
	}

	i := sort.Search(len(log), func(i int) bool { return log[i].Timestamp.After(ev.Timestamp) })
	log = append(log, Event{})
	copy(log[i+1:], log[i:])
	log[i] = ev
	t.events[ev.ID] = log
}

// QueryRange returns all events with start <= timestamp <= end (both bounds
// inclusive). A non-empty typeFilter restricts the result to entity events
// of that type. Results are ordered by timestamp, then ID, so repeated
// queries are stable.
func (t *TemporalIndex) QueryRange(start, end time.Time, typeFilter types.EntityType) []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Event
	for _, log := range t.events {
		for _, ev := range log {
			if ev.Timestamp.Before(start) || ev.Timestamp.After(end) {
				continue
			}
			if typeFilter != "" && (ev.Kind != EventEntity || ev.EntityType != typeFilter) {
				continue
			}
			out = append(out, ev)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})

	return out
}

// Timeline returns the full event log for one ID, oldest first. The result
// is a copy; callers may not mutate index state through it.
func (t *TemporalIndex) Timeline(id string) []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	log := t.events[id]
	if len(log) == 0 {
		return nil
	}
	return append([]Event(nil), log...)
}

// RecencyScore maps the age of an ID's newest event onto [0,1]: 1.0 inside
// the active window, decaying linearly to 0 at four windows out. IDs with no
// history score 0. Used to bias search ranking, never to discard data.
func (t *TemporalIndex) RecencyScore(id string, now time.Time) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	log := t.events[id]
	if len(log) == 0 {
		return 0
	}

	age := now.Sub(log[len(log)-1].Timestamp)
	if age <= t.activeWindow {
		return 1.0
	}

	span := 3 * t.activeWindow
	over := age - t.activeWindow
	if over >= span {
		return 0
	}
	return 1.0 - float64(over)/float64(span)
}

// EventCount returns the total number of recorded events, for stats.
func (t *TemporalIndex) EventCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, log := range t.events {
		n += len(log)
	}
	return n
}
