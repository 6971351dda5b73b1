package graph

import (
	"testing"
	"time"

	"github.com/jmadden/trellis/pkg/types"
)

// TestQueryRangeInclusive verifies both bounds are inclusive and items just
// outside either bound are excluded.
func TestQueryRangeInclusive(t *testing.T) {
	idx := NewTemporalIndex(0)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	start := base.Add(1 * time.Hour)
	end := base.Add(3 * time.Hour)

	mk := func(name string, ts time.Time) {
		e := types.NewEntity(name, types.EntityPerson, 0.8, ts)
		idx.RecordEntity(e, ts, "test")
	}

	mk("Before Bound", start.Add(-time.Second)) // just outside
	mk("On Start", start)                       // inclusive
	mk("In Middle", start.Add(time.Hour))
	mk("On End", end)                          // inclusive
	mk("After Bound", end.Add(time.Second))    // just outside

	events := idx.QueryRange(start, end, "")
	if len(events) != 3 {
		t.Fatalf("expected 3 events in range, got %d", len(events))
	}
	for _, ev := range events {
		if ev.Timestamp.Before(start) || ev.Timestamp.After(end) {
			t.Errorf("event %s at %v outside [%v, %v]", ev.ID, ev.Timestamp, start, end)
		}
	}
}

// TestQueryRangeTypeFilter verifies filtering by entity type.
func TestQueryRangeTypeFilter(t *testing.T) {
	idx := NewTemporalIndex(0)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	idx.RecordEntity(types.NewEntity("John Smith", types.EntityPerson, 0.8, ts), ts, "test")
	idx.RecordEntity(types.NewEntity("Acme Corp", types.EntityOrganization, 0.8, ts), ts, "test")
	idx.RecordRelationship(&types.Relationship{
		SourceID: "a", TargetID: "b", Type: types.RelCoOccurs, Timestamp: ts,
	}, "test")

	events := idx.QueryRange(ts.Add(-time.Hour), ts.Add(time.Hour), types.EntityPerson)
	if len(events) != 1 {
		t.Fatalf("expected 1 PERSON event, got %d", len(events))
	}
	if events[0].EntityType != types.EntityPerson {
		t.Errorf("expected PERSON, got %s", events[0].EntityType)
	}
}

// TestTimelineOrdered verifies per-ID timelines are returned oldest first
// even when events are recorded out of order.
func TestTimelineOrdered(t *testing.T) {
	idx := NewTemporalIndex(0)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	e := types.NewEntity("Phoenix", types.EntityProject, 0.8, base)
	idx.RecordEntity(e, base.Add(2*time.Hour), "second")
	idx.RecordEntity(e, base, "first")
	idx.RecordEntity(e, base.Add(4*time.Hour), "third")

	timeline := idx.Timeline(e.ID)
	if len(timeline) != 3 {
		t.Fatalf("expected 3 events, got %d", len(timeline))
	}
	for i := 1; i < len(timeline); i++ {
		if timeline[i].Timestamp.Before(timeline[i-1].Timestamp) {
			t.Errorf("timeline out of order at %d", i)
		}
	}
	if timeline[0].Context != "first" || timeline[2].Context != "third" {
		t.Errorf("unexpected timeline order: %+v", timeline)
	}
}

// TestTimelineUnknownID verifies the empty case.
func TestTimelineUnknownID(t *testing.T) {
	idx := NewTemporalIndex(0)
	if timeline := idx.Timeline("ent:person:missing"); timeline != nil {
		t.Errorf("expected nil timeline, got %v", timeline)
	}
}

// TestRecencyScore verifies the active-window scoring bias.
func TestRecencyScore(t *testing.T) {
	idx := NewTemporalIndex(7 * 24 * time.Hour)
	now := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)

	fresh := types.NewEntity("Fresh Topic", types.EntityConcept, 0.8, now)
	idx.RecordEntity(fresh, now.Add(-24*time.Hour), "recent")

	stale := types.NewEntity("Stale Topic", types.EntityConcept, 0.8, now)
	idx.RecordEntity(stale, now.Add(-60*24*time.Hour), "old")

	if score := idx.RecencyScore(fresh.ID, now); score != 1.0 {
		t.Errorf("expected 1.0 inside active window, got %f", score)
	}
	if score := idx.RecencyScore(stale.ID, now); score != 0 {
		t.Errorf("expected 0 far outside active window, got %f", score)
	}
	if score := idx.RecencyScore("ent:concept:unknown", now); score != 0 {
		t.Errorf("expected 0 for unknown ID, got %f", score)
	}

	// History is never discarded, only down-weighted.
	if len(idx.Timeline(stale.ID)) != 1 {
		t.Error("stale events must remain queryable")
	}
}
