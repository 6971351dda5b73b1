package neo4j

import (
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// TestStatsQueryReturnsOneRow guards the stats query against row-expanding
// clauses. A chained MATCH on an empty label collapses the pipeline to zero
// rows, so a fresh database (or one with no Concept nodes) would make
// Single fail instead of reporting zero counts.
func TestStatsQueryReturnsOneRow(t *testing.T) {
	if strings.Contains(statsQuery, "MATCH") {
		t.Fatalf("stats query must not expand rows via MATCH:\n%s", statsQuery)
	}
	for _, key := range []string{"documents", "chunks", "entities", "concepts", "relationships"} {
		if !strings.Contains(statsQuery, "AS "+key) {
			t.Errorf("stats query missing %q column", key)
		}
	}
}

func TestStatsFromRecord(t *testing.T) {
	record := &neo4j.Record{
		Keys:   []string{"documents", "chunks", "entities", "concepts", "relationships"},
		Values: []any{int64(3), int64(12), int64(40), int64(0), int64(55)},
	}

	stats := statsFromRecord(record)
	if stats.Documents != 3 || stats.Chunks != 12 || stats.Entities != 40 {
		t.Errorf("unexpected node counts: %+v", stats)
	}
	if stats.Concepts != 0 {
		t.Errorf("Concepts = %d, want 0", stats.Concepts)
	}
	if stats.Relationships != 55 {
		t.Errorf("Relationships = %d, want 55", stats.Relationships)
	}
}

// Missing or mistyped columns count as zero rather than erroring.
func TestStatsFromRecordMissingKeys(t *testing.T) {
	record := &neo4j.Record{
		Keys:   []string{"documents"},
		Values: []any{int64(1)},
	}

	stats := statsFromRecord(record)
	if stats.Documents != 1 {
		t.Errorf("Documents = %d, want 1", stats.Documents)
	}
	if stats.Chunks != 0 || stats.Entities != 0 || stats.Concepts != 0 || stats.Relationships != 0 {
		t.Errorf("missing keys should map to zero: %+v", stats)
	}
}
