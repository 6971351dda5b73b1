package extract

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/jmadden/trellis/pkg/types"
)

var testTime = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestExtractor(t *testing.T, floor float64) *EntityExtractor {
	t.Helper()
	return NewEntityExtractor(DefaultPatternTable(), floor)
}

// TestExtractEmptyText verifies that empty and malformed input yields an
// empty result, never a panic.
func TestExtractEmptyText(t *testing.T) {
	x := newTestExtractor(t, 0.3)

	for _, text := range []string{"", "   ", "\n\t\n", "!!! ??? ...", "\x00\x01"} {
		entities := x.Extract(text, "chunk:test:0", testTime)
		if len(entities) != 0 {
			t.Errorf("expected no entities for %q, got %d", text, len(entities))
		}
	}
}

// TestExtractDeterminism verifies that extracting the same chunk twice
// yields an identical entity list, order included.
func TestExtractDeterminism(t *testing.T) {
	x := newTestExtractor(t, 0.3)
	text := "Maria Lopez from Acme Corp presented machine learning results in Berlin using PyTorch."

	first := x.Extract(text, "chunk:test:0", testTime)
	second := x.Extract(text, "chunk:test:0", testTime)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected identical extraction results:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if len(first) == 0 {
		t.Fatal("expected at least one entity")
	}
}

// TestExtractConfidenceFloor verifies that every returned candidate meets
// the configured minimum confidence.
func TestExtractConfidenceFloor(t *testing.T) {
	x := newTestExtractor(t, 0.7)
	text := "John Smith joined Acme Corp to work on machine learning."

	entities := x.Extract(text, "chunk:test:0", testTime)

	for _, e := range entities {
		if e.Confidence < 0.7 {
			t.Errorf("entity %q has confidence %f below floor", e.Name, e.Confidence)
		}
	}

	// The capitalized-pair person match sits below the 0.7 floor.
	for _, e := range entities {
		if e.Name == "John Smith" {
			t.Errorf("expected John Smith to be dropped at floor 0.7")
		}
	}
}

// TestExtractScenario verifies the canonical sentence resolves to the three
// expected entities with the expected types.
func TestExtractScenario(t *testing.T) {
	x := newTestExtractor(t, 0.3)
	text := "John Smith works at Acme Corp on the Phoenix project."

	entities := x.Extract(text, "chunk:test:0", testTime)

	want := map[string]types.EntityType{
		"John Smith": types.EntityPerson,
		"Acme Corp":  types.EntityOrganization,
		"Phoenix":    types.EntityProject,
	}

	if len(entities) != len(want) {
		names := make([]string, 0, len(entities))
		for _, e := range entities {
			names = append(names, e.Name)
		}
		t.Fatalf("expected %d entities, got %d: %v", len(want), len(entities), names)
	}

	for _, e := range entities {
		wantType, ok := want[e.Name]
		if !ok {
			t.Errorf("unexpected entity %q", e.Name)
			continue
		}
		if e.Type != wantType {
			t.Errorf("entity %q: expected type %s, got %s", e.Name, wantType, e.Type)
		}
		if e.Confidence <= 0 {
			t.Errorf("entity %q: expected positive confidence", e.Name)
		}
		if e.MentionCount != 1 {
			t.Errorf("entity %q: expected mention count 1, got %d", e.Name, e.MentionCount)
		}
	}
}

// TestExtractDeduplication verifies that repeated mentions of one name
// collapse into a single candidate keeping the earliest offset.
func TestExtractDeduplication(t *testing.T) {
	x := newTestExtractor(t, 0.3)
	text := "Jane Doe wrote the report. Later Jane Doe presented it."

	entities := x.Extract(text, "chunk:test:0", testTime)

	count := 0
	for _, e := range entities {
		if e.Name == "Jane Doe" {
			count++
			if off := e.Properties[PropTokenOffset].(int); off != 0 {
				t.Errorf("expected earliest token offset 0, got %d", off)
			}
		}
	}
	if count != 1 {
		t.Errorf("expected one Jane Doe candidate, got %d", count)
	}
}

// TestExtractCrossTypeShadow verifies that an organization with a corporate
// suffix is not also emitted as a person by the capitalized-pair pattern.
func TestExtractCrossTypeShadow(t *testing.T) {
	x := newTestExtractor(t, 0.3)
	text := "Acme Corp shipped a new release."

	entities := x.Extract(text, "chunk:test:0", testTime)

	if len(entities) != 1 {
		t.Fatalf("expected exactly one entity, got %d", len(entities))
	}
	if entities[0].Type != types.EntityOrganization {
		t.Errorf("expected ORGANIZATION, got %s", entities[0].Type)
	}
}

// TestExtractDictionary verifies curated dictionary hits keep the surface
// casing and carry the dictionary confidence tier.
func TestExtractDictionary(t *testing.T) {
	x := newTestExtractor(t, 0.3)
	text := "We store embeddings in Neo4j and run Machine Learning jobs on Kubernetes."

	entities := x.Extract(text, "chunk:test:0", testTime)

	byName := make(map[string]*types.Entity)
	for _, e := range entities {
		byName[e.Name] = e
	}

	neo, ok := byName["Neo4j"]
	if !ok {
		t.Fatal("expected Neo4j entity")
	}
	if neo.Type != types.EntityTechnology {
		t.Errorf("expected TECHNOLOGY for Neo4j, got %s", neo.Type)
	}
	if neo.Confidence != ConfidenceDictionary {
		t.Errorf("expected dictionary confidence %f, got %f", ConfidenceDictionary, neo.Confidence)
	}

	ml, ok := byName["Machine Learning"]
	if !ok {
		t.Fatal("expected Machine Learning entity with surface casing preserved")
	}
	if ml.Type != types.EntityConcept {
		t.Errorf("expected CONCEPT for Machine Learning, got %s", ml.Type)
	}
}

// TestLoadPatternFile verifies the YAML overlay extends the defaults and
// rejects invalid entries.
func TestLoadPatternFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")

	content := `rules:
  - type: technology
    keywords: [zig, gleam]
  - type: project
    pattern: 'codename\s+([A-Z][a-z]+)'
    group: 1
    confidence: 0.7
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write pattern file: %v", err)
	}

	table, err := LoadPatternFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Rules()) != len(DefaultPatternTable().Rules())+2 {
		t.Errorf("expected defaults plus two overlay rules, got %d", len(table.Rules()))
	}

	x := NewEntityExtractor(table, 0.3)
	entities := x.Extract("We are rewriting the parser in Zig under codename Falcon.", "chunk:test:0", testTime)

	found := map[string]types.EntityType{}
	for _, e := range entities {
		found[e.Name] = e.Type
	}
	if found["Zig"] != types.EntityTechnology {
		t.Errorf("expected Zig TECHNOLOGY from overlay, got %v", found)
	}
	if found["Falcon"] != types.EntityProject {
		t.Errorf("expected Falcon PROJECT from overlay, got %v", found)
	}

	// Invalid entity type must be rejected.
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("rules:\n  - type: robot\n    keywords: [x]\n"), 0o600); err != nil {
		t.Fatalf("failed to write pattern file: %v", err)
	}
	if _, err := LoadPatternFile(bad); err == nil {
		t.Error("expected error for invalid entity type")
	}
}
