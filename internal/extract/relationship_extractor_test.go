package extract

import (
	"testing"

	"github.com/jmadden/trellis/pkg/types"
)

// extractBoth runs entity then relationship extraction over text, the way
// the builder wires them per chunk.
func extractBoth(t *testing.T, text string) ([]*types.Entity, []*types.Relationship) {
	t.Helper()
	ex := NewEntityExtractor(DefaultPatternTable(), 0.3)
	rx := NewRelationshipExtractor(0.3)
	entities := ex.Extract(text, "chunk:test:0", testTime)
	return entities, rx.Extract(text, entities, testTime)
}

// TestCoOccurrencePairs verifies the canonical scenario: three entities
// produce exactly three CO_OCCURS pairs within the documented weight range.
func TestCoOccurrencePairs(t *testing.T) {
	text := "John Smith works at Acme Corp on the Phoenix project."
	entities, rels := extractBoth(t, text)

	if len(entities) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(entities))
	}
	if len(rels) != 3 {
		t.Fatalf("expected 3 relationships, got %d", len(rels))
	}

	for _, r := range rels {
		if r.Type != types.RelCoOccurs {
			t.Errorf("expected CO_OCCURS, got %s", r.Type)
		}
		if r.Weight < 0.5 || r.Weight > 0.8 {
			t.Errorf("weight %f outside documented default range [0.5, 0.8]", r.Weight)
		}
		if r.Confidence <= 0 || r.Confidence > 1 {
			t.Errorf("confidence %f outside (0, 1]", r.Confidence)
		}
		if r.SourceID == r.TargetID {
			t.Errorf("self relationship %s", r.SourceID)
		}
	}
}

// TestWeightMonotonicity verifies that a closer pair gets a strictly higher
// weight than a farther pair.
func TestWeightMonotonicity(t *testing.T) {
	a := types.NewEntity("Alpha One", types.EntityPerson, 0.65, testTime)
	a.SetProperty(PropTokenOffset, 0)
	b := types.NewEntity("Beta Two", types.EntityPerson, 0.65, testTime)
	b.SetProperty(PropTokenOffset, 2)
	c := types.NewEntity("Gamma Three", types.EntityPerson, 0.65, testTime)
	c.SetProperty(PropTokenOffset, 20)

	x := NewRelationshipExtractor(0.3)

	near := x.pairWeight(a, b)
	far := x.pairWeight(a, c)

	if near <= far {
		t.Errorf("expected closer pair to weigh more: near=%f far=%f", near, far)
	}
	if far < WeightMin {
		t.Errorf("weight %f fell below the floor %f", far, WeightMin)
	}
}

// TestDefaultWeight verifies the midpoint default when mention offsets are
// unknown.
func TestDefaultWeight(t *testing.T) {
	a := types.NewEntity("Alpha One", types.EntityPerson, 0.65, testTime)
	b := types.NewEntity("Beta Two", types.EntityPerson, 0.65, testTime)

	x := NewRelationshipExtractor(0.3)
	rels := x.Extract("irrelevant", []*types.Entity{a, b}, testTime)

	if len(rels) != 1 {
		t.Fatalf("expected 1 relationship, got %d", len(rels))
	}
	if rels[0].Weight != DefaultPairWeight {
		t.Errorf("expected default weight %f, got %f", DefaultPairWeight, rels[0].Weight)
	}
}

// TestTriggerTyped verifies that a connector phrase between the pair adds a
// typed relationship on top of CO_OCCURS.
func TestTriggerTyped(t *testing.T) {
	text := "The Phoenix project is part of Acme Corp."
	_, rels := extractBoth(t, text)

	var sawCoOccurs, sawPartOf bool
	for _, r := range rels {
		switch r.Type {
		case types.RelCoOccurs:
			sawCoOccurs = true
		case types.RelPartOf:
			sawPartOf = true
		}
	}

	if !sawCoOccurs {
		t.Error("expected a CO_OCCURS relationship")
	}
	if !sawPartOf {
		t.Errorf("expected a PART_OF relationship from the connector phrase, got %+v", rels)
	}
}

// TestConfidenceFloorClamp verifies that weak endpoint confidences are
// clamped up to the configured floor rather than dropped.
func TestConfidenceFloorClamp(t *testing.T) {
	a := types.NewEntity("Alpha One", types.EntityConcept, 0.5, testTime)
	a.SetProperty(PropTokenOffset, 0)
	b := types.NewEntity("Beta Two", types.EntityConcept, 0.5, testTime)
	b.SetProperty(PropTokenOffset, 3)

	x := NewRelationshipExtractor(0.3)
	rels := x.Extract("alpha one and beta two", []*types.Entity{a, b}, testTime)

	if len(rels) != 1 {
		t.Fatalf("expected 1 relationship, got %d", len(rels))
	}
	// 0.5 * 0.5 = 0.25 < 0.3 floor
	if rels[0].Confidence != 0.3 {
		t.Errorf("expected confidence clamped to 0.3, got %f", rels[0].Confidence)
	}
}

// TestNoSelfRelationship verifies that duplicate entity entries never
// produce a self edge.
func TestNoSelfRelationship(t *testing.T) {
	a := types.NewEntity("Alpha One", types.EntityPerson, 0.65, testTime)
	dup := types.NewEntity("alpha one", types.EntityPerson, 0.65, testTime)

	x := NewRelationshipExtractor(0.3)
	rels := x.Extract("alpha one alpha one", []*types.Entity{a, dup}, testTime)

	if len(rels) != 0 {
		t.Errorf("expected no relationships for duplicate IDs, got %d", len(rels))
	}
}

// TestFewerThanTwoEntities verifies the trivial cases.
func TestFewerThanTwoEntities(t *testing.T) {
	x := NewRelationshipExtractor(0.3)

	if rels := x.Extract("text", nil, testTime); len(rels) != 0 {
		t.Errorf("expected no relationships for empty entity list")
	}

	one := types.NewEntity("Alpha One", types.EntityPerson, 0.65, testTime)
	if rels := x.Extract("text", []*types.Entity{one}, testTime); len(rels) != 0 {
		t.Errorf("expected no relationships for a single entity")
	}
}
