package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/jmadden/trellis/pkg/types"
)

// Co-occurrence weight curve: weight falls linearly with the token distance
// between the two first mentions, from WeightMax at distance zero down to
// WeightMin, so closer mentions always rank higher. When a mention offset is
// unknown the midpoint default applies.
const (
	WeightMax         = 0.8
	WeightMin         = 0.5
	WeightPerToken    = 0.01
	DefaultPairWeight = 0.6
)

// trigger maps a connector phrase to the typed relationship it licenses.
// Absent a trigger between the pair, only CO_OCCURS is produced.
type trigger struct {
	pattern *regexp.Regexp
	relType types.RelationType
}

var triggers = []trigger{
	{regexp.MustCompile(`(?i)\b(?:is\s+)?part\s+of\b`), types.RelPartOf},
	{regexp.MustCompile(`(?i)\b(?:causes?|caused|leads?\s+to|results?\s+in)\b`), types.RelCauses},
	{regexp.MustCompile(`(?i)\b(?:defines?|is\s+defined\s+as)\b`), types.RelDefines},
	{regexp.MustCompile(`(?i)\b(?:references?|refers?\s+to|cites?)\b`), types.RelReferences},
	{regexp.MustCompile(`(?i)\b(?:similar\s+to|resembles?)\b`), types.RelSimilarTo},
	{regexp.MustCompile(`(?i)\bbefore\b`), types.RelTemporalBefore},
	{regexp.MustCompile(`(?i)\bafter\b`), types.RelTemporalAfter},
}

// RelationshipExtractor infers relationships between the entities of one
// chunk. Like the entity extractor it is stateless and safe for concurrent
// use across chunks.
type RelationshipExtractor struct {
	minConfidence float64
}

// NewRelationshipExtractor creates a relationship extractor. Pair confidence
// is the product of the endpoint confidences, floored at minConfidence.
func NewRelationshipExtractor(minConfidence float64) *RelationshipExtractor {
	return &RelationshipExtractor{minConfidence: minConfidence}
}

// Extract emits one CO_OCCURS relationship per unordered pair of entities in
// the chunk, plus typed relationships where a lexical trigger appears between
// the pair's mentions. The earlier mention is always the source, so the
// output is deterministic for a given entity list. No relationship is ever
// created between an entity and itself.
func (x *RelationshipExtractor) Extract(text string, entities []*types.Entity, ts time.Time) []*types.Relationship {
	if len(entities) < 2 {
		return nil
	}

	var out []*types.Relationship
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			out = append(out, x.pairRelationships(text, entities[i], entities[j], ts)...)
		}
	}

	return out
}

// pairRelationships builds the CO_OCCURS edge for one pair and any
// trigger-licensed typed edges. a is the earlier mention (entities arrive
// sorted by offset) and becomes the source.
func (x *RelationshipExtractor) pairRelationships(text string, a, b *types.Entity, ts time.Time) []*types.Relationship {
	if a.ID == b.ID {
		return nil
	}

	weight := x.pairWeight(a, b)
	confidence := a.Confidence * b.Confidence
	if confidence < x.minConfidence {
		confidence = x.minConfidence
	}

	rels := []*types.Relationship{{
		SourceID:    a.ID,
		TargetID:    b.ID,
		Type:        types.RelCoOccurs,
		Confidence:  confidence,
		Weight:      weight,
		Timestamp:   ts,
		Occurrences: 1,
	}}

	if between, ok := textBetween(text, a, b); ok {
		for _, tr := range triggers {
			if tr.pattern.MatchString(between) {
				rels = append(rels, &types.Relationship{
					SourceID:    a.ID,
					TargetID:    b.ID,
					Type:        tr.relType,
					Confidence:  confidence,
					Weight:      weight,
					Timestamp:   ts,
					Occurrences: 1,
				})
			}
		}
	}

	return rels
}

// pairWeight computes the co-occurrence weight from the token distance
// between the pair's first mentions: max(WeightMin, WeightMax - 0.01*d).
// Unknown offsets fall back to the documented midpoint default.
func (x *RelationshipExtractor) pairWeight(a, b *types.Entity) float64 {
	oa, okA := mentionOffset(a)
	ob, okB := mentionOffset(b)
	if !okA || !okB {
		return DefaultPairWeight
	}

	distance := oa - ob
	if distance < 0 {
		distance = -distance
	}

	weight := WeightMax - WeightPerToken*float64(distance)
	if weight < WeightMin {
		weight = WeightMin
	}
	return weight
}

// textBetween returns the text between the two mentions' first tokens,
// approximated on token boundaries. It reports false when either offset is
// missing.
func textBetween(text string, a, b *types.Entity) (string, bool) {
	oa, okA := mentionOffset(a)
	ob, okB := mentionOffset(b)
	if !okA || !okB {
		return "", false
	}
	if oa > ob {
		oa, ob = ob, oa
	}

	tokens := strings.Fields(text)
	if oa >= len(tokens) || ob > len(tokens) {
		return "", false
	}
	return strings.Join(tokens[oa:ob], " "), true
}

// mentionOffset reads the token offset recorded by the entity extractor.
func mentionOffset(e *types.Entity) (int, bool) {
	if e.Properties == nil {
		return 0, false
	}
	off, ok := e.Properties[PropTokenOffset].(int)
	return off, ok
}
