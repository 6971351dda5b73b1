// Package graph implements the knowledge-graph construction engine: entity
// resolution, concept clustering, the temporal index, and the batch builder
// that turns chunk text into an idempotent upsert plan for the graph store.
package graph

import (
	"sort"

	"github.com/jmadden/trellis/pkg/types"
)

// EntityResolver canonicalizes entity candidates across the chunks and
// documents of one batch. It is the single serialization point of a build:
// the builder runs it once, after all extraction workers have finished.
type EntityResolver struct{}

// NewEntityResolver creates a resolver.
func NewEntityResolver() *EntityResolver {
	return &EntityResolver{}
}

// Merge groups candidates by normalized name plus type and folds each group
// into one canonical entity: mention counts sum, confidence takes the max,
// FirstSeen the min, LastSeen the max, and properties union. The fold order
// inside a group is pinned to (LastSeen, Name, chunk) so the result is
// independent of input order; on a property key conflict the newest mention
// wins.
//
// Two distinct real-world entities sharing a normalized name collapse into
// one node here. That is a documented imprecision of name-keyed resolution,
// surfaced only through confidence, and deliberately not "fixed" with an
// undocumented disambiguation heuristic.
func (r *EntityResolver) Merge(candidates []*types.Entity) []*types.Entity {
	groups := make(map[string][]*types.Entity)
	for _, c := range candidates {
		key := c.MergeKey()
		groups[key] = append(groups[key], c)
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	merged := make([]*types.Entity, 0, len(groups))
	for _, key := range keys {
		merged = append(merged, mergeGroup(groups[key]))
	}

	return merged
}

// mergeGroup folds one group of same-key candidates into a canonical entity.
func mergeGroup(group []*types.Entity) *types.Entity {
	// Pin the fold order so merge is commutative and associative: oldest
	// mention first, newest last, with name and source chunk as tiebreakers.
	sort.SliceStable(group, func(i, j int) bool {
		a, b := group[i], group[j]
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.Before(b.LastSeen)
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return chunkOf(a) < chunkOf(b)
	})

	first := group[0]
	canonical := &types.Entity{
		ID:           first.ID,
		Name:         first.Name,
		Type:         first.Type,
		Confidence:   first.Confidence,
		MentionCount: 0,
		FirstSeen:    first.FirstSeen,
		LastSeen:     first.LastSeen,
	}

	for _, c := range group {
		canonical.MentionCount += c.MentionCount

		if c.Confidence > canonical.Confidence {
			canonical.Confidence = c.Confidence
		}
		if c.FirstSeen.Before(canonical.FirstSeen) {
			canonical.FirstSeen = c.FirstSeen
		}
		if c.LastSeen.After(canonical.LastSeen) {
			canonical.LastSeen = c.LastSeen
			// Prefer the newest mention's surface form for the canonical name.
			canonical.Name = c.Name
		}

		for k, v := range c.Properties {
			canonical.SetProperty(k, v)
		}
	}

	return canonical
}

// chunkOf reads the source chunk ID property, if any.
func chunkOf(e *types.Entity) string {
	if e.Properties == nil {
		return ""
	}
	id, _ := e.Properties["chunk_id"].(string)
	return id
}
