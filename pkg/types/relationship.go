package types

import "time"

// Relationship represents a typed, weighted edge between two entities.
//
// Invariant: SourceID != TargetID. Self relationships are never produced,
// including SIMILAR_TO self-loops.
type Relationship struct {
	// SourceID and TargetID reference existing entity IDs.
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`

	// Type is the relationship classification (see RelationType constants).
	Type RelationType `json:"relation_type"`

	// Confidence is the extraction confidence in [0,1], combined from the
	// confidences of the two endpoint entities.
	Confidence float64 `json:"confidence"`

	// Weight is the relationship strength in [0,1], used for ranking and
	// pruning. For co-occurrence edges it decreases with the token distance
	// between the two mentions.
	Weight float64 `json:"weight"`

	// Timestamp is when the relationship was observed (the chunk timestamp).
	Timestamp time.Time `json:"timestamp"`

	// Occurrences counts how many chunk-level observations were folded into
	// this edge during batch dedup (>= 1).
	Occurrences int `json:"occurrences,omitempty"`
}

// Key returns the stable dedup key (rel:source:target:type). Two
// observations of the same pair and type fold into one edge.
func (r *Relationship) Key() string {
	return RelationshipKey(r.SourceID, r.TargetID, r.Type)
}
