package types

// ConceptCluster groups semantically similar entities under one concept node.
// A clustering pass partitions its input: every input entity belongs to
// exactly one cluster, singletons included.
type ConceptCluster struct {
	// ID is the stable cluster identifier derived from the sorted member IDs.
	ID string `json:"id"`

	// Label is a human-readable name built from the top member names.
	Label string `json:"label"`

	// MemberIDs lists the entity IDs in this cluster (non-empty, sorted).
	MemberIDs []string `json:"member_entity_ids"`

	// RepresentativeID is the highest-confidence member (smallest ID on ties).
	RepresentativeID string `json:"representative_id"`
}

// Size returns the number of member entities.
func (c *ConceptCluster) Size() int {
	return len(c.MemberIDs)
}
