package types

import "time"

// Entity represents a canonical node in the knowledge graph: a person,
// organization, concept, technology, project, event, or location extracted
// from chunk text.
//
// Invariants maintained by the resolver: FirstSeen <= LastSeen, and
// MentionCount is monotonically non-decreasing under merge.
type Entity struct {
	// ID is the stable identifier derived from the normalized name and type
	// (format: ent:type:hash). See EntityID.
	ID string `json:"id"`

	// Name is the canonical surface form as it first appeared in text.
	Name string `json:"name"`

	// Type is the entity classification (see EntityType constants).
	Type EntityType `json:"entity_type"`

	// Confidence is the extraction confidence in [0,1]. Merging keeps the
	// maximum across all mentions.
	Confidence float64 `json:"confidence"`

	// MentionCount is the number of mentions folded into this entity (>= 1).
	MentionCount int `json:"mention_count"`

	// FirstSeen and LastSeen bound the observation window for this entity.
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// Properties carries open key-value metadata (source chunk, match method,
	// mention offset). Merging unions the maps; the mention with the newest
	// LastSeen wins a key conflict.
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// NewEntity builds an entity candidate for a single mention observed at ts.
// The ID is derived from the normalized name and type.
func NewEntity(name string, entityType EntityType, confidence float64, ts time.Time) *Entity {
	return &Entity{
		ID:           EntityID(name, entityType),
		Name:         name,
		Type:         entityType,
		Confidence:   confidence,
		MentionCount: 1,
		FirstSeen:    ts,
		LastSeen:     ts,
	}
}

// MergeKey returns the grouping key used by the resolver: normalized name
// plus type. Candidates sharing a key are folded into one canonical entity.
func (e *Entity) MergeKey() string {
	return NormalizeName(e.Name) + "|" + string(e.Type)
}

// SetProperty sets a key in the entity's property map, allocating it lazily.
func (e *Entity) SetProperty(key string, value interface{}) {
	if e.Properties == nil {
		e.Properties = make(map[string]interface{})
	}
	e.Properties[key] = value
}
