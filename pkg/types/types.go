// Package types defines the core data structures for the Trellis knowledge
// graph: entities, relationships, concept clusters, and the chunk/document
// identities supplied by the ingestion layer.
package types

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// EntityType classifies a node in the knowledge graph.
type EntityType string

// Supported entity types.
const (
	EntityPerson       EntityType = "PERSON"
	EntityOrganization EntityType = "ORGANIZATION"
	EntityConcept      EntityType = "CONCEPT"
	EntityTechnology   EntityType = "TECHNOLOGY"
	EntityProject      EntityType = "PROJECT"
	EntityEvent        EntityType = "EVENT"
	EntityLocation     EntityType = "LOCATION"
	EntityDocument     EntityType = "DOCUMENT"
	EntityChunk        EntityType = "CHUNK"
)

// ValidEntityTypes lists all valid entity types for validation.
var ValidEntityTypes = []EntityType{
	EntityPerson,
	EntityOrganization,
	EntityConcept,
	EntityTechnology,
	EntityProject,
	EntityEvent,
	EntityLocation,
	EntityDocument,
	EntityChunk,
}

// IsValidEntityType reports whether t is a known entity type.
func IsValidEntityType(t EntityType) bool {
	for _, v := range ValidEntityTypes {
		if t == v {
			return true
		}
	}
	return false
}

// RelationType classifies an edge in the knowledge graph.
type RelationType string

// Supported relationship types.
const (
	RelMentions       RelationType = "MENTIONS"
	RelRelatesTo      RelationType = "RELATES_TO"
	RelPartOf         RelationType = "PART_OF"
	RelSimilarTo      RelationType = "SIMILAR_TO"
	RelCauses         RelationType = "CAUSES"
	RelCoOccurs       RelationType = "CO_OCCURS"
	RelReferences     RelationType = "REFERENCES"
	RelDefines        RelationType = "DEFINES"
	RelTemporalBefore RelationType = "TEMPORAL_BEFORE"
	RelTemporalAfter  RelationType = "TEMPORAL_AFTER"
)

// ValidRelationTypes lists all valid relationship types for validation.
var ValidRelationTypes = []RelationType{
	RelMentions,
	RelRelatesTo,
	RelPartOf,
	RelSimilarTo,
	RelCauses,
	RelCoOccurs,
	RelReferences,
	RelDefines,
	RelTemporalBefore,
	RelTemporalAfter,
}

// IsValidRelationType reports whether t is a known relationship type.
func IsValidRelationType(t RelationType) bool {
	for _, v := range ValidRelationTypes {
		if t == v {
			return true
		}
	}
	return false
}

// NormalizeName lowercases a surface form and collapses internal whitespace.
// Entity identity and merge grouping both key on the normalized name, so two
// mentions that differ only in casing or spacing resolve to the same entity.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// EntityID derives the stable entity ID from a normalized name and type
// (format: ent:type:hash). The same surface form always maps to the same ID,
// which is what makes graph upserts idempotent across batches.
func EntityID(name string, entityType EntityType) string {
	h := fnv.New64a()
	h.Write([]byte(NormalizeName(name)))
	return fmt.Sprintf("ent:%s:%016x", strings.ToLower(string(entityType)), h.Sum64())
}

// RelationshipKey derives the stable dedup key for a relationship
// (format: rel:source:target:type).
func RelationshipKey(sourceID, targetID string, relType RelationType) string {
	return fmt.Sprintf("rel:%s:%s:%s", sourceID, targetID, relType)
}
