package handlers

import (
	"time"

	"github.com/jmadden/trellis/internal/graph"
	"github.com/jmadden/trellis/internal/storage"
	"github.com/jmadden/trellis/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SearchResponse is the response format for GET /api/search.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	Query   string         `json:"query"`
}

// SearchResult is a single entity hit with its ranking signals.
type SearchResult struct {
	Entity       types.Entity `json:"entity"`
	Score        float64      `json:"score"`
	RecencyScore float64      `json:"recency_score"`
	Similarity   float64      `json:"similarity,omitempty"`
}

// EntityResponse is the response format for GET /api/entities/{id}.
type EntityResponse struct {
	Entity    types.Entity       `json:"entity"`
	Neighbors []NeighborResponse `json:"neighbors,omitempty"`
}

// NeighborResponse is one connected entity in an entity graph response.
type NeighborResponse struct {
	Entity       types.Entity       `json:"entity"`
	RelationType types.RelationType `json:"relation_type"`
	Weight       float64            `json:"weight"`
}

// TimelineResponse is the response format for GET /api/entities/{id}/timeline.
type TimelineResponse struct {
	EntityID string        `json:"entity_id"`
	Events   []graph.Event `json:"events"`
	Total    int           `json:"total"`
}

// RangeResponse is the response format for GET /api/range.
type RangeResponse struct {
	Start  time.Time     `json:"start"`
	End    time.Time     `json:"end"`
	Type   string        `json:"type,omitempty"`
	Events []graph.Event `json:"events"`
	Total  int           `json:"total"`
}

// StatsResponse is the response format for GET /api/stats.
type StatsResponse struct {
	Graph          storage.GraphStats `json:"graph"`
	TemporalEvents int                `json:"temporal_events"`
	EmbedderState  string             `json:"embedder_state,omitempty"`
}
