// Package handlers provides HTTP handlers and middleware for the Trellis API.
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/jmadden/trellis/internal/embed"
	"github.com/jmadden/trellis/internal/graph"
	"github.com/jmadden/trellis/internal/storage"
	"github.com/jmadden/trellis/pkg/types"
)

// defaultSearchLimit caps search results when no limit is given.
const defaultSearchLimit = 20

// APIHandlers serves the read API over the knowledge graph. The vector index
// and embedder are optional; without them search falls back to name matching
// only.
type APIHandlers struct {
	store    storage.GraphStore
	vectors  storage.VectorIndex
	embedder embed.Embedder
	temporal *graph.TemporalIndex
}

// NewAPIHandlers creates the API handler set. vectors and embedder may be
// nil.
func NewAPIHandlers(store storage.GraphStore, vectors storage.VectorIndex, embedder embed.Embedder, temporal *graph.TemporalIndex) *APIHandlers {
	return &APIHandlers{
		store:    store,
		vectors:  vectors,
		embedder: embedder,
		temporal: temporal,
	}
}

// Search handles GET /api/search?q=...&limit=... It combines name matches
// from the graph with semantic matches from the vector index when available,
// and biases the ranking by recency.
func (h *APIHandlers) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, http.StatusBadRequest, "missing query parameter q", nil)
		return
	}
	limit := queryInt(r, "limit", defaultSearchLimit)

	ctx := r.Context()
	now := time.Now()

	entities, err := h.store.FindEntities(ctx, query, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "entity search failed", err)
		return
	}

	results := make(map[string]*SearchResult, len(entities))
	for _, e := range entities {
		recency := h.recency(e.ID, now)
		results[e.ID] = &SearchResult{
			Entity:       *e,
			RecencyScore: recency,
			Score:        e.Confidence * (0.5 + 0.5*recency),
		}
	}

	// Semantic hits fold into the same result set; an entity found both
	// ways keeps the higher score.
	if h.vectors != nil && h.embedder != nil {
		if err := h.semanticSearch(r, query, limit, now, results); err != nil {
			// Degrade to name matching; the graph answered already.
			log.Printf("API: WARNING - semantic search unavailable: %v", err)
		}
	}

	out := make([]SearchResult, 0, len(results))
	for _, res := range results {
		out = append(out, *res)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Entity.ID < out[j].Entity.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}

	respondJSON(w, http.StatusOK, SearchResponse{Results: out, Total: len(out), Query: query})
}

// semanticSearch embeds the query and merges nearest-neighbor hits into results.
func (h *APIHandlers) semanticSearch(r *http.Request, query string, limit int, now time.Time, results map[string]*SearchResult) error {
	ctx := r.Context()

	vec, err := h.embedder.Embed(ctx, query)
	if err != nil {
		return err
	}

	hits, err := h.vectors.Search(ctx, vec, limit)
	if err != nil {
		return err
	}

	for _, hit := range hits {
		recency := h.recency(hit.EntityID, now)
		score := hit.Similarity * (0.5 + 0.5*recency)

		if existing, ok := results[hit.EntityID]; ok {
			existing.Similarity = hit.Similarity
			if score > existing.Score {
				existing.Score = score
			}
			continue
		}

		entity, err := h.store.GetEntity(ctx, hit.EntityID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue // vector index ahead of the graph, skip
			}
			return err
		}
		results[hit.EntityID] = &SearchResult{
			Entity:       *entity,
			Score:        score,
			RecencyScore: recency,
			Similarity:   hit.Similarity,
		}
	}
	return nil
}

// GetEntity handles GET /api/entities/{id} - entity detail with neighbors.
func (h *APIHandlers) GetEntity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing entity id", nil)
		return
	}

	ctx := r.Context()
	entity, err := h.store.GetEntity(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "entity not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load entity", err)
		return
	}

	neighbors, err := h.store.Neighbors(ctx, id, queryInt(r, "limit", 50))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load neighbors", err)
		return
	}

	resp := EntityResponse{Entity: *entity}
	for _, n := range neighbors {
		resp.Neighbors = append(resp.Neighbors, NeighborResponse{
			Entity:       *n.Entity,
			RelationType: n.RelationType,
			Weight:       n.Weight,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetEntityTimeline handles GET /api/entities/{id}/timeline.
func (h *APIHandlers) GetEntityTimeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing entity id", nil)
		return
	}

	events := h.temporal.Timeline(id)
	respondJSON(w, http.StatusOK, TimelineResponse{
		EntityID: id,
		Events:   events,
		Total:    len(events),
	})
}

// QueryRange handles GET /api/range?start=...&end=...&type=... Both bounds
// are RFC 3339 timestamps and inclusive.
func (h *APIHandlers) QueryRange(w http.ResponseWriter, r *http.Request) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid start timestamp (want RFC 3339)", err)
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid end timestamp (want RFC 3339)", err)
		return
	}
	if end.Before(start) {
		respondError(w, http.StatusBadRequest, "end must not precede start", nil)
		return
	}

	typeFilter := types.EntityType(r.URL.Query().Get("type"))
	if typeFilter != "" && !types.IsValidEntityType(typeFilter) {
		respondError(w, http.StatusBadRequest, "unknown entity type", nil)
		return
	}

	events := h.temporal.QueryRange(start, end, typeFilter)
	respondJSON(w, http.StatusOK, RangeResponse{
		Start:  start,
		End:    end,
		Type:   string(typeFilter),
		Events: events,
		Total:  len(events),
	})
}

// GetStats handles GET /api/stats - graph and index statistics.
func (h *APIHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load graph stats", err)
		return
	}

	resp := StatsResponse{
		Graph:          *stats,
		TemporalEvents: h.temporal.EventCount(),
	}
	if breaker, ok := h.embedder.(interface{ BreakerState() string }); ok {
		resp.EmbedderState = breaker.BreakerState()
	}
	respondJSON(w, http.StatusOK, resp)
}

// recency is a nil-safe temporal score lookup.
func (h *APIHandlers) recency(id string, now time.Time) float64 {
	if h.temporal == nil {
		return 0
	}
	return h.temporal.RecencyScore(id, now)
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// respondJSON writes data as a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// If encoding fails, log but don't try to write another response
		// (headers already sent)
		log.Printf("API: failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}
