package graph

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"

	"github.com/jmadden/trellis/pkg/types"
)

// ConceptClusterer groups canonical entities into higher-level concepts
// using externally supplied embedding vectors. The engine never computes
// embeddings itself.
//
// The algorithm is greedy single-pass: entities are visited in ID order and
// either join the most similar existing cluster (cosine similarity against
// the running centroid at or above the threshold) or start a new singleton.
// Greedy clustering is order-sensitive and not globally optimal; pinning the
// visit order to the entity ID sort is what makes it reproducible, and that
// tradeoff is deliberate.
type ConceptClusterer struct {
	threshold float64
}

// NewConceptClusterer creates a clusterer with the given similarity
// threshold. A threshold at or above 1.0 yields singletons only; a threshold
// at or below 0 collapses all input into one cluster.
func NewConceptClusterer(threshold float64) *ConceptClusterer {
	return &ConceptClusterer{threshold: threshold}
}

// cluster is the mutable build state for one concept.
type cluster struct {
	members  []*types.Entity
	centroid []float32
}

// Cluster partitions entities into concept clusters. Every input entity
// lands in exactly one cluster; entities without an embedding vector are
// placed in their own singleton rather than failing the batch.
func (c *ConceptClusterer) Cluster(entities []*types.Entity, embeddings map[string][]float32) []*types.ConceptCluster {
	if len(entities) == 0 {
		return nil
	}

	ordered := make([]*types.Entity, len(entities))
	copy(ordered, entities)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	// Cosine similarity ranges into the negatives, so a non-positive
	// threshold could still reject pairs. The documented contract is that
	// threshold <= 0 merges everything; handle it explicitly.
	if c.threshold <= 0 {
		all := &cluster{}
		for _, e := range ordered {
			all.join(e, embeddings[e.ID])
		}
		return []*types.ConceptCluster{finishCluster(all)}
	}

	// At or above 1.0 the threshold exceeds any attainable similarity
	// (identical vectors land on 1.0 give or take float error), so the
	// contract is singletons throughout.
	if c.threshold >= 1.0 {
		out := make([]*types.ConceptCluster, len(ordered))
		for i, e := range ordered {
			out[i] = finishCluster(&cluster{members: []*types.Entity{e}})
		}
		return out
	}

	var clusters []*cluster
	for _, e := range ordered {
		vec := embeddings[e.ID]
		if len(vec) == 0 {
			// Degraded mode: no embedding, forced singleton.
			clusters = append(clusters, &cluster{members: []*types.Entity{e}})
			continue
		}

		bestIdx := -1
		bestSim := math.Inf(-1)
		for i, cl := range clusters {
			if len(cl.centroid) != len(vec) {
				continue
			}
			sim := cosineSimilarity(cl.centroid, vec)
			if sim > bestSim {
				bestSim = sim
				bestIdx = i
			}
		}

		if bestIdx >= 0 && bestSim >= c.threshold {
			clusters[bestIdx].join(e, vec)
		} else {
			clusters = append(clusters, &cluster{members: []*types.Entity{e}, centroid: append([]float32(nil), vec...)})
		}
	}

	out := make([]*types.ConceptCluster, len(clusters))
	for i, cl := range clusters {
		out[i] = finishCluster(cl)
	}
	return out
}

// join adds a member and folds its vector into the running centroid (the
// mean of all member vectors seen so far).
func (cl *cluster) join(e *types.Entity, vec []float32) {
	cl.members = append(cl.members, e)
	if len(vec) == 0 {
		return
	}
	if cl.centroid == nil {
		cl.centroid = append([]float32(nil), vec...)
		return
	}
	if len(cl.centroid) != len(vec) {
		return
	}
	n := float32(len(cl.members))
	for i := range cl.centroid {
		cl.centroid[i] += (vec[i] - cl.centroid[i]) / n
	}
}

// finishCluster converts build state into the public cluster record: sorted
// member IDs, a stable derived ID, a label from the top member names, and
// the highest-confidence member as representative (smallest ID on ties).
func finishCluster(cl *cluster) *types.ConceptCluster {
	memberIDs := make([]string, len(cl.members))
	for i, e := range cl.members {
		memberIDs[i] = e.ID
	}
	sort.Strings(memberIDs)

	rep := cl.members[0]
	for _, e := range cl.members[1:] {
		if e.Confidence > rep.Confidence || (e.Confidence == rep.Confidence && e.ID < rep.ID) {
			rep = e
		}
	}

	names := make([]string, 0, 3)
	byID := make(map[string]*types.Entity, len(cl.members))
	for _, e := range cl.members {
		byID[e.ID] = e
	}
	for _, id := range memberIDs {
		if len(names) == 3 {
			break
		}
		names = append(names, byID[id].Name)
	}

	h := fnv.New64a()
	for _, id := range memberIDs {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}

	return &types.ConceptCluster{
		ID:               fmt.Sprintf("con:%016x", h.Sum64()),
		Label:            strings.Join(names, " / "),
		MemberIDs:        memberIDs,
		RepresentativeID: rep.ID,
	}
}

// cosineSimilarity computes the cosine of the angle between two equal-length
// vectors, guarding against zero vectors.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
