package graph

import (
	"testing"
	"time"

	"github.com/jmadden/trellis/pkg/types"
)

var clusterTime = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func clusterEntities() []*types.Entity {
	return []*types.Entity{
		types.NewEntity("machine learning", types.EntityConcept, 0.8, clusterTime),
		types.NewEntity("deep learning", types.EntityConcept, 0.8, clusterTime),
		types.NewEntity("Berlin", types.EntityLocation, 0.8, clusterTime),
	}
}

// TestClusterSimilarEntities verifies that nearby vectors share a cluster
// while a distant vector stays apart.
func TestClusterSimilarEntities(t *testing.T) {
	entities := clusterEntities()
	embeddings := map[string][]float32{
		entities[0].ID: {1, 0, 0.1},
		entities[1].ID: {0.9, 0.1, 0},
		entities[2].ID: {0, 1, 0},
	}

	c := NewConceptClusterer(0.7)
	clusters := c.Cluster(entities, embeddings)

	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}

	total := 0
	for _, cl := range clusters {
		total += cl.Size()
		if cl.RepresentativeID == "" {
			t.Error("expected a representative member")
		}
		if cl.Label == "" {
			t.Error("expected a label")
		}
	}
	if total != len(entities) {
		t.Errorf("clustering must partition input: %d members across clusters, %d entities", total, len(entities))
	}
}

// TestClusterThresholdOne verifies the singleton edge case at threshold 1.0.
func TestClusterThresholdOne(t *testing.T) {
	entities := clusterEntities()
	embeddings := map[string][]float32{
		entities[0].ID: {1, 0, 0},
		entities[1].ID: {1, 0, 0},
		entities[2].ID: {1, 0, 0},
	}

	c := NewConceptClusterer(1.0)
	clusters := c.Cluster(entities, embeddings)

	if len(clusters) != len(entities) {
		t.Errorf("expected one singleton per entity at threshold 1.0, got %d clusters", len(clusters))
	}
}

// TestClusterThresholdZero verifies the single-cluster edge case at
// threshold <= 0.
func TestClusterThresholdZero(t *testing.T) {
	entities := clusterEntities()
	embeddings := map[string][]float32{
		entities[0].ID: {1, 0, 0},
		entities[1].ID: {-1, 0, 0}, // negative similarity to the others
		entities[2].ID: {0, 1, 0},
	}

	for _, threshold := range []float64{0, -0.5} {
		c := NewConceptClusterer(threshold)
		clusters := c.Cluster(entities, embeddings)

		if len(clusters) != 1 {
			t.Fatalf("threshold %f: expected one cluster, got %d", threshold, len(clusters))
		}
		if clusters[0].Size() != len(entities) {
			t.Errorf("threshold %f: expected all %d entities in one cluster, got %d", threshold, len(entities), clusters[0].Size())
		}
	}
}

// TestClusterMissingEmbedding verifies the degraded singleton fallback.
func TestClusterMissingEmbedding(t *testing.T) {
	entities := clusterEntities()
	embeddings := map[string][]float32{
		entities[0].ID: {1, 0, 0},
		entities[1].ID: {1, 0, 0},
		// entities[2] has no vector
	}

	c := NewConceptClusterer(0.7)
	clusters := c.Cluster(entities, embeddings)

	var singletonFound bool
	for _, cl := range clusters {
		for _, id := range cl.MemberIDs {
			if id == entities[2].ID {
				if cl.Size() != 1 {
					t.Errorf("entity without embedding must be a singleton, cluster size %d", cl.Size())
				}
				singletonFound = true
			}
		}
	}
	if !singletonFound {
		t.Error("entity without embedding missing from partition")
	}
}

// TestClusterDeterministic verifies reproducibility: the same input yields
// the same clusters regardless of input slice order.
func TestClusterDeterministic(t *testing.T) {
	entities := clusterEntities()
	embeddings := map[string][]float32{
		entities[0].ID: {1, 0, 0.1},
		entities[1].ID: {0.9, 0.1, 0},
		entities[2].ID: {0, 1, 0},
	}

	c := NewConceptClusterer(0.7)
	forward := c.Cluster(entities, embeddings)

	reversed := []*types.Entity{entities[2], entities[1], entities[0]}
	backward := c.Cluster(reversed, embeddings)

	if len(forward) != len(backward) {
		t.Fatalf("cluster counts differ: %d vs %d", len(forward), len(backward))
	}
	for i := range forward {
		if forward[i].ID != backward[i].ID {
			t.Errorf("cluster %d differs: %s vs %s", i, forward[i].ID, backward[i].ID)
		}
	}
}

// TestClusterEmpty verifies the trivial case.
func TestClusterEmpty(t *testing.T) {
	c := NewConceptClusterer(0.7)
	if clusters := c.Cluster(nil, nil); clusters != nil {
		t.Errorf("expected nil for empty input, got %v", clusters)
	}
}
