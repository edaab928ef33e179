package cluster

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trendwire/ingest/internal/signal"
)

func TestCosineDistance(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0, cosineDistance([]float64{1, 0}, []float64{2, 0}), 1e-9)
	assert.InDelta(t, 1, cosineDistance([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, 2, cosineDistance([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	assert.InDelta(t, 1, cosineDistance([]float64{0, 0}, []float64{1, 0}), 1e-9)
}

func TestKmeansSeparatesOrthogonalGroups(t *testing.T) {
	t.Parallel()

	vectors := [][]float64{
		{1, 0}, {1, 0}, {1, 0},
		{0, 1}, {0, 1}, {0, 1},
	}
	assignments := kmeans(vectors, 2, 6, rand.New(rand.NewSource(42)))
	require.Len(t, assignments, 6)
	assert.Equal(t, assignments[0], assignments[1])
	assert.Equal(t, assignments[0], assignments[2])
	assert.Equal(t, assignments[3], assignments[4])
	assert.Equal(t, assignments[3], assignments[5])
	assert.NotEqual(t, assignments[0], assignments[3])
}

func TestKmeansClampsK(t *testing.T) {
	t.Parallel()

	vectors := [][]float64{{1, 0}, {0, 1}}
	assignments := kmeans(vectors, 10, 4, rand.New(rand.NewSource(1)))
	require.Len(t, assignments, 2)
	assert.NotEqual(t, assignments[0], assignments[1])
}

func embeddedDoc(id, title string, embedding []float64, freshness, reliability float64, tags []string) signal.EmbeddedDocument {
	return signal.EmbeddedDocument{
		Document: signal.Document{
			DocID:            id,
			Title:            title,
			FreshnessScore:   freshness,
			ReliabilityScore: reliability,
			SignalTags:       tags,
		},
		Embedding: embedding,
	}
}

func TestClusterBuildsTrendFromSingleCluster(t *testing.T) {
	t.Parallel()

	c := New(Config{ClusterCount: 1, MinClusterDocs: 3, Iterations: 4, Seed: 7}, zap.NewNop())
	docs := []signal.EmbeddedDocument{
		embeddedDoc("d1", "Copper smelter output drops", []float64{1, 0}, 0.9, 0.8, []string{"energy_supply"}),
		embeddedDoc("d2", "Copper exports fall on smelter outage", []float64{0.9, 0.1}, 0.95, 0.9, []string{"energy_supply"}),
		embeddedDoc("d3", "Smelter strike cuts copper output", []float64{0.8, 0.2}, 0.5, 0.6, []string{"shipping_disruption"}),
	}

	res := c.Cluster(docs)
	require.Len(t, res.Trends, 1)
	trend := res.Trends[0]
	assert.Equal(t, "cluster_1", trend.ClusterID)
	assert.Equal(t, 3, trend.DocCount)
	assert.Equal(t, "d2", trend.RepresentativeDocID, "highest freshness x reliability wins")
	assert.Contains(t, trend.Label, "copper")
	assert.Contains(t, trend.SignalTags, "energy_supply")
	assert.Equal(t, "Energy supply and inventory signals can move fuel prices and transport costs.", trend.Note)

	require.Len(t, res.Assignments, 3)
	for _, a := range res.Assignments {
		assert.Equal(t, "cluster_1", a.ClusterID)
		assert.Equal(t, trend.Label, a.Label)
	}
}

func TestClusterDiscardsSmallClustersEntirely(t *testing.T) {
	t.Parallel()

	c := New(Config{ClusterCount: 1, MinClusterDocs: 3, Iterations: 4, Seed: 7}, zap.NewNop())
	docs := []signal.EmbeddedDocument{
		embeddedDoc("d1", "one", []float64{1, 0}, 0.9, 0.8, nil),
		embeddedDoc("d2", "two", []float64{0.9, 0.1}, 0.9, 0.8, nil),
	}

	res := c.Cluster(docs)
	assert.Empty(t, res.Trends)
	assert.Empty(t, res.Assignments, "documents of a discarded cluster stay unclustered")
}

func TestClusterAssignsOnlySurvivingClusters(t *testing.T) {
	t.Parallel()

	c := New(Config{ClusterCount: 2, MinClusterDocs: 3, Iterations: 6, Seed: 42}, zap.NewNop())
	docs := []signal.EmbeddedDocument{
		embeddedDoc("d1", "Diesel stocks tighten", []float64{1, 0}, 0.9, 0.8, nil),
		embeddedDoc("d2", "Diesel inventories fall again", []float64{0.95, 0.05}, 0.9, 0.8, nil),
		embeddedDoc("d3", "Diesel supply squeeze deepens", []float64{0.9, 0.1}, 0.9, 0.8, nil),
		embeddedDoc("lone", "Vineyard frost damage reported", []float64{0, 1}, 0.9, 0.8, nil),
	}

	res := c.Cluster(docs)
	require.Len(t, res.Trends, 1)
	require.Len(t, res.Assignments, 3)
	for _, a := range res.Assignments {
		assert.NotEqual(t, "lone", a.DocID)
		assert.Equal(t, res.Trends[0].ClusterID, a.ClusterID)
		assert.Equal(t, res.Trends[0].Label, a.Label)
	}
}

func TestClusterIgnoresDocsWithoutEmbeddings(t *testing.T) {
	t.Parallel()

	c := New(Config{ClusterCount: 1, MinClusterDocs: 1, Iterations: 2, Seed: 7}, zap.NewNop())
	docs := []signal.EmbeddedDocument{
		embeddedDoc("d1", "has vector", []float64{1, 0}, 0.9, 0.8, nil),
		embeddedDoc("d2", "no vector", nil, 0.9, 0.8, nil),
	}

	res := c.Cluster(docs)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, "d1", res.Assignments[0].DocID)
}

func TestClusterEmptyInput(t *testing.T) {
	t.Parallel()

	c := New(Config{}, zap.NewNop())
	res := c.Cluster(nil)
	assert.Empty(t, res.Trends)
	assert.Empty(t, res.Assignments)
}

func TestTrendNotePriority(t *testing.T) {
	t.Parallel()

	assert.Contains(t, trendNote([]string{"shipping_disruption", "energy_inventory"}), "Energy supply")
	assert.Contains(t, trendNote([]string{"shipping_disruption"}), "Shipping disruptions")
	assert.Contains(t, trendNote([]string{"wildfire_risk"}), "Severe weather")
	assert.Contains(t, trendNote([]string{"regulatory_risk"}), "Regulatory shifts")
	assert.Contains(t, trendNote(nil), "Monitor for second-order impacts")
}
