package quota

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trendwire/ingest/internal/signal"
)

type quotaStore struct {
	signal.DocumentStore
	patches map[string]signal.DocumentPatch
}

func (s *quotaStore) UpdateDocument(_ context.Context, docID string, patch signal.DocumentPatch) error {
	if s.patches == nil {
		s.patches = make(map[string]signal.DocumentPatch)
	}
	s.patches[docID] = patch
	return nil
}

func TestEnforceSourceCapDemotesLowestScored(t *testing.T) {
	t.Parallel()

	store := &quotaStore{}
	e := New(Config{SourceCap: 30}, store, zap.NewNop())

	// 50 documents from one source on one day, scores descending with index.
	docs := make([]signal.Document, 50)
	for i := range docs {
		docs[i] = signal.Document{
			DocID:            fmt.Sprintf("doc%02d", i),
			SourceID:         "feed-a",
			DayKey:           "2026-03-01",
			FreshnessScore:   1 - float64(i)*0.01,
			ReliabilityScore: 0.7,
		}
	}

	demoted, err := e.Enforce(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 20, demoted)

	for i := 0; i < 30; i++ {
		assert.NotContains(t, store.patches, fmt.Sprintf("doc%02d", i))
	}
	for i := 30; i < 50; i++ {
		patch, ok := store.patches[fmt.Sprintf("doc%02d", i)]
		require.True(t, ok, "doc%02d should be demoted", i)
		require.NotNil(t, patch.Stale)
		assert.True(t, *patch.Stale)
		require.NotNil(t, patch.StaleReason)
		assert.Equal(t, ReasonSourceCap, *patch.StaleReason)
	}
}

func TestEnforceGroupsBySourceAndDay(t *testing.T) {
	t.Parallel()

	store := &quotaStore{}
	e := New(Config{SourceCap: 2}, store, zap.NewNop())

	docs := []signal.Document{
		{DocID: "a1", SourceID: "a", DayKey: "2026-03-01", FreshnessScore: 0.9},
		{DocID: "a2", SourceID: "a", DayKey: "2026-03-01", FreshnessScore: 0.8},
		{DocID: "a3", SourceID: "a", DayKey: "2026-03-02", FreshnessScore: 0.7},
		{DocID: "b1", SourceID: "b", DayKey: "2026-03-01", FreshnessScore: 0.6},
	}

	demoted, err := e.Enforce(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 0, demoted, "no group exceeds its cap")
	assert.Empty(t, store.patches)
}

func TestEnforceClusterCap(t *testing.T) {
	t.Parallel()

	store := &quotaStore{}
	e := New(Config{SourceCap: 100, ClusterCap: 2}, store, zap.NewNop())

	docs := []signal.Document{
		{DocID: "c1", SourceID: "a", DayKey: "2026-03-01", ClusterID: "cluster_1", FreshnessScore: 0.9},
		{DocID: "c2", SourceID: "b", DayKey: "2026-03-01", ClusterID: "cluster_1", FreshnessScore: 0.8},
		{DocID: "c3", SourceID: "c", DayKey: "2026-03-01", ClusterID: "cluster_1", FreshnessScore: 0.7},
		{DocID: "u1", SourceID: "d", DayKey: "2026-03-01", FreshnessScore: 0.1},
	}

	demoted, err := e.Enforce(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 1, demoted)

	patch, ok := store.patches["c3"]
	require.True(t, ok)
	require.NotNil(t, patch.StaleReason)
	assert.Equal(t, ReasonClusterCap, *patch.StaleReason)
	assert.NotContains(t, store.patches, "u1", "unclustered documents are exempt from cluster caps")
}

func TestEnforceZeroClusterCapDisabled(t *testing.T) {
	t.Parallel()

	store := &quotaStore{}
	e := New(Config{SourceCap: 100}, store, zap.NewNop())

	docs := []signal.Document{
		{DocID: "c1", ClusterID: "cluster_1", DayKey: "2026-03-01"},
		{DocID: "c2", ClusterID: "cluster_1", DayKey: "2026-03-01"},
		{DocID: "c3", ClusterID: "cluster_1", DayKey: "2026-03-01"},
	}

	demoted, err := e.Enforce(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 0, demoted)
}
