package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trendwire/ingest/internal/signal"
)

// candidateStore implements just enough of signal.DocumentStore for dedup
// tests.
type candidateStore struct {
	signal.DocumentStore
	byHash     map[string]signal.Document
	candidates []signal.DedupCandidate
	listCalls  int
	listErr    error
}

func (s *candidateStore) GetDocumentByHash(_ context.Context, hash, _ string) (signal.Document, error) {
	if doc, ok := s.byHash[hash]; ok {
		return doc, nil
	}
	return signal.Document{}, signal.ErrNotFound
}

func (s *candidateStore) ListDedupCandidates(_ context.Context, _ signal.CandidateFilter) ([]signal.DedupCandidate, error) {
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.candidates, nil
}

func newTestEngine(store *candidateStore) *Engine {
	return NewEngine(Config{
		SimhashDistance: 3,
		LookbackHours:   96,
		MaxCandidates:   1500,
		CacheTTL:        5 * time.Minute,
	}, store, zap.NewNop())
}

func TestEngineExactDuplicateFromStore(t *testing.T) {
	t.Parallel()

	text := "Refinery utilization hit a three year high last week."
	store := &candidateStore{byHash: map[string]signal.Document{
		HashContent(text): {DocID: "doc1"},
	}}
	e := newTestEngine(store)

	v, err := e.Check(context.Background(), text, "energy")
	require.NoError(t, err)
	assert.True(t, v.Duplicate)
	assert.Equal(t, ReasonExactStored, v.Reason)
}

func TestEngineExactDuplicateWithinRun(t *testing.T) {
	t.Parallel()

	store := &candidateStore{byHash: map[string]signal.Document{}}
	e := newTestEngine(store)
	text := "Tanker rates doubled on the Cape route amid continued rerouting."

	v, err := e.Check(context.Background(), text, "shipping")
	require.NoError(t, err)
	require.False(t, v.Duplicate)
	e.Accept("shipping", signal.DedupCandidate{ContentHash: v.ContentHash, Fingerprint: v.Fingerprint})

	v2, err := e.Check(context.Background(), text, "shipping")
	require.NoError(t, err)
	assert.True(t, v2.Duplicate)
	assert.Equal(t, ReasonExactRun, v2.Reason)
}

func TestEngineNearDuplicateAgainstWindow(t *testing.T) {
	t.Parallel()

	store := &candidateStore{
		byHash: map[string]signal.Document{},
		candidates: []signal.DedupCandidate{
			{ContentHash: HashContent(articleText), Fingerprint: Simhash(articleText)},
		},
	}
	e := newTestEngine(store)

	variant := articleText + "\n\nShare this story."
	v, err := e.Check(context.Background(), variant, "energy")
	require.NoError(t, err)
	assert.True(t, v.Duplicate)
	assert.Equal(t, ReasonSimhash, v.Reason)
}

func TestEngineDistinctTextsAdmitted(t *testing.T) {
	t.Parallel()

	store := &candidateStore{
		byHash: map[string]signal.Document{},
		candidates: []signal.DedupCandidate{
			{Fingerprint: Simhash("Grain exports resumed through the corridor after inspections cleared.")},
		},
	}
	e := newTestEngine(store)

	v, err := e.Check(context.Background(), "Wildfire smoke pushed air quality to hazardous levels across the valley.", "hazard")
	require.NoError(t, err)
	assert.False(t, v.Duplicate)
	assert.NotEmpty(t, v.ContentHash)
	assert.NotEmpty(t, v.Fingerprint)
}

func TestEngineWindowFailsOpenOnStoreError(t *testing.T) {
	t.Parallel()

	store := &candidateStore{
		byHash:  map[string]signal.Document{},
		listErr: assert.AnError,
	}
	e := newTestEngine(store)

	v, err := e.Check(context.Background(), "Port congestion eased as backlog cleared over the weekend.", "shipping")
	require.NoError(t, err)
	assert.False(t, v.Duplicate)
}

func TestEngineWindowCachedAcrossChecks(t *testing.T) {
	t.Parallel()

	store := &candidateStore{byHash: map[string]signal.Document{}}
	e := newTestEngine(store)

	_, err := e.Check(context.Background(), "First distinct item about pipeline maintenance schedules.", "energy")
	require.NoError(t, err)
	_, err = e.Check(context.Background(), "Second distinct item about offshore wind capacity additions.", "energy")
	require.NoError(t, err)
	assert.Equal(t, 1, store.listCalls, "candidate window should be fetched once within the TTL")
}

func TestEngineMarkURL(t *testing.T) {
	t.Parallel()

	e := newTestEngine(&candidateStore{byHash: map[string]signal.Document{}})
	assert.True(t, e.MarkURL("https://a.example/story"))
	assert.False(t, e.MarkURL("https://a.example/story"))
	assert.True(t, e.MarkURL("https://a.example/other"))
	assert.True(t, e.MarkURL(""))
}
