package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trendwire/ingest/internal/pipeline"
	"github.com/trendwire/ingest/internal/signal"
	"github.com/trendwire/ingest/internal/store/memory"
)

type stubRunner struct {
	report signal.RunReport
	err    error
	gotOpt pipeline.Options
}

func (r *stubRunner) Run(_ context.Context, opts pipeline.Options) (signal.RunReport, error) {
	r.gotOpt = opts
	return r.report, r.err
}

func newTestServer(t *testing.T, store signal.DocumentStore, runner Runner) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(store, runner, []signal.Source{{ID: "wire_energy"}}, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, memory.New(), &stubRunner{})
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestStartRunReturnsReport(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{report: signal.RunReport{
		RunID:    "run-1",
		Status:   signal.RunStatusOK,
		Ingested: 5,
	}}
	srv := newTestServer(t, memory.New(), runner)

	resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json",
		strings.NewReader(`{"source_ids":["wire_energy"],"force":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report signal.RunReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 5, report.Ingested)
	assert.Equal(t, []string{"wire_energy"}, runner.gotOpt.SourceIDs)
	assert.True(t, runner.gotOpt.Force)
}

func TestStartRunEmptyBody(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{report: signal.RunReport{RunID: "run-2", Status: signal.RunStatusOK}}
	srv := newTestServer(t, memory.New(), runner)

	resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, runner.gotOpt.SourceIDs)
}

func TestStartRunConflictWhileRunning(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{err: signal.ErrRunInProgress}
	srv := newTestServer(t, memory.New(), runner)

	resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStartRunRejectsBadJSON(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, memory.New(), &stubRunner{})
	resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json", strings.NewReader("{nope"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	store := memory.New()
	require.NoError(t, store.RecordRun(context.Background(), signal.RunReport{
		RunID:     "run-9",
		Status:    signal.RunStatusPartial,
		StartedAt: time.Now().UTC(),
	}))
	srv := newTestServer(t, store, &stubRunner{})

	resp, err := http.Get(srv.URL + "/api/v1/runs/run-9")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report signal.RunReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, signal.RunStatusPartial, report.Status)

	missing, err := http.Get(srv.URL + "/api/v1/runs/none")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestListTrends(t *testing.T) {
	t.Parallel()

	store := memory.New()
	require.NoError(t, store.ReplaceTrends(context.Background(), "run-1", []signal.Trend{
		{ClusterID: "cluster_1", Label: "brent crude supply", DocCount: 4},
	}))
	srv := newTestServer(t, store, &stubRunner{})

	resp, err := http.Get(srv.URL + "/api/v1/trends")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Trends []signal.Trend `json:"trends"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Trends, 1)
	assert.Equal(t, "brent crude supply", payload.Trends[0].Label)
}

func TestListDocumentsFilters(t *testing.T) {
	t.Parallel()

	store := memory.New()
	now := time.Now().UTC()
	require.NoError(t, store.UpsertDocument(context.Background(), signal.Document{
		DocID: "d1", SourceID: "wire_energy", Category: "energy", RetrievedAt: now,
	}))
	staleDoc := signal.Document{DocID: "d2", SourceID: "wire_energy", Category: "energy", RetrievedAt: now, Stale: true}
	require.NoError(t, store.UpsertDocument(context.Background(), staleDoc))
	srv := newTestServer(t, store, &stubRunner{})

	resp, err := http.Get(srv.URL + "/api/v1/documents?collection=energy")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Documents []signal.Document `json:"documents"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Len(t, payload.Documents, 1, "stale excluded by default")

	all, err := http.Get(srv.URL + "/api/v1/documents?include_stale=true")
	require.NoError(t, err)
	defer all.Body.Close()
	payload.Documents = nil
	require.NoError(t, json.NewDecoder(all.Body).Decode(&payload))
	assert.Len(t, payload.Documents, 2)

	bad, err := http.Get(srv.URL + "/api/v1/documents?limit=zero")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestListSources(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, memory.New(), &stubRunner{})
	resp, err := http.Get(srv.URL + "/api/v1/sources")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Sources []signal.Source `json:"sources"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Sources, 1)
	assert.Equal(t, "wire_energy", payload.Sources[0].ID)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, memory.New(), &stubRunner{})
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
