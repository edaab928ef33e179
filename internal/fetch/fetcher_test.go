package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testFetcher(retries int) *Fetcher {
	return New(Config{
		Retries:  retries,
		MinDelay: 5 * time.Millisecond,
		MaxDelay: 20 * time.Millisecond,
	}, zap.NewNop())
}

func TestFetchTextRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	res, err := testFetcher(3).FetchText(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "recovered", res.Text())
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchTextHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	// MaxDelay of 20ms clamps the 1s Retry-After, so this stays fast.
	start := time.Now()
	res, err := testFetcher(1).FetchText(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestFetchTextGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testFetcher(2).FetchText(context.Background(), srv.URL, Options{})
	require.Error(t, err)
	var statusErr *ErrStatus
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
}

func TestFetchTextDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testFetcher(3).FetchText(context.Background(), srv.URL, Options{})
	require.Error(t, err)
	assert.True(t, IsNotFoundStatus(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchTextSurfacesNotModified(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("body"))
	}))
	defer srv.Close()

	f := testFetcher(0)
	first, err := f.FetchText(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.False(t, first.NotModified)
	assert.Equal(t, `"v1"`, first.ETag)

	second, err := f.FetchText(context.Background(), srv.URL, Options{ETag: first.ETag})
	require.NoError(t, err)
	assert.True(t, second.NotModified)
	assert.Empty(t, second.Body)
}

func TestFetchRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := testFetcher(0).FetchText(ctx, srv.URL, Options{})
	require.Error(t, err)
}

func TestBackoffStaysWithinJitterBounds(t *testing.T) {
	t.Parallel()

	f := New(Config{MinDelay: 100 * time.Millisecond, MaxDelay: time.Second}, zap.NewNop())
	for attempt := 0; attempt < 4; attempt++ {
		base := float64(100*time.Millisecond) * float64(int(1)<<attempt)
		if base > float64(time.Second) {
			base = float64(time.Second)
		}
		for i := 0; i < 50; i++ {
			d := float64(f.backoff(attempt))
			assert.GreaterOrEqual(t, d, base*0.8-1)
			assert.LessOrEqual(t, d, base*1.2+1)
		}
	}
}

func TestPerHostLimiterSpacesRequests(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{PerHostRPS: 20, PerHostBurst: 1}, zap.NewNop())
	ctx := context.Background()

	_, err := f.FetchText(ctx, srv.URL, Options{})
	require.NoError(t, err)

	start := time.Now()
	_, err = f.FetchText(ctx, srv.URL, Options{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
