package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/trendwire/ingest/internal/signal"
)

// window caches the recent-candidate list per collection, refreshed from the
// store on a TTL and grown incrementally as documents are accepted within a
// run.
type window struct {
	mu        sync.Mutex
	store     signal.DocumentStore
	ttl       time.Duration
	lookback  int
	maxCount  int
	fetched   map[string]time.Time
	entries   map[string][]signal.DedupCandidate
	nowFn     func() time.Time
}

func newWindow(store signal.DocumentStore, ttl time.Duration, lookbackHours, maxCount int) *window {
	return &window{
		store:    store,
		ttl:      ttl,
		lookback: lookbackHours,
		maxCount: maxCount,
		fetched:  make(map[string]time.Time),
		entries:  make(map[string][]signal.DedupCandidate),
		nowFn:    time.Now,
	}
}

// candidates returns the cached window for a collection, refreshing from the
// store when the TTL has lapsed. A store failure falls back to whatever is
// cached (possibly nothing): dedup fails open.
func (w *window) candidates(ctx context.Context, collectionID string) ([]signal.DedupCandidate, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.nowFn()
	if at, ok := w.fetched[collectionID]; ok && now.Sub(at) < w.ttl {
		return w.entries[collectionID], nil
	}
	list, err := w.store.ListDedupCandidates(ctx, signal.CandidateFilter{
		SinceHours:   w.lookback,
		Limit:        w.maxCount,
		CollectionID: collectionID,
	})
	if err != nil {
		return w.entries[collectionID], err
	}
	w.entries[collectionID] = list
	w.fetched[collectionID] = now
	return list, nil
}

// add appends an accepted document's projection so later items in the same
// run compare against it. The count bound still applies: oldest entries are
// evicted first.
func (w *window) add(collectionID string, cand signal.DedupCandidate) {
	w.mu.Lock()
	defer w.mu.Unlock()
	list := append(w.entries[collectionID], cand)
	if w.maxCount > 0 && len(list) > w.maxCount {
		list = list[len(list)-w.maxCount:]
	}
	w.entries[collectionID] = list
}
