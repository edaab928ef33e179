package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trendwire/ingest/internal/metrics"
	"github.com/trendwire/ingest/internal/signal"
)

// Reason classifies why a candidate was judged a duplicate.
type Reason string

// Duplicate reasons surfaced in skip counters and run logs.
const (
	ReasonNone        Reason = ""
	ReasonSeenURL     Reason = "dedup_url"
	ReasonExactRun    Reason = "dedup_hash_run"
	ReasonExactStored Reason = "dedup_hash"
	ReasonSimhash     Reason = "dedup_simhash"
)

// Verdict is the outcome of a duplicate check.
type Verdict struct {
	Duplicate   bool
	Reason      Reason
	ContentHash string
	Fingerprint string
}

// Config controls Engine behavior.
type Config struct {
	SimhashDistance int
	LookbackHours   int
	MaxCandidates   int
	CacheTTL        time.Duration
}

// Engine performs exact and near-duplicate detection. The in-run seen sets
// are mutated synchronously by the sequential ingestion loop; Engine guards
// them for safety but relies on callers for ordering.
type Engine struct {
	cfg    Config
	store  signal.DocumentStore
	window *window
	logger *zap.Logger

	mu         sync.Mutex
	seenURLs   map[string]struct{}
	seenHashes map[string]struct{}
}

// NewEngine constructs an Engine.
func NewEngine(cfg Config, store signal.DocumentStore, logger *zap.Logger) *Engine {
	if cfg.SimhashDistance <= 0 {
		cfg.SimhashDistance = 3
	}
	if cfg.LookbackHours <= 0 {
		cfg.LookbackHours = 96
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 1500
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		store:      store,
		window:     newWindow(store, cfg.CacheTTL, cfg.LookbackHours, cfg.MaxCandidates),
		logger:     logger,
		seenURLs:   make(map[string]struct{}),
		seenHashes: make(map[string]struct{}),
	}
}

// MarkURL records a canonical URL as seen this run. Returns false if it was
// already seen.
func (e *Engine) MarkURL(url string) bool {
	if url == "" {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, seen := e.seenURLs[url]; seen {
		metrics.ObserveDedupHit(string(ReasonSeenURL))
		return false
	}
	e.seenURLs[url] = struct{}{}
	return true
}

// Check runs the two-tier duplicate detection for cleaned text within a
// collection. Exact matches consult the in-run hash set and the store;
// near-duplicate matches compare the simhash fingerprint against the rolling
// candidate window.
func (e *Engine) Check(ctx context.Context, text, collectionID string) (Verdict, error) {
	hash := HashContent(text)
	fingerprint := Simhash(text)
	verdict := Verdict{ContentHash: hash, Fingerprint: fingerprint}

	e.mu.Lock()
	_, seenHash := e.seenHashes[hash]
	e.mu.Unlock()
	if seenHash {
		metrics.ObserveDedupHit(string(ReasonExactRun))
		verdict.Duplicate = true
		verdict.Reason = ReasonExactRun
		return verdict, nil
	}

	_, err := e.store.GetDocumentByHash(ctx, hash, collectionID)
	switch {
	case err == nil:
		metrics.ObserveDedupHit(string(ReasonExactStored))
		verdict.Duplicate = true
		verdict.Reason = ReasonExactStored
		return verdict, nil
	case !errors.Is(err, signal.ErrNotFound):
		return verdict, fmt.Errorf("lookup content hash: %w", err)
	}

	if fingerprint != "" {
		candidates, err := e.window.candidates(ctx, collectionID)
		if err != nil {
			// Fail open: a window refresh failure must not block ingestion.
			e.logger.Warn("dedup candidate window refresh failed",
				zap.String("collection", collectionID),
				zap.Error(err),
			)
		}
		for _, cand := range candidates {
			if cand.Fingerprint == "" {
				continue
			}
			if HammingDistance(fingerprint, cand.Fingerprint) <= e.cfg.SimhashDistance {
				metrics.ObserveDedupHit(string(ReasonSimhash))
				verdict.Duplicate = true
				verdict.Reason = ReasonSimhash
				return verdict, nil
			}
		}
	}
	return verdict, nil
}

// Accept records an admitted document in the in-run sets and the candidate
// window so subsequent items dedup against it.
func (e *Engine) Accept(collectionID string, cand signal.DedupCandidate) {
	e.mu.Lock()
	if cand.ContentHash != "" {
		e.seenHashes[cand.ContentHash] = struct{}{}
	}
	e.mu.Unlock()
	e.window.add(collectionID, cand)
}
