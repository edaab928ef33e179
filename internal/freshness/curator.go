// Package freshness scores documents by exponential age decay and runs the
// curation pass that marks stale documents, expires dead ones, and revives
// documents whose score recovered.
package freshness

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/trendwire/ingest/internal/metrics"
	"github.com/trendwire/ingest/internal/signal"
	"github.com/trendwire/ingest/internal/textproc"
)

const (
	defaultHalfLifeHours = 72
	curateListLimit      = 2000
	summarySentences     = 3
)

// Config controls the curation thresholds and per-category decay rates.
type Config struct {
	StaleThreshold  float64
	ExpireThreshold float64
	HalfLifeHours   map[string]float64
	DefaultHalfLife float64
}

// HalfLifeFor returns the decay half-life for a category, in hours.
func (c Config) HalfLifeFor(category string) float64 {
	if h, ok := c.HalfLifeHours[category]; ok && h > 0 {
		return h
	}
	if c.DefaultHalfLife > 0 {
		return c.DefaultHalfLife
	}
	return defaultHalfLifeHours
}

// Score computes exp(-age/halfLife) for a publication time. A zero published
// time scores as brand new rather than penalizing sources that omit dates.
func Score(publishedAt time.Time, halfLifeHours float64, now time.Time) float64 {
	if halfLifeHours <= 0 {
		halfLifeHours = defaultHalfLifeHours
	}
	if publishedAt.IsZero() {
		return 1
	}
	ageHours := now.Sub(publishedAt).Hours()
	return math.Exp(-ageHours / halfLifeHours)
}

// Result summarizes one curation pass.
type Result struct {
	Expired int
	Staled  int
	Revived int
}

// Curator applies the freshness lifecycle to stored documents.
type Curator struct {
	cfg    Config
	store  signal.DocumentStore
	clock  signal.Clock
	logger *zap.Logger
}

// NewCurator constructs a Curator.
func NewCurator(cfg Config, store signal.DocumentStore, clock signal.Clock, logger *zap.Logger) *Curator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Curator{cfg: cfg, store: store, clock: clock, logger: logger}
}

// Curate rescans stored documents and applies the state machine: below the
// stale threshold a document is demoted, below the expire threshold its body
// and derived chunks are dropped and a short summary kept. A stale document
// whose score recovers is revived; an expired document never is. Evergreen
// documents are exempt from expiry but not from staleness.
func (c *Curator) Curate(ctx context.Context) (Result, error) {
	var res Result
	docs, err := c.store.ListDocuments(ctx, signal.DocumentFilter{
		Limit:          curateListLimit,
		IncludeStale:   true,
		IncludeExpired: true,
	})
	if err != nil {
		return res, fmt.Errorf("list documents for curation: %w", err)
	}

	now := c.clock.Now()
	for _, doc := range docs {
		publishedAt := doc.PublishedAt
		if publishedAt.IsZero() {
			publishedAt = doc.RetrievedAt
		}
		freshness := Score(publishedAt, c.cfg.HalfLifeFor(doc.Category), now)
		shouldExpire := freshness < c.cfg.ExpireThreshold && !signal.IsEvergreen(doc)
		shouldStale := freshness < c.cfg.StaleThreshold

		switch {
		case shouldExpire && !doc.Expired:
			if err := c.expire(ctx, doc, freshness); err != nil {
				return res, err
			}
			res.Expired++
			metrics.ObserveExpired()
		case shouldStale && !doc.Stale:
			patch := signal.DocumentPatch{
				FreshnessScore: &freshness,
				Stale:          boolPtr(true),
			}
			if err := c.store.UpdateDocument(ctx, doc.DocID, patch); err != nil {
				return res, fmt.Errorf("mark document %s stale: %w", doc.DocID, err)
			}
			res.Staled++
			metrics.ObserveStaled("freshness")
		case !shouldStale && doc.Stale && !doc.Expired:
			patch := signal.DocumentPatch{
				FreshnessScore: &freshness,
				Stale:          boolPtr(false),
			}
			if err := c.store.UpdateDocument(ctx, doc.DocID, patch); err != nil {
				return res, fmt.Errorf("revive document %s: %w", doc.DocID, err)
			}
			res.Revived++
		}
	}

	c.logger.Info("curation pass complete",
		zap.Int("expired", res.Expired),
		zap.Int("staled", res.Staled),
		zap.Int("revived", res.Revived),
	)
	return res, nil
}

func (c *Curator) expire(ctx context.Context, doc signal.Document, freshness float64) error {
	body := doc.CleanedText
	if body == "" {
		body = doc.Summary
	}
	summary := textproc.FirstSentences(body, summarySentences)

	if err := c.store.DeleteDocumentChunks(ctx, doc.DocID); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", doc.DocID, err)
	}
	patch := signal.DocumentPatch{
		FreshnessScore: &freshness,
		Stale:          boolPtr(true),
		Expired:        boolPtr(true),
		ExpirySummary:  summary,
		CleanedText:    strPtr(""),
	}
	if err := c.store.UpdateDocument(ctx, doc.DocID, patch); err != nil {
		return fmt.Errorf("expire document %s: %w", doc.DocID, err)
	}
	return nil
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }
