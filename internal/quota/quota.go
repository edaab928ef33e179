// Package quota demotes overflow documents when a source or cluster exceeds
// its per-day admission cap. Demotion is soft: overflow documents are marked
// stale with a cap reason, never deleted.
package quota

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/trendwire/ingest/internal/metrics"
	"github.com/trendwire/ingest/internal/signal"
)

// Stale reasons recorded on demoted documents.
const (
	ReasonSourceCap  = "source_cap"
	ReasonClusterCap = "cluster_cap"
)

// Config sets the per-day caps. A zero ClusterCap disables cluster quotas.
type Config struct {
	SourceCap  int
	ClusterCap int
}

// Enforcer applies soft quotas after a run's ingestion and clustering.
type Enforcer struct {
	cfg    Config
	store  signal.DocumentStore
	logger *zap.Logger
}

// New constructs an Enforcer.
func New(cfg Config, store signal.DocumentStore, logger *zap.Logger) *Enforcer {
	if cfg.SourceCap <= 0 {
		cfg.SourceCap = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{cfg: cfg, store: store, logger: logger}
}

// Enforce groups the run's documents by source and day, then by cluster and
// day, and demotes the lowest-scoring overflow in each group. Returns the
// number of documents demoted.
func (e *Enforcer) Enforce(ctx context.Context, docs []signal.Document) (int, error) {
	demoted := 0

	bySourceDay := make(map[string][]signal.Document)
	for _, doc := range docs {
		sourceID := doc.SourceID
		if sourceID == "" {
			sourceID = "unknown"
		}
		key := sourceID + "::" + doc.DayKey
		bySourceDay[key] = append(bySourceDay[key], doc)
	}
	n, err := e.demoteOverflow(ctx, bySourceDay, e.cfg.SourceCap, ReasonSourceCap)
	if err != nil {
		return demoted, err
	}
	demoted += n

	if e.cfg.ClusterCap <= 0 {
		return demoted, nil
	}
	byClusterDay := make(map[string][]signal.Document)
	for _, doc := range docs {
		if doc.ClusterID == "" {
			continue
		}
		key := doc.ClusterID + "::" + doc.DayKey
		byClusterDay[key] = append(byClusterDay[key], doc)
	}
	n, err = e.demoteOverflow(ctx, byClusterDay, e.cfg.ClusterCap, ReasonClusterCap)
	if err != nil {
		return demoted, err
	}
	demoted += n

	if demoted > 0 {
		e.logger.Info("quota demotion applied", zap.Int("demoted", demoted))
	}
	return demoted, nil
}

func (e *Enforcer) demoteOverflow(ctx context.Context, groups map[string][]signal.Document, limit int, reason string) (int, error) {
	demoted := 0
	for _, group := range groups {
		if len(group) <= limit {
			continue
		}
		sorted := make([]signal.Document, len(group))
		copy(sorted, group)
		sort.SliceStable(sorted, func(i, j int) bool {
			si := signal.ScoreFreshnessReliability(sorted[i].FreshnessScore, sorted[i].ReliabilityScore)
			sj := signal.ScoreFreshnessReliability(sorted[j].FreshnessScore, sorted[j].ReliabilityScore)
			return si > sj
		})
		for _, doc := range sorted[limit:] {
			stale := true
			r := reason
			patch := signal.DocumentPatch{Stale: &stale, StaleReason: &r}
			if err := e.store.UpdateDocument(ctx, doc.DocID, patch); err != nil {
				return demoted, fmt.Errorf("demote document %s: %w", doc.DocID, err)
			}
			metrics.ObserveStaled(reason)
			demoted++
		}
	}
	return demoted, nil
}
