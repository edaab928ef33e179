// Package pipeline orchestrates an ingestion run: pull items per source,
// dedup, tag, score, persist, embed, cluster into trends, curate freshness,
// and enforce the daily caps.
package pipeline

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/trendwire/ingest/internal/cluster"
	"github.com/trendwire/ingest/internal/config"
	"github.com/trendwire/ingest/internal/dedup"
	"github.com/trendwire/ingest/internal/extract"
	"github.com/trendwire/ingest/internal/fetch"
	"github.com/trendwire/ingest/internal/freshness"
	"github.com/trendwire/ingest/internal/metrics"
	"github.com/trendwire/ingest/internal/quota"
	"github.com/trendwire/ingest/internal/robots"
	"github.com/trendwire/ingest/internal/signal"
	"github.com/trendwire/ingest/internal/textproc"
)

// embedHeadChars bounds how much body text feeds the document embedding.
const embedHeadChars = 1200

// AdapterResolver maps a source type to its adapter.
type AdapterResolver interface {
	ForType(t signal.SourceType) signal.SourceAdapter
}

// IDGenerator mints run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Deps carries the pipeline's collaborators.
type Deps struct {
	Store    signal.DocumentStore
	Adapters AdapterResolver
	Fetcher  *fetch.Fetcher
	Robots   *robots.Gate
	Embedder signal.Embedder
	Chunker  signal.Chunker
	Clock    signal.Clock
	IDs      IDGenerator
	Logger   *zap.Logger
}

// Options narrows a run to a source subset. Force re-admits documents whose
// URL or hash is already stored.
type Options struct {
	SourceIDs []string
	Force     bool
}

// Pipeline runs the full ingestion cycle. A Pipeline allows one run at a
// time; concurrent requests get ErrRunInProgress.
type Pipeline struct {
	cfg       config.Config
	deps      Deps
	curator   *freshness.Curator
	clusterer *cluster.Clusterer
	quotas    *quota.Enforcer
	logger    *zap.Logger

	running atomic.Bool
}

// New constructs a Pipeline.
func New(cfg config.Config, deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	curator := freshness.NewCurator(freshness.Config{
		StaleThreshold:  cfg.Freshness.StaleThreshold,
		ExpireThreshold: cfg.Freshness.ExpireThreshold,
		HalfLifeHours:   cfg.Freshness.HalfLifeHours,
		DefaultHalfLife: cfg.Freshness.DefaultHalfLife,
	}, deps.Store, deps.Clock, logger.Named("freshness"))
	clusterer := cluster.New(cluster.Config{
		ClusterCount:   cfg.Cluster.Count,
		MinClusterDocs: cfg.Cluster.MinDocs,
		Iterations:     cfg.Cluster.Iterations,
	}, logger.Named("cluster"))
	quotas := quota.New(quota.Config{
		SourceCap:  cfg.Quota.PerSourcePerDay,
		ClusterCap: cfg.Quota.PerClusterPerDay,
	}, deps.Store, logger.Named("quota"))

	return &Pipeline{
		cfg:       cfg,
		deps:      deps,
		curator:   curator,
		clusterer: clusterer,
		quotas:    quotas,
		logger:    logger,
	}
}

// Run executes one ingestion cycle and returns its report. Only one run may
// be active at a time.
func (p *Pipeline) Run(ctx context.Context, opts Options) (signal.RunReport, error) {
	if !p.running.CompareAndSwap(false, true) {
		return signal.RunReport{}, signal.ErrRunInProgress
	}
	defer p.running.Store(false)

	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return signal.RunReport{}, fmt.Errorf("mint run id: %w", err)
	}
	report := signal.RunReport{
		RunID:     runID,
		StartedAt: p.deps.Clock.Now(),
		Status:    signal.RunStatusRunning,
	}

	artifacts, err := startRunArtifacts(p.cfg.Ingest.DataDir, runID, p.deps.Clock)
	if err != nil {
		return report, err
	}
	report.LogPath = artifacts.logPath

	if err := p.deps.Store.RecordRun(ctx, report); err != nil {
		return report, fmt.Errorf("record run: %w", err)
	}

	engine := dedup.NewEngine(dedup.Config{
		SimhashDistance: p.cfg.Dedup.SimhashDistance,
		LookbackHours:   p.cfg.Dedup.LookbackHours,
		MaxCandidates:   p.cfg.Dedup.MaxCandidates,
		CacheTTL:        time.Duration(p.cfg.Dedup.CacheTTLSeconds) * time.Second,
	}, p.deps.Store, p.logger.Named("dedup"))

	sources := p.cfg.EnabledSources(opts.SourceIDs)
	var ingested []signal.EmbeddedDocument

	for _, source := range sources {
		artifacts.append("source_start " + source.ID)
		stats := p.ingestSource(ctx, source, opts, engine, &ingested, &report)
		report.Sources = append(report.Sources, stats)
		report.Ingested += stats.Ingested
		report.Skipped += stats.Skipped
		artifacts.append(fmt.Sprintf("source_done %s pulled=%d ingested=%d skipped=%d",
			source.ID, stats.Pulled, stats.Ingested, stats.Skipped))
		if err := p.pause(ctx); err != nil {
			report.Errors = append(report.Errors, signal.RunError{Source: "run", Error: err.Error()})
			break
		}
	}

	p.clusterAndTag(ctx, runID, ingested, &report)

	curated, err := p.curator.Curate(ctx)
	if err != nil {
		report.Errors = append(report.Errors, signal.RunError{Source: "curate", Error: err.Error()})
	}
	report.Expired = curated.Expired
	report.Stale = curated.Staled

	today := make([]signal.Document, len(ingested))
	for i, doc := range ingested {
		today[i] = doc.Document
	}
	if _, err := p.quotas.Enforce(ctx, today); err != nil {
		report.Errors = append(report.Errors, signal.RunError{Source: "quota", Error: err.Error()})
	}

	report.FinishedAt = p.deps.Clock.Now()
	report.Status = runStatus(report)
	metrics.ObserveRun(string(report.Status))

	if err := p.deps.Store.UpdateRun(ctx, report); err != nil {
		p.logger.Error("persist run report failed", zap.String("run_id", runID), zap.Error(err))
	}
	artifacts.append(fmt.Sprintf("run_done status=%s ingested=%d skipped=%d expired=%d",
		report.Status, report.Ingested, report.Skipped, report.Expired))
	if err := artifacts.finalize(report); err != nil {
		p.logger.Error("write run artifacts failed", zap.String("run_id", runID), zap.Error(err))
	}

	p.logger.Info("ingestion run finished",
		zap.String("run_id", runID),
		zap.String("status", string(report.Status)),
		zap.Int("ingested", report.Ingested),
		zap.Int("skipped", report.Skipped),
		zap.Int("expired", report.Expired),
	)
	return report, nil
}

func (p *Pipeline) ingestSource(ctx context.Context, source signal.Source, opts Options, engine *dedup.Engine, ingested *[]signal.EmbeddedDocument, report *signal.RunReport) signal.SourceStats {
	stats := signal.SourceStats{SourceID: source.ID}

	adapter := p.deps.Adapters.ForType(source.Type)
	items, err := adapter.FetchItems(ctx, source)
	if err != nil {
		stats.Errors = append(stats.Errors, err.Error())
		report.Errors = append(report.Errors, signal.RunError{Source: source.ID, Error: err.Error()})
		return stats
	}
	stats.Pulled = len(items)

	perSourceCap := p.cfg.Quota.PerSourcePerDay
	for i, item := range items {
		if perSourceCap > 0 && stats.Ingested >= perSourceCap {
			stats.Skipped += len(items) - i
			metrics.ObserveSkipped(source.ID, "source_cap")
			break
		}
		admitted, err := p.ingestItem(ctx, source, item, opts, engine, ingested)
		if err != nil {
			stats.Errors = append(stats.Errors, err.Error())
			report.Errors = append(report.Errors, signal.RunError{Source: source.ID, Error: err.Error()})
			continue
		}
		if admitted {
			stats.Ingested++
			metrics.ObserveIngested(source.ID)
		} else {
			stats.Skipped++
		}
	}
	return stats
}

func (p *Pipeline) ingestItem(ctx context.Context, source signal.Source, item signal.RawItem, opts Options, engine *dedup.Engine, ingested *[]signal.EmbeddedDocument) (bool, error) {
	canonical := textproc.NormalizeURL(item.CanonicalURL)
	if canonical == "" {
		canonical = textproc.NormalizeURL(item.SourceURL)
	}
	if canonical != "" {
		if !engine.MarkURL(canonical) {
			metrics.ObserveSkipped(source.ID, string(dedup.ReasonSeenURL))
			return false, nil
		}
		if !opts.Force {
			if _, err := p.deps.Store.GetDocumentByURL(ctx, canonical); err == nil {
				metrics.ObserveSkipped(source.ID, string(dedup.ReasonSeenURL))
				return false, nil
			}
		}
	}

	parts := nonEmpty(item.Title, item.Summary, item.Content)
	if item.Content == item.Summary {
		parts = nonEmpty(item.Title, item.Content)
	}
	combined := textproc.Normalize(strings.Join(parts, "\n"))
	body := p.fullText(ctx, source, canonical, combined)
	cleaned := textproc.CleanLines(body)
	trimmed := textproc.Limit(cleaned, p.cfg.Ingest.MaxDocChars)
	if trimmed == "" {
		metrics.ObserveSkipped(source.ID, "empty")
		return false, nil
	}

	verdict, err := engine.Check(ctx, trimmed, source.Category)
	if err != nil {
		return false, err
	}
	if verdict.Duplicate && !(opts.Force && verdict.Reason == dedup.ReasonExactStored) {
		metrics.ObserveSkipped(source.ID, string(verdict.Reason))
		return false, nil
	}

	now := p.deps.Clock.Now()
	title := item.Title
	if title == "" {
		title = source.ID
	}
	retrievedAt := item.RetrievedAt
	if retrievedAt.IsZero() {
		retrievedAt = now
	}
	publishedAt := item.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = retrievedAt
	}

	seed := canonical
	if seed == "" {
		seed = fmt.Sprintf("%s:%s:%s:%s", source.ID, title, publishedAt.Format(time.RFC3339), verdict.ContentHash[:8])
	}
	tagged := title + "\n" + trimmed
	entities := extract.Entities(tagged)
	signalTags := extract.SignalTags(tagged)
	tags := unionTags(source.Tags, item.Tags, signalTags, entities.EventTypes)

	language := item.Language
	if language == "" {
		language = source.Language
	}

	doc := signal.Document{
		DocID:            buildDocID(seed),
		SourceID:         source.ID,
		SourceTitle:      firstNonEmptyStr(item.SourceTitle, source.ID),
		SourceURL:        firstNonEmptyStr(item.SourceURL, source.URL),
		CanonicalURL:     canonical,
		Title:            title,
		Summary:          item.Summary,
		CleanedText:      trimmed,
		ContentHash:      verdict.ContentHash,
		Fingerprint:      verdict.Fingerprint,
		PublishedAt:      publishedAt,
		RetrievedAt:      retrievedAt,
		Language:         language,
		Category:         source.Category,
		Tags:             tags,
		SignalTags:       signalTags,
		Entities:         entities,
		FreshnessScore:   freshness.Score(publishedAt, p.cfg.HalfLifeFor(source.Category), now),
		ReliabilityScore: source.Reliability,
		DayKey:           signal.DayKey(publishedAt),
	}

	if err := p.deps.Store.UpsertDocument(ctx, doc); err != nil {
		return false, fmt.Errorf("persist document %s: %w", doc.DocID, err)
	}
	if err := p.deps.Store.UpsertChunks(ctx, doc.DocID, p.deps.Chunker.Chunk(trimmed)); err != nil {
		return false, fmt.Errorf("persist chunks for %s: %w", doc.DocID, err)
	}

	head := trimmed
	if len(head) > embedHeadChars {
		head = head[:embedHeadChars]
	}
	embedding, err := p.deps.Embedder.Embed(ctx, title+"\n"+item.Summary+"\n"+head)
	if err != nil {
		return false, fmt.Errorf("embed document %s: %w", doc.DocID, err)
	}

	engine.Accept(source.Category, signal.DedupCandidate{
		CanonicalURL: canonical,
		ContentHash:  verdict.ContentHash,
		Fingerprint:  verdict.Fingerprint,
		CollectionID: source.Category,
	})
	*ingested = append(*ingested, signal.EmbeddedDocument{Document: doc, Embedding: embedding})
	return true, nil
}

// fullText fetches and extracts the page body for sources that allow it,
// falling back to the feed-supplied text on any failure. Robots denial is a
// silent fallback, not an error.
func (p *Pipeline) fullText(ctx context.Context, source signal.Source, canonical, fallback string) string {
	if !source.AllowHTML || canonical == "" || p.deps.Fetcher == nil {
		return fallback
	}
	if strings.HasSuffix(strings.ToLower(canonical), ".pdf") {
		return fallback
	}
	if p.deps.Robots != nil && !p.deps.Robots.Allowed(ctx, canonical) {
		return fallback
	}
	if err := p.pause(ctx); err != nil {
		return fallback
	}
	res, err := p.deps.Fetcher.FetchText(ctx, canonical, fetch.Options{})
	if err != nil {
		p.logger.Debug("full text fetch failed",
			zap.String("source", source.ID),
			zap.String("url", canonical),
			zap.Error(err),
		)
		return fallback
	}
	if text := textproc.CleanLines(textproc.StripHTML(res.Text())); text != "" {
		return text
	}
	return fallback
}

func (p *Pipeline) clusterAndTag(ctx context.Context, runID string, ingested []signal.EmbeddedDocument, report *signal.RunReport) {
	result := p.clusterer.Cluster(ingested)
	if len(result.Trends) > 0 {
		if err := p.deps.Store.ReplaceTrends(ctx, runID, result.Trends); err != nil {
			report.Errors = append(report.Errors, signal.RunError{Source: "cluster", Error: err.Error()})
			return
		}
	}
	byID := make(map[string]*signal.EmbeddedDocument, len(ingested))
	for i := range ingested {
		byID[ingested[i].DocID] = &ingested[i]
	}
	for _, assignment := range result.Assignments {
		clusterID := assignment.ClusterID
		label := assignment.Label
		patch := signal.DocumentPatch{ClusterID: &clusterID, ClusterLabel: &label}
		if err := p.deps.Store.UpdateDocument(ctx, assignment.DocID, patch); err != nil {
			report.Errors = append(report.Errors, signal.RunError{Source: "cluster", Error: err.Error()})
			continue
		}
		if doc, ok := byID[assignment.DocID]; ok {
			doc.ClusterID = clusterID
			doc.ClusterLabel = label
		}
	}
}

// pause applies the inter-request politeness delay.
func (p *Pipeline) pause(ctx context.Context) error {
	delay := time.Duration(p.cfg.Ingest.RequestDelayMs) * time.Millisecond
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func runStatus(report signal.RunReport) signal.RunStatus {
	if len(report.Errors) == 0 {
		return signal.RunStatusOK
	}
	if report.Ingested > 0 {
		return signal.RunStatusPartial
	}
	return signal.RunStatusError
}

func buildDocID(seed string) string {
	sum := sha1.Sum([]byte(seed))
	return hex.EncodeToString(sum[:])[:20]
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmptyStr(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func unionTags(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, tag := range list {
			if tag == "" {
				continue
			}
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}
