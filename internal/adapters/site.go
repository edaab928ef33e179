package adapters

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/trendwire/ingest/internal/crawl"
	"github.com/trendwire/ingest/internal/fetch"
	"github.com/trendwire/ingest/internal/robots"
	"github.com/trendwire/ingest/internal/schedule"
	"github.com/trendwire/ingest/internal/signal"
	"github.com/trendwire/ingest/internal/textproc"
)

// SiteAdapter ingests a site section: it crawls same-host pages breadth-first
// from the source URL and emits one item per readable page.
type SiteAdapter struct {
	cfg     Config
	fetcher *fetch.Fetcher
	gate    *robots.Gate
	sched   *schedule.Scheduler
	clock   signal.Clock
	logger  *zap.Logger
}

// NewSiteAdapter constructs a SiteAdapter with its own domain scheduler so a
// deep site cannot hold fetch slots hostage across sources.
func NewSiteAdapter(cfg Config, fetcher *fetch.Fetcher, gate *robots.Gate, clock signal.Clock, logger *zap.Logger) *SiteAdapter {
	sched := schedule.New(schedule.Config{
		MaxConcurrent: cfg.CrawlMaxConcurrent,
		MaxPerOrigin:  cfg.CrawlMaxPerOrigin,
		MinDelay:      cfg.CrawlMinDelay,
	}, logger)
	return &SiteAdapter{cfg: cfg, fetcher: fetcher, gate: gate, sched: sched, clock: clock, logger: logger}
}

// FetchItems crawls the source URL up to its item budget. Page-level fetch
// failures are logged and dropped; only a failure to crawl at all is an error.
func (a *SiteAdapter) FetchItems(ctx context.Context, source signal.Source) ([]signal.RawItem, error) {
	budget := source.MaxItems
	if budget <= 0 {
		budget = a.cfg.CrawlMaxPages
	}
	crawler := crawl.New(crawl.Config{MaxPages: budget, UserAgent: a.cfg.UserAgent}, a.fetcher, a.gate, a.sched, a.logger)
	pages, stats, err := crawler.Crawl(ctx, source.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("crawl site %s: %w", source.ID, err)
	}
	if len(stats.Errors) > 0 {
		a.logger.Warn("site crawl finished with page errors",
			zap.String("source", source.ID),
			zap.Int("errors", len(stats.Errors)),
		)
	}

	retrieved := a.clock.Now()
	items := make([]signal.RawItem, 0, len(pages))
	for _, page := range pages {
		items = append(items, signal.RawItem{
			SourceID:     source.ID,
			SourceTitle:  source.ID,
			SourceURL:    page.URL,
			CanonicalURL: textproc.NormalizeURL(page.URL),
			Title:        page.Title,
			Content:      page.Text,
			RetrievedAt:  retrieved,
			Language:     firstNonEmpty(source.Language, a.cfg.DefaultLanguage),
			Tags:         source.Tags,
		})
	}
	return items, nil
}
