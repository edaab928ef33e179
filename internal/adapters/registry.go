// Package adapters contains the built-in source adapters: RSS/Atom feeds,
// single-page HTML sources, GeoJSON alert APIs, and hazard summary APIs.
// Adapters are looked up by the source's type string.
package adapters

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trendwire/ingest/internal/fetch"
	"github.com/trendwire/ingest/internal/robots"
	"github.com/trendwire/ingest/internal/signal"
)

// Config carries adapter-wide defaults.
type Config struct {
	MaxItemsPerFeed int
	DefaultLanguage string
	HazardAPIKey    string
	UserAgent       string

	// Site crawl limits, applied per site source.
	CrawlMaxPages      int
	CrawlMaxConcurrent int
	CrawlMaxPerOrigin  int
	CrawlMinDelay      time.Duration
}

// Registry maps source types to adapters. Unknown types fall back to the
// feed adapter, matching the dominant source kind.
type Registry struct {
	adapters map[signal.SourceType]signal.SourceAdapter
	fallback signal.SourceAdapter
	logger   *zap.Logger
}

// NewRegistry wires the built-in adapters.
func NewRegistry(cfg Config, fetcher *fetch.Fetcher, gate *robots.Gate, clock signal.Clock, logger *zap.Logger) *Registry {
	if cfg.MaxItemsPerFeed <= 0 {
		cfg.MaxItemsPerFeed = 40
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	feed := NewFeedAdapter(cfg, fetcher, clock)
	r := &Registry{
		adapters: map[signal.SourceType]signal.SourceAdapter{
			signal.SourceTypeFeed:   feed,
			signal.SourceTypeHTML:   NewHTMLAdapter(cfg, fetcher, gate, clock, logger),
			signal.SourceTypeAlert:  NewAlertAdapter(cfg, fetcher, clock),
			signal.SourceTypeHazard: NewHazardAdapter(cfg, fetcher, clock),
			signal.SourceTypeSite:   NewSiteAdapter(cfg, fetcher, gate, clock, logger),
		},
		fallback: feed,
		logger:   logger,
	}
	return r
}

// ForType returns the adapter registered for a source type.
func (r *Registry) ForType(t signal.SourceType) signal.SourceAdapter {
	if a, ok := r.adapters[t]; ok {
		return a
	}
	r.logger.Warn("unknown source type, using feed adapter", zap.String("type", string(t)))
	return r.fallback
}

// Register adds or replaces an adapter, for callers wiring custom sources.
func (r *Registry) Register(t signal.SourceType, adapter signal.SourceAdapter) {
	r.adapters[t] = adapter
}

// Types lists the registered source types.
func (r *Registry) Types() []signal.SourceType {
	out := make([]signal.SourceType, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	return out
}

// parseTime accepts the date shapes sources actually emit: RFC3339, RFC1123,
// and long-form release dates. Returns zero time when nothing parses.
func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	layouts := []string{
		time.RFC3339,
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		time.RFC822,
		"2006-01-02 15:04:05",
		"2006-01-02",
		"January 2, 2006",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
