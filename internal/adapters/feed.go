package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/trendwire/ingest/internal/fetch"
	"github.com/trendwire/ingest/internal/signal"
	"github.com/trendwire/ingest/internal/textproc"
)

// FeedAdapter pulls items from an RSS or Atom feed.
type FeedAdapter struct {
	cfg     Config
	fetcher *fetch.Fetcher
	clock   signal.Clock
	parser  *gofeed.Parser
}

// NewFeedAdapter constructs a FeedAdapter.
func NewFeedAdapter(cfg Config, fetcher *fetch.Fetcher, clock signal.Clock) *FeedAdapter {
	return &FeedAdapter{cfg: cfg, fetcher: fetcher, clock: clock, parser: gofeed.NewParser()}
}

// FetchItems downloads and parses the feed, returning up to the source's item
// cap in feed order.
func (a *FeedAdapter) FetchItems(ctx context.Context, source signal.Source) ([]signal.RawItem, error) {
	res, err := a.fetcher.FetchText(ctx, source.URL, fetch.Options{})
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", source.ID, err)
	}
	if res.NotModified {
		return nil, nil
	}
	parsed, err := a.parser.ParseString(res.Text())
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", source.ID, err)
	}

	maxItems := source.MaxItems
	if maxItems <= 0 {
		maxItems = a.cfg.MaxItemsPerFeed
	}
	items := parsed.Items
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	now := a.clock.Now()
	out := make([]signal.RawItem, 0, len(items))
	for _, item := range items {
		canonical := textproc.NormalizeURL(item.Link)
		if canonical == "" {
			canonical = textproc.NormalizeURL(item.GUID)
		}
		title := textproc.Normalize(item.Title)
		if title == "" {
			title = parsed.Title
		}
		if title == "" {
			title = source.ID
		}
		summary := textproc.Normalize(textproc.StripHTML(item.Description))
		content := textproc.Normalize(textproc.StripHTML(item.Content))
		if content == "" {
			content = summary
		}
		out = append(out, signal.RawItem{
			SourceID:     source.ID,
			SourceTitle:  firstNonEmpty(parsed.Title, source.ID),
			SourceURL:    source.URL,
			CanonicalURL: canonical,
			Title:        title,
			Summary:      summary,
			Content:      content,
			PublishedAt:  itemTime(item),
			RetrievedAt:  now,
			Language:     firstNonEmpty(source.Language, a.cfg.DefaultLanguage),
			Tags:         source.Tags,
		})
	}
	return out, nil
}

func itemTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return parseTime(item.Published)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
