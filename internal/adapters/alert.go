package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/trendwire/ingest/internal/fetch"
	"github.com/trendwire/ingest/internal/signal"
	"github.com/trendwire/ingest/internal/textproc"
)

// alertFeed is the GeoJSON shape served by structured alert APIs.
type alertFeed struct {
	Features []alertFeature `json:"features"`
}

type alertFeature struct {
	ID         string          `json:"id"`
	Properties alertProperties `json:"properties"`
}

type alertProperties struct {
	Headline    string `json:"headline"`
	Event       string `json:"event"`
	Description string `json:"description"`
	Instruction string `json:"instruction"`
	AreaDesc    string `json:"areaDesc"`
	Web         string `json:"web"`
	Sent        string `json:"sent"`
	Effective   string `json:"effective"`
}

// AlertAdapter ingests GeoJSON alert feeds, one item per feature.
type AlertAdapter struct {
	cfg     Config
	fetcher *fetch.Fetcher
	clock   signal.Clock
}

// NewAlertAdapter constructs an AlertAdapter.
func NewAlertAdapter(cfg Config, fetcher *fetch.Fetcher, clock signal.Clock) *AlertAdapter {
	return &AlertAdapter{cfg: cfg, fetcher: fetcher, clock: clock}
}

// FetchItems downloads the alert feed and maps each feature to an item. The
// alert's event name joins the source tags so downstream tagging can key on
// it.
func (a *AlertAdapter) FetchItems(ctx context.Context, source signal.Source) ([]signal.RawItem, error) {
	headers := http.Header{}
	headers.Set("Accept", "application/geo+json, application/json")
	res, err := a.fetcher.FetchBuffer(ctx, source.URL, fetch.Options{Headers: headers})
	if err != nil {
		return nil, fmt.Errorf("fetch alerts %s: %w", source.ID, err)
	}
	if res.NotModified {
		return nil, nil
	}
	var feed alertFeed
	if err := json.Unmarshal(res.Body, &feed); err != nil {
		return nil, fmt.Errorf("parse alerts %s: %w", source.ID, err)
	}

	now := a.clock.Now()
	out := make([]signal.RawItem, 0, len(feed.Features))
	for _, feature := range feed.Features {
		props := feature.Properties
		title := textproc.Normalize(props.Headline)
		if title == "" {
			title = textproc.Normalize(props.Event)
		}
		if title == "" {
			title = "Weather Alert"
		}
		description := textproc.Normalize(props.Description)
		summary := description
		if summary == "" {
			summary = textproc.Normalize(props.AreaDesc)
		}
		content := description
		if instruction := textproc.Normalize(props.Instruction); instruction != "" {
			if content != "" {
				content += "\n"
			}
			content += instruction
		}
		canonical := textproc.NormalizeURL(props.Web)
		if canonical == "" {
			canonical = textproc.NormalizeURL(feature.ID)
		}
		tags := append([]string{}, source.Tags...)
		if event := strings.ToLower(textproc.Normalize(props.Event)); event != "" {
			tags = append(tags, event)
		}
		publishedAt := parseTime(props.Sent)
		if publishedAt.IsZero() {
			publishedAt = parseTime(props.Effective)
		}
		out = append(out, signal.RawItem{
			SourceID:     source.ID,
			SourceTitle:  source.ID,
			SourceURL:    source.URL,
			CanonicalURL: canonical,
			Title:        title,
			Summary:      summary,
			Content:      content,
			PublishedAt:  publishedAt,
			RetrievedAt:  now,
			Language:     firstNonEmpty(source.Language, a.cfg.DefaultLanguage),
			Tags:         tags,
		})
	}
	return out, nil
}
