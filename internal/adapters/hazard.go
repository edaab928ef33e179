package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trendwire/ingest/internal/fetch"
	"github.com/trendwire/ingest/internal/signal"
)

// keyPlaceholder marks where the API key slots into a hazard endpoint URL.
const keyPlaceholder = "{key}"

// HazardAdapter summarizes geospatial hazard detection APIs that return an
// array of detection records. Individual detections are too granular to keep;
// the adapter emits one summary item with the detection count.
type HazardAdapter struct {
	cfg     Config
	fetcher *fetch.Fetcher
	clock   signal.Clock
}

// NewHazardAdapter constructs a HazardAdapter.
func NewHazardAdapter(cfg Config, fetcher *fetch.Fetcher, clock signal.Clock) *HazardAdapter {
	return &HazardAdapter{cfg: cfg, fetcher: fetcher, clock: clock}
}

// FetchItems queries the hazard API and emits a single count summary, or
// nothing when the endpoint needs a key that is not configured or reports no
// detections.
func (a *HazardAdapter) FetchItems(ctx context.Context, source signal.Source) ([]signal.RawItem, error) {
	endpoint := source.URL
	if strings.Contains(endpoint, keyPlaceholder) {
		if a.cfg.HazardAPIKey == "" {
			return nil, nil
		}
		endpoint = strings.ReplaceAll(endpoint, keyPlaceholder, a.cfg.HazardAPIKey)
	}

	res, err := a.fetcher.FetchBuffer(ctx, endpoint, fetch.Options{})
	if err != nil {
		return nil, fmt.Errorf("fetch hazard data %s: %w", source.ID, err)
	}
	if res.NotModified {
		return nil, nil
	}
	var detections []json.RawMessage
	if err := json.Unmarshal(res.Body, &detections); err != nil {
		return nil, fmt.Errorf("parse hazard data %s: %w", source.ID, err)
	}
	if len(detections) == 0 {
		return nil, nil
	}

	now := a.clock.Now()
	count := len(detections)
	summary := fmt.Sprintf("Detected %d hazard hotspots in the past 24 hours.", count)
	item := signal.RawItem{
		SourceID:     source.ID,
		SourceTitle:  source.ID,
		SourceURL:    source.URL,
		CanonicalURL: source.URL,
		Title:        fmt.Sprintf("%s hazard hotspots (%d)", source.ID, count),
		Summary:      summary,
		Content:      summary,
		PublishedAt:  now,
		RetrievedAt:  now,
		Language:     firstNonEmpty(source.Language, a.cfg.DefaultLanguage),
		Tags:         source.Tags,
	}
	return []signal.RawItem{item}, nil
}
