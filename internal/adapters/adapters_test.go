package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trendwire/ingest/internal/fetch"
	"github.com/trendwire/ingest/internal/robots"
	"github.com/trendwire/ingest/internal/signal"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testClock = fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

func testFetcher(t *testing.T) *fetch.Fetcher {
	t.Helper()
	return fetch.New(fetch.Config{Timeout: 5 * time.Second, Retries: 0, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, zap.NewNop())
}

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Energy Wire</title>
<item>
  <title>Crude inventories draw down</title>
  <link>https://news.example/articles/draw#frag</link>
  <description>Stocks fell for a fifth week.</description>
  <pubDate>Mon, 02 Mar 2026 09:00:00 GMT</pubDate>
</item>
<item>
  <title>Refinery turnaround season begins</title>
  <link>https://news.example/articles/turnaround</link>
  <description>Maintenance ramps up.</description>
</item>
<item>
  <title>Third item beyond the cap</title>
  <link>https://news.example/articles/extra</link>
</item>
</channel></rss>`

func TestFeedAdapterParsesAndCapsItems(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	a := NewFeedAdapter(Config{MaxItemsPerFeed: 40, DefaultLanguage: "en"}, testFetcher(t), testClock)
	items, err := a.FetchItems(context.Background(), signal.Source{
		ID: "energy-wire", URL: srv.URL, MaxItems: 2, Tags: []string{"energy"},
	})
	require.NoError(t, err)
	require.Len(t, items, 2, "source item cap applies")

	first := items[0]
	assert.Equal(t, "Crude inventories draw down", first.Title)
	assert.Equal(t, "https://news.example/articles/draw", first.CanonicalURL, "fragment dropped")
	assert.Equal(t, "Energy Wire", first.SourceTitle)
	assert.Equal(t, "Stocks fell for a fifth week.", first.Summary)
	assert.Equal(t, 2026, first.PublishedAt.Year())
	assert.Equal(t, testClock.t, first.RetrievedAt)
	assert.Equal(t, []string{"energy"}, first.Tags)

	assert.True(t, items[1].PublishedAt.IsZero(), "missing pubDate stays zero")
}

const pageHTML = `<!DOCTYPE html><html><head>
<title>Port Strike Update</title>
<meta name="description" content="Dockworkers extended the walkout.">
<meta property="article:published_time" content="2026-02-28T08:30:00Z">
</head><body>
<article><p>Dockworkers at the main container terminal extended their walkout into a second week, stranding dozens of vessels.</p>
<p>Carriers began rerouting ships to nearby ports, pushing up spot freight rates on the affected lanes significantly.</p></article>
<script>console.log("tracking")</script>
</body></html>`

func TestHTMLAdapterExtractsPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(pageHTML))
	}))
	defer srv.Close()

	a := NewHTMLAdapter(Config{DefaultLanguage: "en"}, testFetcher(t), nil, testClock, zap.NewNop())
	items, err := a.FetchItems(context.Background(), signal.Source{ID: "port-news", URL: srv.URL + "/story"})
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Contains(t, item.Title, "Port Strike")
	assert.Contains(t, item.Content, "walkout")
	assert.NotContains(t, item.Content, "tracking", "script content stripped")
	assert.Equal(t, time.Date(2026, 2, 28, 8, 30, 0, 0, time.UTC), item.PublishedAt)
	assert.Equal(t, testClock.t, item.RetrievedAt)
}

const alertJSON = `{"features":[
 {"id":"https://alerts.example/a1","properties":{
   "headline":"Hurricane Warning issued for coastal counties",
   "event":"Hurricane Warning",
   "description":"A hurricane warning is in effect.",
   "instruction":"Complete preparations now.",
   "areaDesc":"Coastal counties",
   "sent":"2026-03-01T06:00:00Z"}},
 {"id":"https://alerts.example/a2","properties":{
   "event":"Flood Watch",
   "areaDesc":"River basin",
   "effective":"2026-03-01T07:00:00Z"}}
]}`

func TestAlertAdapterMapsFeatures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(alertJSON))
	}))
	defer srv.Close()

	a := NewAlertAdapter(Config{DefaultLanguage: "en"}, testFetcher(t), testClock)
	items, err := a.FetchItems(context.Background(), signal.Source{
		ID: "alerts", URL: srv.URL, Tags: []string{"weather"},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "Hurricane Warning issued for coastal counties", first.Title)
	assert.Contains(t, first.Content, "Complete preparations now.")
	assert.Equal(t, "https://alerts.example/a1", first.CanonicalURL)
	assert.Contains(t, first.Tags, "weather")
	assert.Contains(t, first.Tags, "hurricane warning")
	assert.Equal(t, time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC), first.PublishedAt)

	second := items[1]
	assert.Equal(t, "Flood Watch", second.Title)
	assert.Equal(t, "River basin", second.Summary)
	assert.Equal(t, time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC), second.PublishedAt)
}

func TestHazardAdapterSummarizesDetections(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.String(), "secret")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":1},{"lat":2},{"lat":3}]`))
	}))
	defer srv.Close()

	a := NewHazardAdapter(Config{DefaultLanguage: "en", HazardAPIKey: "secret"}, testFetcher(t), testClock)
	items, err := a.FetchItems(context.Background(), signal.Source{
		ID: "firms", URL: srv.URL + "/api/{key}/world", Tags: []string{"wildfire"},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, items[0].Title, "(3)")
	assert.Contains(t, items[0].Summary, "3 hazard hotspots")
	assert.NotContains(t, items[0].CanonicalURL, "secret", "key never lands in stored URLs")
}

func TestHazardAdapterSkipsWithoutKey(t *testing.T) {
	t.Parallel()

	a := NewHazardAdapter(Config{}, testFetcher(t), testClock)
	items, err := a.FetchItems(context.Background(), signal.Source{ID: "firms", URL: "https://h.example/api/{key}/world"})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRegistryFallsBackToFeed(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Config{}, testFetcher(t), nil, testClock, zap.NewNop())
	assert.NotNil(t, r.ForType(signal.SourceTypeHTML))
	assert.Same(t, r.ForType(signal.SourceTypeFeed), r.ForType("mystery"))
	assert.Len(t, r.Types(), 5)
}

func TestSiteAdapterCrawlsSameHostPages(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Terminal Updates</title></head><body>
			<p>Daily operational notes from the export terminal desk.</p>
			<a href="/outage">Outage notice</a>
			<a href="https://elsewhere.example/offsite">Offsite</a>
		</body></html>`))
	})
	mux.HandleFunc("/outage", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Loading Outage</title></head><body>
			<p>Berth two loading is suspended for repairs through the weekend.</p>
		</body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	gate := robots.NewGate("test-agent/1.0", zap.NewNop())
	a := NewSiteAdapter(Config{
		DefaultLanguage: "en",
		UserAgent:       "test-agent/1.0",
		CrawlMinDelay:   time.Millisecond,
	}, testFetcher(t), gate, testClock, zap.NewNop())

	items, err := a.FetchItems(context.Background(), signal.Source{
		ID: "terminal-site", URL: srv.URL + "/", MaxItems: 5, Tags: []string{"logistics"},
	})
	require.NoError(t, err)
	require.Len(t, items, 2, "seed page plus one same-host link")

	assert.Equal(t, "terminal-site", items[0].SourceID)
	assert.Contains(t, items[0].Content, "export terminal desk")
	assert.Contains(t, items[1].Content, "suspended for repairs")
	assert.Contains(t, items[1].Tags, "logistics")
	assert.Equal(t, testClock.t, items[1].RetrievedAt)
	for _, item := range items {
		assert.NotContains(t, item.CanonicalURL, "elsewhere.example")
	}
}

func TestParseTimeFormats(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2026, parseTime("2026-03-01T06:00:00Z").Year())
	assert.Equal(t, 2026, parseTime("Mon, 02 Mar 2026 09:00:00 GMT").Year())
	assert.Equal(t, 2026, parseTime("January 5, 2026").Year())
	assert.True(t, parseTime("not a date").IsZero())
	assert.True(t, parseTime("").IsZero())
}
