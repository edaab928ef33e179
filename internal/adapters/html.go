package adapters

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/trendwire/ingest/internal/fetch"
	"github.com/trendwire/ingest/internal/robots"
	"github.com/trendwire/ingest/internal/signal"
	"github.com/trendwire/ingest/internal/textproc"
)

// HTMLAdapter ingests a single web page as one item. Readability extraction
// is attempted first; when it yields nothing the page is stripped wholesale.
type HTMLAdapter struct {
	cfg     Config
	fetcher *fetch.Fetcher
	gate    *robots.Gate
	clock   signal.Clock
	logger  *zap.Logger
}

// NewHTMLAdapter constructs an HTMLAdapter.
func NewHTMLAdapter(cfg Config, fetcher *fetch.Fetcher, gate *robots.Gate, clock signal.Clock, logger *zap.Logger) *HTMLAdapter {
	return &HTMLAdapter{cfg: cfg, fetcher: fetcher, gate: gate, clock: clock, logger: logger}
}

// FetchItems fetches the page and returns one item, or none when robots.txt
// disallows the URL.
func (a *HTMLAdapter) FetchItems(ctx context.Context, source signal.Source) ([]signal.RawItem, error) {
	if a.gate != nil && !a.gate.Allowed(ctx, source.URL) {
		a.logger.Info("html source disallowed by robots", zap.String("source", source.ID))
		return nil, nil
	}
	res, err := a.fetcher.FetchText(ctx, source.URL, fetch.Options{})
	if err != nil {
		return nil, fmt.Errorf("fetch page %s: %w", source.ID, err)
	}
	if res.NotModified {
		return nil, nil
	}
	html := res.Text()

	title, summary, content := a.extract(html, source.URL)
	if title == "" {
		title = source.ID
	}

	item := signal.RawItem{
		SourceID:     source.ID,
		SourceTitle:  source.ID,
		SourceURL:    source.URL,
		CanonicalURL: textproc.NormalizeURL(source.URL),
		Title:        title,
		Summary:      summary,
		Content:      content,
		PublishedAt:  publishedTime(html),
		RetrievedAt:  a.clock.Now(),
		Language:     firstNonEmpty(source.Language, a.cfg.DefaultLanguage),
		Tags:         source.Tags,
	}
	return []signal.RawItem{item}, nil
}

func (a *HTMLAdapter) extract(html, pageURL string) (title, summary, content string) {
	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil {
		title = textproc.Normalize(article.Title)
		summary = textproc.Normalize(article.Excerpt)
		content = textproc.CleanLines(article.TextContent)
	}
	if content != "" {
		return title, summary, content
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return title, summary, textproc.CleanLines(textproc.StripHTML(html))
	}
	if title == "" {
		title = textproc.Normalize(doc.Find("title").First().Text())
	}
	if summary == "" {
		if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
			summary = textproc.Normalize(desc)
		}
	}
	doc.Find("script, style, noscript, svg, nav, footer").Remove()
	content = textproc.CleanLines(doc.Find("body").Text())
	if content == "" {
		content = textproc.CleanLines(textproc.StripHTML(html))
	}
	return title, summary, content
}

// publishedTime digs a publication timestamp out of page metadata.
func publishedTime(html string) time.Time {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return time.Time{}
	}
	if val, ok := doc.Find(`meta[property="article:published_time"]`).First().Attr("content"); ok {
		if parsed := parseTime(val); !parsed.IsZero() {
			return parsed
		}
	}
	if val, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		if parsed := parseTime(val); !parsed.IsZero() {
			return parsed
		}
	}
	return time.Time{}
}
