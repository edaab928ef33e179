// Package crawl implements the single-seed site crawler: breadth-first,
// same-origin page expansion through the domain scheduler, with robots
// enforcement and conditional-GET change detection.
package crawl

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/trendwire/ingest/internal/dedup"
	"github.com/trendwire/ingest/internal/fetch"
	"github.com/trendwire/ingest/internal/robots"
	"github.com/trendwire/ingest/internal/schedule"
	"github.com/trendwire/ingest/internal/textproc"
)

const (
	defaultMaxPages = 20
	queueFactor     = 3
)

// Config controls one crawl.
type Config struct {
	MaxPages  int
	UserAgent string
}

// Page is one fetched page of a crawl.
type Page struct {
	URL         string
	Title       string
	Text        string
	ContentHash string
	Depth       int
}

// PageError records a page that could not be fetched.
type PageError struct {
	URL string
	Err string
}

// Stats counts crawl outcomes.
type Stats struct {
	Fetched    int
	NotChanged int
	Blocked    int
	Errors     []PageError
}

// PageState carries the conditional-GET validators a caller already holds for
// a URL.
type PageState struct {
	ETag         string
	LastModified string
}

// StateLookup resolves prior page state by URL; nil means no state exists.
type StateLookup func(url string) *PageState

// Crawler walks one site. A Crawler is single-use state-free; all per-crawl
// state lives inside Crawl.
type Crawler struct {
	cfg     Config
	fetcher *fetch.Fetcher
	gate    *robots.Gate
	sched   *schedule.Scheduler
	logger  *zap.Logger
}

// New constructs a Crawler.
func New(cfg Config, fetcher *fetch.Fetcher, gate *robots.Gate, sched *schedule.Scheduler, logger *zap.Logger) *Crawler {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "trendwire-ingest/1.0"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{cfg: cfg, fetcher: fetcher, gate: gate, sched: sched, logger: logger}
}

type queued struct {
	url   string
	depth int
}

// Crawl walks the seed's site breadth-first up to the page budget. Pages on
// other hosts are never followed. A robots crawl-delay directive raises the
// scheduler's per-origin delay before the first fetch.
func (c *Crawler) Crawl(ctx context.Context, seedURL string, lookup StateLookup) ([]Page, Stats, error) {
	var stats Stats
	seed := textproc.NormalizeURL(seedURL)
	if seed == "" {
		return nil, stats, fmt.Errorf("crawl seed %q: not a valid absolute URL", seedURL)
	}
	parsed, err := url.Parse(seed)
	if err != nil {
		return nil, stats, fmt.Errorf("crawl seed %q: %w", seedURL, err)
	}
	host := parsed.Hostname()
	origin := parsed.Scheme + "://" + parsed.Host

	rules := c.gate.GetRules(ctx, origin)
	if delay := c.gate.CrawlDelay(rules, c.cfg.UserAgent); delay > 0 {
		c.sched.SetOriginDelay(origin, delay)
	}

	visited := make(map[string]struct{})
	queue := []queued{{url: seed, depth: 0}}
	var pages []Page

	for len(queue) > 0 && len(pages) < c.cfg.MaxPages {
		if ctx.Err() != nil {
			return pages, stats, ctx.Err()
		}
		item := queue[0]
		queue = queue[1:]
		if _, seen := visited[item.url]; seen {
			continue
		}
		visited[item.url] = struct{}{}
		if !sameHost(item.url, host) {
			continue
		}
		if !c.gate.IsAllowed(item.url, rules, c.cfg.UserAgent) {
			stats.Blocked++
			continue
		}

		opts := fetch.Options{}
		if lookup != nil {
			if state := lookup(item.url); state != nil {
				opts.ETag = state.ETag
				opts.LastModified = state.LastModified
			}
		}

		var res fetch.Result
		err := c.sched.Schedule(ctx, item.url, func(taskCtx context.Context) error {
			var ferr error
			res, ferr = c.fetcher.FetchText(taskCtx, item.url, opts)
			return ferr
		})
		if err != nil {
			if ctx.Err() != nil {
				return pages, stats, ctx.Err()
			}
			stats.Errors = append(stats.Errors, PageError{URL: item.url, Err: err.Error()})
			continue
		}
		if res.NotModified {
			stats.NotChanged++
			continue
		}

		html := res.Text()
		title, text := extractPage(html, item.url)
		links := c.extractLinks(html, item.url, host)
		for _, link := range links {
			if _, seen := visited[link]; seen {
				continue
			}
			if len(queue) >= c.cfg.MaxPages*queueFactor {
				break
			}
			queue = append(queue, queued{url: link, depth: item.depth + 1})
		}

		stats.Fetched++
		pages = append(pages, Page{
			URL:         item.url,
			Title:       title,
			Text:        text,
			ContentHash: dedup.HashContent(text),
			Depth:       item.depth,
		})
	}

	c.logger.Info("crawl complete",
		zap.String("seed", seed),
		zap.Int("fetched", stats.Fetched),
		zap.Int("blocked", stats.Blocked),
		zap.Int("errors", len(stats.Errors)),
	)
	return pages, stats, nil
}

func extractPage(html, pageURL string) (title, text string) {
	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil {
		title = textproc.Normalize(article.Title)
		text = textproc.CleanLines(article.TextContent)
	}
	if text != "" {
		return title, text
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return title, textproc.CleanLines(textproc.StripHTML(html))
	}
	if title == "" {
		title = textproc.Normalize(doc.Find("title").First().Text())
	}
	doc.Find("script, style, noscript, svg").Remove()
	text = textproc.CleanLines(doc.Find("body").Text())
	if text == "" {
		text = textproc.CleanLines(textproc.StripHTML(html))
	}
	return title, text
}

// extractLinks pulls same-host anchor targets, resolved against the page URL
// and normalized.
func (c *Crawler) extractLinks(html, pageURL, host string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := textproc.NormalizeURL(base.ResolveReference(ref).String())
		if resolved == "" || !sameHost(resolved, host) {
			return
		}
		if _, ok := seen[resolved]; ok {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	})
	return links
}

func sameHost(rawURL, host string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), host)
}
