// Package robots fetches, parses, and caches robots.txt directives per
// origin, answering allow/deny and crawl-delay queries.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const maxRobotsBytes = 1 << 20

// Gate owns the per-origin robots cache. Entries live for the process
// lifetime; a fetch failure caches a permissive nil (fail-open).
type Gate struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
	cache     sync.Map // origin -> *entry
}

type entry struct {
	data *robotstxt.RobotsData
}

// NewGate constructs a Gate.
func NewGate(userAgent string, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: userAgent,
		logger:    logger,
	}
}

// GetRules returns the parsed robots data for an origin, fetching it on the
// first query. A nil return means no restrictions apply.
func (g *Gate) GetRules(ctx context.Context, origin string) *robotstxt.RobotsData {
	origin = strings.TrimSuffix(origin, "/")
	if origin == "" {
		return nil
	}
	if cached, ok := g.cache.Load(origin); ok {
		return cached.(*entry).data
	}

	data, err := g.fetch(ctx, origin)
	if err != nil {
		g.logger.Warn("robots fetch failed; failing open",
			zap.String("origin", origin),
			zap.Error(err),
		)
		data = nil
	}
	// First writer wins so concurrent lookups agree on one ruleset.
	actual, _ := g.cache.LoadOrStore(origin, &entry{data: data})
	return actual.(*entry).data
}

func (g *Gate) fetch(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

// IsAllowed reports whether the URL path may be fetched under the given
// rules. The group matching the agent exactly is preferred over the wildcard
// group; with no matching group everything is allowed.
func (g *Gate) IsAllowed(rawURL string, data *robotstxt.RobotsData, agent string) bool {
	if data == nil {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	group := data.FindGroup(agent)
	if group == nil {
		return true
	}
	p := parsed.Path
	if p == "" {
		p = "/"
	}
	if parsed.RawQuery != "" {
		p += "?" + parsed.RawQuery
	}
	return group.Test(p)
}

// CrawlDelay returns the Crawl-delay directive for the agent, or 0 when none
// is declared.
func (g *Gate) CrawlDelay(data *robotstxt.RobotsData, agent string) time.Duration {
	if data == nil {
		return 0
	}
	group := data.FindGroup(agent)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

// Allowed is the common single-call path: resolve rules for the URL's origin
// and test it against the gate's own user agent.
func (g *Gate) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return true
	}
	data := g.GetRules(ctx, parsed.Scheme+"://"+parsed.Host)
	return g.IsAllowed(rawURL, data, g.userAgent)
}
