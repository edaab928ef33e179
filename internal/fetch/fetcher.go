// Package fetch implements the polite HTTP fetcher used by all outbound
// requests: per-host rate limiting, bounded retries with jittered exponential
// backoff, and conditional-GET support.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/trendwire/ingest/internal/metrics"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultRetries   = 2
	defaultMinDelay  = 600 * time.Millisecond
	defaultMaxDelay  = 4 * time.Second
	jitterRatio      = 0.2
	maxBodyBytes     = 10 << 20
	defaultUserAgent = "trendwire-ingest/1.0"
)

// ErrStatus wraps a terminal non-2xx response after retries are exhausted.
type ErrStatus struct {
	URL    string
	Status int
}

func (e *ErrStatus) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
}

// Config controls Fetcher behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	Retries      int
	MinDelay     time.Duration
	MaxDelay     time.Duration
	PerHostRPS   float64
	PerHostBurst int
}

// Options customize a single request.
type Options struct {
	Headers      http.Header
	Timeout      time.Duration
	ETag         string
	LastModified string
}

// Result carries the response of a fetch. NotModified is set for 304
// responses so callers can skip re-processing without treating the response
// as new content.
type Result struct {
	Status       int
	Body         []byte
	Headers      http.Header
	ContentType  string
	ETag         string
	LastModified string
	NotModified  bool
}

// Text returns the body as a string.
func (r Result) Text() string {
	return string(r.Body)
}

// Fetcher performs polite HTTP requests. Safe for concurrent use.
type Fetcher struct {
	client   *http.Client
	cfg      Config
	logger   *zap.Logger
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New constructs a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = defaultMinDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:   &http.Client{},
		cfg:      cfg,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// FetchText fetches a URL and returns its body as text.
func (f *Fetcher) FetchText(ctx context.Context, rawURL string, opts Options) (Result, error) {
	return f.fetch(ctx, rawURL, opts)
}

// FetchBuffer fetches a URL and returns its raw bytes.
func (f *Fetcher) FetchBuffer(ctx context.Context, rawURL string, opts Options) (Result, error) {
	return f.fetch(ctx, rawURL, opts)
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string, opts Options) (Result, error) {
	host := hostOf(rawURL)
	if err := f.waitHost(ctx, host); err != nil {
		return Result{}, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}

	var lastErr error
	for attempt := 0; attempt <= f.cfg.Retries; attempt++ {
		if attempt > 0 {
			metrics.ObserveFetchRetry()
		}
		res, retryAfter, err := f.attempt(ctx, rawURL, opts, timeout)
		if err == nil && !shouldRetryStatus(res.Status) {
			if res.NotModified || (res.Status >= 200 && res.Status <= 299) {
				return res, nil
			}
			// Terminal client errors are not retried.
			return Result{}, &ErrStatus{URL: rawURL, Status: res.Status}
		}
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, fmt.Errorf("fetch %s: %w", rawURL, ctx.Err())
			}
			lastErr = err
		} else {
			lastErr = &ErrStatus{URL: rawURL, Status: res.Status}
		}
		if attempt == f.cfg.Retries {
			break
		}
		delay := f.backoff(attempt)
		if retryAfter > 0 {
			delay = minDuration(retryAfter, f.cfg.MaxDelay)
		}
		f.logger.Debug("fetch retry",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		if err := sleepCtx(ctx, delay); err != nil {
			return Result{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	}
	return Result{}, fmt.Errorf("fetch %s after %d attempts: %w", rawURL, f.cfg.Retries+1, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string, opts Options, timeout time.Duration) (Result, time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	for key, values := range opts.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if opts.ETag != "" {
		req.Header.Set("If-None-Match", opts.ETag)
	}
	if opts.LastModified != "" {
		req.Header.Set("If-Modified-Since", opts.LastModified)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, 0, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	metrics.ObserveFetch(hostOf(rawURL), resp.StatusCode, time.Since(start))

	result := Result{
		Status:       resp.StatusCode,
		Headers:      resp.Header,
		ContentType:  resp.Header.Get("Content-Type"),
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	if resp.StatusCode == http.StatusNotModified {
		result.NotModified = true
		return result, 0, nil
	}
	if shouldRetryStatus(resp.StatusCode) {
		return result, parseRetryAfter(resp.Header.Get("Retry-After")), nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result, 0, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, 0, fmt.Errorf("read body: %w", err)
	}
	result.Body = body
	return result, 0, nil
}

// waitHost blocks on the per-host token bucket so a burst of requests cannot
// hammer a single origin.
func (f *Fetcher) waitHost(ctx context.Context, host string) error {
	if f.cfg.PerHostRPS <= 0 {
		return nil
	}
	f.mu.Lock()
	limiter, ok := f.limiters[host]
	if !ok {
		burst := f.cfg.PerHostBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(f.cfg.PerHostRPS), burst)
		f.limiters[host] = limiter
	}
	f.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	base := float64(f.cfg.MinDelay) * math.Pow(2, float64(attempt))
	if base > float64(f.cfg.MaxDelay) {
		base = float64(f.cfg.MaxDelay)
	}
	jitter := base * jitterRatio
	// Uniform in [base-jitter, base+jitter].
	d := base - jitter + rand.Float64()*jitter*2
	return time.Duration(d)
}

func shouldRetryStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	return u.Hostname()
}

func sleepCtx(ctx context.Context, delay time.Duration) error {
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

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// IsNotFoundStatus reports whether err is a terminal 404/410 response, which
// callers treat as a permanent item error rather than a transient one.
func IsNotFoundStatus(err error) bool {
	var se *ErrStatus
	if errors.As(err, &se) {
		return se.Status == http.StatusNotFound || se.Status == http.StatusGone
	}
	return false
}
