// Package schedule implements the bounded-concurrency domain scheduler that
// enforces a global task cap plus a per-origin cap and minimum inter-request
// delay. Dispatch is FIFO within an origin; a burst of tasks on one origin
// cannot block progress on others.
package schedule

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trendwire/ingest/internal/metrics"
)

const (
	defaultMaxConcurrent = 6
	defaultMaxPerOrigin  = 2
	defaultMinDelay      = 800 * time.Millisecond
	drainFloor           = 50 * time.Millisecond
)

// Task is one unit of scheduled work. Results travel through the closure.
type Task func(ctx context.Context) error

// Config controls Scheduler limits.
type Config struct {
	MaxConcurrent int
	MaxPerOrigin  int
	MinDelay      time.Duration
}

type item struct {
	ctx    context.Context
	origin string
	task   Task
	done   chan error
}

type originState struct {
	active       int
	lastDispatch time.Time
}

// Scheduler dispatches tasks politely by origin. Safe for concurrent use.
type Scheduler struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	queue   []*item
	running int
	origins map[string]*originState
	delays  map[string]time.Duration
	timer   *time.Timer
}

// New constructs a Scheduler.
func New(cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.MaxPerOrigin <= 0 {
		cfg.MaxPerOrigin = defaultMaxPerOrigin
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = defaultMinDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:     cfg,
		logger:  logger,
		origins: make(map[string]*originState),
		delays:  make(map[string]time.Duration),
	}
}

// SetOriginDelay overrides the inter-request delay for one origin, typically
// from a robots crawl-delay directive. The configured minimum delay acts as a
// floor so a permissive directive cannot disable politeness.
func (s *Scheduler) SetOriginDelay(origin string, delay time.Duration) {
	origin = normalizeOrigin(origin)
	if origin == "" || delay <= 0 {
		return
	}
	if delay < s.cfg.MinDelay {
		delay = s.cfg.MinDelay
	}
	s.mu.Lock()
	s.delays[origin] = delay
	s.mu.Unlock()
}

// Schedule enqueues a task for the URL's origin and blocks until it
// completes or ctx is cancelled. A task already dispatched runs to completion
// even if the caller gives up waiting.
func (s *Scheduler) Schedule(ctx context.Context, rawURL string, task Task) error {
	it := &item{
		ctx:    ctx,
		origin: originOf(rawURL),
		task:   task,
		done:   make(chan error, 1),
	}
	s.mu.Lock()
	s.queue = append(s.queue, it)
	metrics.SetSchedulerQueueDepth(len(s.queue))
	s.mu.Unlock()
	s.drain()

	select {
	case err := <-it.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) eligible(origin string, now time.Time) bool {
	if s.running >= s.cfg.MaxConcurrent {
		return false
	}
	state := s.origins[origin]
	if state == nil {
		return true
	}
	if state.active >= s.cfg.MaxPerOrigin {
		return false
	}
	return now.Sub(state.lastDispatch) >= s.originDelay(origin)
}

func (s *Scheduler) originDelay(origin string) time.Duration {
	if d, ok := s.delays[origin]; ok {
		return d
	}
	return s.cfg.MinDelay
}

// drain scans the queue and dispatches every eligible task. If nothing could
// be dispatched but work remains, it arms a timer for the minimum wait until
// some origin becomes eligible.
func (s *Scheduler) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	progressed := false
	now := time.Now()
	for i := 0; i < len(s.queue); i++ {
		it := s.queue[i]
		if it.ctx.Err() != nil {
			// Abandoned before dispatch; drop without running.
			it.done <- it.ctx.Err()
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			i--
			continue
		}
		if !s.eligible(it.origin, now) {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		i--
		progressed = true
		s.markStart(it.origin, now)
		go s.execute(it)
	}
	metrics.SetSchedulerQueueDepth(len(s.queue))
	metrics.SetSchedulerActive(s.running)

	if !progressed && len(s.queue) > 0 {
		wait := s.nextWaitLocked(now)
		s.timer = time.AfterFunc(wait, s.drain)
	}
}

// nextWaitLocked computes the minimum time until a queued origin's delay
// elapses. Caller holds s.mu.
func (s *Scheduler) nextWaitLocked(now time.Time) time.Duration {
	wait := s.cfg.MinDelay
	for _, it := range s.queue {
		state := s.origins[it.origin]
		if state == nil {
			continue
		}
		delay := s.originDelay(it.origin)
		elapsed := now.Sub(state.lastDispatch)
		if elapsed < delay {
			if remaining := delay - elapsed + 10*time.Millisecond; remaining < wait {
				wait = remaining
			}
		}
	}
	if wait < drainFloor {
		wait = drainFloor
	}
	return wait
}

func (s *Scheduler) markStart(origin string, now time.Time) {
	state := s.origins[origin]
	if state == nil {
		state = &originState{}
		s.origins[origin] = state
	}
	state.active++
	state.lastDispatch = now
	s.running++
}

func (s *Scheduler) markDone(origin string) {
	s.mu.Lock()
	if state := s.origins[origin]; state != nil && state.active > 0 {
		state.active--
	}
	if s.running > 0 {
		s.running--
	}
	metrics.SetSchedulerActive(s.running)
	s.mu.Unlock()
}

func (s *Scheduler) execute(it *item) {
	err := it.task(it.ctx)
	it.done <- err
	s.markDone(it.origin)
	s.drain()
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return strings.ToLower(u.Host)
}

func normalizeOrigin(origin string) string {
	origin = strings.TrimSpace(strings.ToLower(origin))
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return u.Host
	}
	return origin
}
