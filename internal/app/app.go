// Package app assembles the service from configuration: store, fetcher,
// adapters, pipeline, and HTTP server.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trendwire/ingest/internal/adapters"
	"github.com/trendwire/ingest/internal/api"
	"github.com/trendwire/ingest/internal/clock/system"
	"github.com/trendwire/ingest/internal/config"
	"github.com/trendwire/ingest/internal/embed"
	"github.com/trendwire/ingest/internal/fetch"
	"github.com/trendwire/ingest/internal/id/uuid"
	"github.com/trendwire/ingest/internal/logging"
	"github.com/trendwire/ingest/internal/metrics"
	"github.com/trendwire/ingest/internal/pipeline"
	"github.com/trendwire/ingest/internal/robots"
	"github.com/trendwire/ingest/internal/signal"
	"github.com/trendwire/ingest/internal/store/memory"
	"github.com/trendwire/ingest/internal/store/postgres"
)

// App holds the wired service components.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Store    signal.DocumentStore
	Pipeline *pipeline.Pipeline
	Server   *api.Server

	closers []func()
}

// New loads configuration and wires the service. An empty db.dsn selects the
// in-memory store, which suits development and one-off runs.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	metrics.Init()

	var store signal.DocumentStore
	var closers []func()
	if cfg.DB.DSN != "" {
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		store = pg
		closers = append(closers, pg.Close)
	} else {
		logger.Info("db.dsn not set, using in-memory store")
		store = memory.New()
	}

	fetcher := fetch.New(fetch.Config{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		Retries:      cfg.HTTP.MaxRetries,
		MinDelay:     time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		PerHostRPS:   cfg.HTTP.PerHostRPS,
		PerHostBurst: cfg.HTTP.PerHostBurst,
	}, logger.Named("fetch"))
	gate := robots.NewGate(cfg.HTTP.UserAgent, logger.Named("robots"))
	clk := system.New()

	registry := adapters.NewRegistry(adapters.Config{
		MaxItemsPerFeed:    cfg.Ingest.MaxItemsPerSource,
		DefaultLanguage:    cfg.Ingest.DefaultLanguage,
		HazardAPIKey:       cfg.Ingest.HazardAPIKey,
		UserAgent:          cfg.HTTP.UserAgent,
		CrawlMaxPages:      cfg.Ingest.MaxItemsPerSource,
		CrawlMaxConcurrent: cfg.Scheduler.MaxConcurrent,
		CrawlMaxPerOrigin:  cfg.Scheduler.MaxPerOrigin,
		CrawlMinDelay:      time.Duration(cfg.Scheduler.MinDelayMs) * time.Millisecond,
	}, fetcher, gate, clk, logger.Named("adapters"))

	pipe := pipeline.New(cfg, pipeline.Deps{
		Store:    store,
		Adapters: registry,
		Fetcher:  fetcher,
		Robots:   gate,
		Embedder: embed.NewHashingEmbedder(embed.DefaultDimensions),
		Chunker:  embed.NewWordChunker(0, 0),
		Clock:    clk,
		IDs:      uuid.NewGenerator(),
		Logger:   logger.Named("pipeline"),
	})

	server := api.NewServer(store, pipe, cfg.Sources, logger.Named("api"))

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Pipeline: pipe,
		Server:   server,
		closers:  closers,
	}, nil
}

// Close releases held resources.
func (a *App) Close() {
	for _, fn := range a.closers {
		fn()
	}
	_ = a.Logger.Sync()
}
