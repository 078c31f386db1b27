package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pauljones0/tender-watch/internal/ai"
	"github.com/pauljones0/tender-watch/internal/config"
	"github.com/pauljones0/tender-watch/internal/enrich"
	"github.com/pauljones0/tender-watch/internal/filter"
	"github.com/pauljones0/tender-watch/internal/metrics"
	"github.com/pauljones0/tender-watch/internal/notifier"
	"github.com/pauljones0/tender-watch/internal/processor"
	"github.com/pauljones0/tender-watch/internal/scheduler"
	"github.com/pauljones0/tender-watch/internal/scraper"
	"github.com/pauljones0/tender-watch/internal/storage"
)

// appStore is what both storage backends provide.
type appStore interface {
	processor.Store
	scheduler.Store
	Ping(ctx context.Context) error
	Close() error
}

// app holds the wired components of one process.
type app struct {
	cfg       *config.Config
	store     appStore
	aiStage   *ai.Stage
	executor  *processor.Executor
	links     *processor.LinkSyncer
	purger    *processor.Purger
	scheduler *scheduler.Scheduler
}

func openStore(ctx context.Context, cfg *config.Config) (appStore, error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		pg, err := storage.NewPostgres(ctx, cfg.DatabaseURL, cfg.DBMaxOpenConns)
		if err != nil {
			return nil, err
		}
		if err := storage.Migrate(pg.DB()); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		fs, err := storage.NewFirestore(ctx, cfg.ProjectID, cfg.FirestoreCredentialsFile)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
}

// newApp opens the store and wires every component on top of it.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StorageBackend, err)
	}

	m := metrics.New(nil)

	var renderer scraper.Renderer
	if cfg.Scrape.RendererEnabled {
		renderer = scraper.NewChromeRenderer(cfg.Scrape.UserAgent, cfg.Scrape.Timeout)
	}
	geo := filter.NewGeography(cfg.Profile)
	registry := scraper.NewRegistry(cfg, scraper.LoadConfig(), scraper.NewFetcher(cfg.Scrape), renderer, geo)

	backend, err := ai.NewBackend(ctx, cfg.AI)
	if err != nil {
		slog.Warn("AI backend could not be created, AI stage disabled", "backend", cfg.AI.Backend, "error", err)
	}
	aiStage := ai.NewStage(cfg.AI, backend, cfg.Profile.CountryName)

	pipeline := processor.NewPipeline(
		enrich.New(enrich.NewPDFExtractor(cfg.PDF, cfg.Scrape.UserAgent)),
		filter.NewStrict(cfg.Filter, cfg.Profile, geo),
		aiStage,
		store,
		notifier.New(cfg.DiscordWebhookURL),
		m,
	)
	executor := processor.NewExecutor(store, registry, pipeline, cfg.DefaultKeywords, m)
	links := processor.NewLinkSyncer(store, cfg.Profile.Links, cfg.LinkSyncThrottle, m)
	purger := processor.NewPurger(store, m)

	sched, err := scheduler.New(cfg, executor, links, purger, store, m)
	if err != nil {
		store.Close()
		return nil, err
	}

	slog.Info("Components wired",
		"storage", cfg.StorageBackend,
		"ai_enabled", aiStage.Enabled(),
		"renderer", renderer != nil,
		"variants", len(registry.Types()),
		"links", len(cfg.Profile.Links),
	)
	return &app{
		cfg:       cfg,
		store:     store,
		aiStage:   aiStage,
		executor:  executor,
		links:     links,
		purger:    purger,
		scheduler: sched,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("Failed to close store", "error", err)
	}
}
