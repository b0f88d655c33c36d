package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"pulsefeed/internal/aggregate"
	"pulsefeed/internal/config"
	"pulsefeed/internal/infrastructure/parser"
	"pulsefeed/internal/infrastructure/rest"
	"pulsefeed/internal/infrastructure/scheduler"
	"pulsefeed/internal/infrastructure/storage"
	"pulsefeed/internal/infrastructure/telegram"
	"pulsefeed/internal/logging"
	"pulsefeed/internal/ports"
	"pulsefeed/internal/usecase"
)

// Application wires config to adapters, use cases, and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	db        *sql.DB
	server    *rest.Server
	scheduler *usecase.Scheduler
	poller    *aggregate.Poller
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	repo := storage.NewPostgresRepository(db)
	fetcher := parser.NewFeedParser(nil, baseLogger.With("component", "parser"))

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.BotToken != "" {
		notifier = telegram.NewNotifier(
			cfg.Notifications.Telegram.BotToken,
			cfg.Notifications.Telegram.ChatID,
		)
	}

	ingestor := usecase.NewIngestor(usecase.IngestorDeps{
		Feeds:           repo,
		Content:         repo,
		Logs:            repo,
		Fetcher:         fetcher,
		Notifier:        notifier,
		Logger:          baseLogger.With("component", "ingestor"),
		MaxItemsPerFeed: cfg.Ingest.MaxItemsPerFeed,
		Concurrency:     cfg.Ingest.Concurrency,
	})

	cron := scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location())
	refresh := usecase.NewScheduler(cron, ingestor, cfg.Ingest.RetentionDays)

	agg := aggregate.NewAggregator(baseLogger.With("component", "aggregator"))
	if err := registerSources(agg, repo, cfg.Aggregation); err != nil {
		return nil, fmt.Errorf("register aggregation sources: %w", err)
	}

	poller := aggregate.NewPoller(agg, baseLogger.With("component", "poller"), aggregate.PollerOptions{
		StaggerMax: time.Duration(cfg.Aggregation.StaggerMaxSeconds) * time.Second,
		MinSpacing: time.Duration(cfg.Aggregation.MinSpacingSeconds) * time.Second,
	})

	server := rest.NewServer(rest.ServerDeps{
		Feeds:      repo,
		Content:    repo,
		Ingestor:   ingestor,
		Aggregator: agg,
		Poller:     poller,
		Logger:     baseLogger.With("component", "rest"),
	})

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		db:        db,
		server:    server,
		scheduler: refresh,
		poller:    poller,
	}, nil
}

// registerSources builds the aggregation registry: one store-backed source
// per configured category plus every external HTTP source from config.
func registerSources(agg *aggregate.Aggregator, repo ports.ContentRepository, cfg config.AggregationConfig) error {
	for _, category := range cfg.Categories {
		src := aggregate.NewStoreSource(
			repo,
			"store-"+category,
			category,
			"Ingestion Store",
			"",
			cfg.StoreItemLimit,
			5*time.Minute,
		)
		if err := agg.Register(src); err != nil {
			return err
		}
	}

	for _, sc := range cfg.Sources {
		src := aggregate.NewHTTPSource(
			nil,
			sc.ID,
			sc.Category,
			sc.Name,
			sc.URL,
			time.Duration(sc.RefreshSeconds)*time.Second,
			sc.FailureBudget,
		)
		if err := agg.Register(src); err != nil {
			return err
		}
	}

	return nil
}

// Run starts the refresh scheduler, the aggregation poller, and the HTTP
// server, then blocks until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.poller.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start(a.cfg.Server.Addr)
	}()
	a.logger.Info("pulsefeed started", "addr", a.cfg.Server.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return a.shutdown()
	}
}

func (a *Application) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.poller.Stop()
	if err := a.scheduler.Stop(ctx); err != nil {
		a.logger.Warn("scheduler shutdown", "error", err)
	}
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("database close", "error", err)
	}

	a.logger.Info("pulsefeed stopped")
	return nil
}
