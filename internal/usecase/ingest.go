package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"pulsefeed/internal/domain"
	"pulsefeed/internal/health"
	"pulsefeed/internal/ports"
)

// IngestorDeps wires all driven adapters into the ingestion pipeline.
type IngestorDeps struct {
	Feeds    ports.FeedRepository
	Content  ports.ContentRepository
	Logs     ports.FetchLogRepository
	Fetcher  ports.FeedFetcher
	Notifier ports.Notifier
	Logger   *slog.Logger

	// MaxItemsPerFeed bounds how many items a single parse considers.
	MaxItemsPerFeed int
	// Concurrency bounds how many feeds refresh at once.
	Concurrency int
}

// Ingestor implements the server-side ingestion workflow:
// pull feed, normalize, dedup-insert, update health, log the attempt.
type Ingestor struct {
	feeds       ports.FeedRepository
	content     ports.ContentRepository
	logs        ports.FetchLogRepository
	fetcher     ports.FeedFetcher
	notifier    ports.Notifier
	logger      *slog.Logger
	maxItems    int
	concurrency int
	now         func() time.Time
}

// IngestResult summarizes one parse+normalize+store cycle.
type IngestResult struct {
	Success    bool
	ItemsFound int
	NewItems   int
	Err        string
}

// NewIngestor constructs the orchestration component.
func NewIngestor(deps IngestorDeps) *Ingestor {
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Ingestor{
		feeds:       deps.Feeds,
		content:     deps.Content,
		logs:        deps.Logs,
		fetcher:     deps.Fetcher,
		notifier:    deps.Notifier,
		logger:      deps.Logger,
		maxItems:    deps.MaxItemsPerFeed,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// IngestFeed runs one cycle for the given feed. Transport and parse failures
// come back inside the result; only infrastructure errors (unknown feed,
// store outage) are returned as errors.
func (i *Ingestor) IngestFeed(ctx context.Context, feedID string) (IngestResult, error) {
	feed, err := i.feeds.GetFeed(ctx, feedID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("load feed %s: %w", feedID, err)
	}

	parsed := i.fetcher.Fetch(ctx, *feed, i.maxItems)
	now := i.now()

	if !parsed.Success {
		updated := health.ApplyFailure(*feed, now)
		if err := i.feeds.UpdateFeedHealth(ctx, updated); err != nil {
			return IngestResult{}, fmt.Errorf("update feed health: %w", err)
		}
		i.appendLog(ctx, domain.FetchLog{
			FeedID:       feed.ID,
			FetchedAt:    now,
			Success:      false,
			ResponseTime: parsed.ResponseTime,
			ErrorMessage: parsed.ErrorMessage,
			StatusCode:   parsed.StatusCode,
		})
		i.warn("feed fetch failed", "feed", feed.URL, "error", parsed.ErrorMessage)
		return IngestResult{ItemsFound: parsed.ItemsFound, Err: parsed.ErrorMessage}, nil
	}

	newItems := 0
	for idx := range parsed.Articles {
		stored, err := i.content.CreateArticle(ctx, &parsed.Articles[idx])
		if err != nil {
			return IngestResult{}, fmt.Errorf("store article: %w", err)
		}
		if stored == nil {
			continue // duplicate hash, not a failure
		}
		newItems++
		i.notifyBreaking(ctx, *stored)
	}
	for idx := range parsed.Videos {
		stored, err := i.content.CreateVideo(ctx, &parsed.Videos[idx])
		if err != nil {
			return IngestResult{}, fmt.Errorf("store video: %w", err)
		}
		if stored != nil {
			newItems++
		}
	}

	updated := health.ApplySuccess(*feed, now, parsed.ResponseTime)
	if err := i.feeds.UpdateFeedHealth(ctx, updated); err != nil {
		return IngestResult{}, fmt.Errorf("update feed health: %w", err)
	}

	i.appendLog(ctx, domain.FetchLog{
		FeedID:       feed.ID,
		FetchedAt:    now,
		Success:      true,
		ResponseTime: parsed.ResponseTime,
		ItemsFound:   parsed.ItemsFound,
		NewItems:     newItems,
		StatusCode:   parsed.StatusCode,
	})

	i.debug("feed ingested", "feed", feed.URL,
		"found", parsed.ItemsFound, "new", newItems)

	return IngestResult{
		Success:    true,
		ItemsFound: parsed.ItemsFound,
		NewItems:   newItems,
	}, nil
}

// RefreshDueFeeds ingests every active feed whose interval has elapsed.
// Feeds run concurrently with a bounded limit; one feed's failure never
// stops the others.
func (i *Ingestor) RefreshDueFeeds(ctx context.Context) error {
	feeds, err := i.feeds.ListActiveFeeds(ctx)
	if err != nil {
		return fmt.Errorf("list active feeds: %w", err)
	}

	now := i.now()
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(i.concurrency)

	due := 0
	for _, feed := range feeds {
		if !health.IsDueForRefresh(feed, now) {
			continue
		}
		due++
		feedID := feed.ID
		group.Go(func() error {
			if _, err := i.IngestFeed(groupCtx, feedID); err != nil {
				i.warn("ingest failed", "feed", feedID, "error", err)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return fmt.Errorf("refresh due feeds: %w", err)
	}

	i.debug("refresh cycle complete", "active", len(feeds), "due", due)
	return nil
}

// PruneOlderThan drops non-archived content past the retention horizon.
func (i *Ingestor) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	removed, err := i.content.DeleteOlderThan(ctx, days)
	if err != nil {
		return 0, fmt.Errorf("prune content: %w", err)
	}
	if removed > 0 {
		i.debug("retention prune", "removed", removed, "days", days)
	}
	return removed, nil
}

func (i *Ingestor) notifyBreaking(ctx context.Context, article domain.CanonicalArticle) {
	if i.notifier == nil || !article.IsBreaking {
		return
	}
	if err := i.notifier.NotifyBreaking(ctx, article); err != nil {
		i.warn("breaking notification failed", "article", article.Title, "error", err)
	}
}

func (i *Ingestor) appendLog(ctx context.Context, entry domain.FetchLog) {
	if i.logs == nil {
		return
	}
	if err := i.logs.AppendFetchLog(ctx, entry); err != nil {
		i.warn("append fetch log failed", "feed", entry.FeedID, "error", err)
	}
}

func (i *Ingestor) debug(msg string, args ...any) {
	if i.logger != nil {
		i.logger.Debug(msg, args...)
	}
}

func (i *Ingestor) warn(msg string, args ...any) {
	if i.logger != nil {
		i.logger.Warn(msg, args...)
	}
}
