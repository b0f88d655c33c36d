package ports

import (
	"context"
	"errors"
	"time"

	"pulsefeed/internal/domain"
)

// ErrFeedNotFound is returned by GetFeed for an unknown feed ID.
var ErrFeedNotFound = errors.New("feed not found")

// ContentFilters narrows paginated content reads. Empty fields are ignored.
type ContentFilters struct {
	Category string
	Source   string
	Status   string
	Query    string
}

// ContentRepository persists canonical records with hash-based dedup.
// Create methods return (nil, nil) when the hash already exists; the
// duplicate path is never an error.
type ContentRepository interface {
	CreateArticle(ctx context.Context, article *domain.CanonicalArticle) (*domain.CanonicalArticle, error)
	CreateVideo(ctx context.Context, video *domain.CanonicalVideo) (*domain.CanonicalVideo, error)
	ListArticles(ctx context.Context, filters ContentFilters, page, limit int) ([]domain.CanonicalArticle, int, error)
	ListVideos(ctx context.Context, filters ContentFilters, page, limit int) ([]domain.CanonicalVideo, int, error)
	CountArticles(ctx context.Context) (int, error)
	CountVideos(ctx context.Context) (int, error)
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

// FeedRepository owns feed descriptors and their health bookkeeping.
type FeedRepository interface {
	CreateFeed(ctx context.Context, feed *domain.FeedDescriptor) error
	GetFeed(ctx context.Context, id string) (*domain.FeedDescriptor, error)
	ListFeeds(ctx context.Context) ([]domain.FeedDescriptor, error)
	ListActiveFeeds(ctx context.Context) ([]domain.FeedDescriptor, error)
	UpdateFeedHealth(ctx context.Context, feed domain.FeedDescriptor) error
}

// FetchLogRepository appends per-attempt diagnostics rows.
type FetchLogRepository interface {
	AppendFetchLog(ctx context.Context, entry domain.FetchLog) error
}

// FeedFetcher pulls and normalizes one feed. Failures surface inside the
// result, never as a returned error.
type FeedFetcher interface {
	Fetch(ctx context.Context, feed domain.FeedDescriptor, maxItems int) domain.ParseResult
}

// Notifier pushes breaking items to an outbound channel (Telegram, etc.).
type Notifier interface {
	NotifyBreaking(ctx context.Context, article domain.CanonicalArticle) error
}

// Scheduler controls when the ingestion refresh cycle executes.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
