package domain

import "time"

// FeedKind classifies a registered feed.
type FeedKind string

const (
	FeedKindNews     FeedKind = "news"
	FeedKindBlog     FeedKind = "blog"
	FeedKindResearch FeedKind = "research"
	FeedKindVideo    FeedKind = "video"
)

// FeedDescriptor describes one registered upstream feed together with its
// health bookkeeping. HealthScore stays clamped to [0, 100]: -20 per failure,
// +10 per success.
type FeedDescriptor struct {
	ID              string
	Name            string
	URL             string
	Kind            FeedKind
	Category        string
	IsActive        bool
	FetchInterval   time.Duration
	FailureCount    int
	AvgResponseTime time.Duration
	HealthScore     int
	LastFetchedAt   time.Time
	LastSuccessAt   time.Time
}

// FetchLog records one fetch attempt. Rows are append-only.
type FetchLog struct {
	FeedID       string
	FetchedAt    time.Time
	Success      bool
	ResponseTime time.Duration
	ItemsFound   int
	NewItems     int
	ErrorMessage string
	StatusCode   int
}

// ParseResult is what a feed fetch produces: normalized records plus timing
// and error metadata. Transport or parse failures are reported here, never
// raised to the caller.
type ParseResult struct {
	Success      bool
	Articles     []CanonicalArticle
	Videos       []CanonicalVideo
	ResponseTime time.Duration
	ItemsFound   int
	ErrorMessage string
	StatusCode   int
}
