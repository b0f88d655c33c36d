package domain

import "time"

// ContentStatus tracks the lifecycle of an ingested record.
type ContentStatus string

const (
	StatusActive   ContentStatus = "active"
	StatusArchived ContentStatus = "archived"
	StatusHidden   ContentStatus = "hidden"
)

// CanonicalArticle is the normalized article shape stored after parsing,
// independent of the originating feed format. Records are immutable once
// created except for status, view counter, and category.
type CanonicalArticle struct {
	ID          int64
	Hash        string
	Title       string
	Summary     string
	Content     string
	Author      string
	SourceName  string
	SourceURL   string
	FeedURL     string
	PublishedAt time.Time
	FetchedAt   time.Time
	Category    string
	Tags        []string
	IsBreaking  bool
	ReadTime    string
	Status      ContentStatus
	ViewCount   int64
	Language    string
	ImageURL    string
}

// CanonicalVideo mirrors the article lifecycle but is keyed on the platform
// video ID extracted from the feed item. Engagement counters start at zero;
// the content platform fills them later, not the parser.
type CanonicalVideo struct {
	ID           int64
	Hash         string
	VideoID      string
	Title        string
	Description  string
	ChannelName  string
	ChannelID    string
	SourceURL    string
	FeedURL      string
	PublishedAt  time.Time
	FetchedAt    time.Time
	Category     string
	Tags         []string
	Duration     string
	ViewCount    int64
	LikeCount    int64
	CommentCount int64
	Status       ContentStatus
	Language     string
	ThumbnailURL string
}
