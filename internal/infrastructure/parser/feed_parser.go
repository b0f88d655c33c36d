package parser

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"pulsefeed/internal/domain"
	"pulsefeed/internal/normalize"
	"pulsefeed/internal/ports"
)

const (
	userAgent    = "PulseFeed/1.0 (+https://github.com/pulsefeed)"
	acceptHeader = "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8"
)

// FeedParser fetches a syndication feed and normalizes every item. All
// transport and parse failures surface inside the ParseResult.
type FeedParser struct {
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

var _ ports.FeedFetcher = (*FeedParser)(nil)

// NewFeedParser wires an HTTP client; a nil client gets a bounded default.
func NewFeedParser(client *http.Client, logger *slog.Logger) *FeedParser {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &FeedParser{client: client, logger: logger, now: time.Now}
}

// Fetch pulls the feed URL and returns normalized records plus timing
// metadata. Items beyond maxItems are ignored; the feed's own order is
// trusted. Unparseable items are skipped silently.
func (p *FeedParser) Fetch(ctx context.Context, feed domain.FeedDescriptor, maxItems int) domain.ParseResult {
	start := p.now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return p.failure(start, 0, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := p.client.Do(req)
	if err != nil {
		return p.failure(start, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.ParseResult{
			Success:      false,
			ResponseTime: p.now().Sub(start),
			ErrorMessage: "unexpected status " + resp.Status,
			StatusCode:   resp.StatusCode,
		}
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return p.failure(start, resp.StatusCode, err)
	}

	items := parsed.Items
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}

	result := domain.ParseResult{
		Success:      true,
		ResponseTime: p.now().Sub(start),
		ItemsFound:   len(items),
		StatusCode:   resp.StatusCode,
	}

	fetchedAt := p.now()
	for _, item := range items {
		raw := toRawItem(item, parsed)
		if feed.Kind == domain.FeedKindVideo {
			if video := normalize.NormalizeVideo(raw, feed, fetchedAt); video != nil {
				result.Videos = append(result.Videos, *video)
			}
			continue
		}
		if article := normalize.NormalizeArticle(raw, feed, fetchedAt); article != nil {
			result.Articles = append(result.Articles, *article)
		}
	}

	p.debug("feed fetched", "feed", feed.URL,
		"items", result.ItemsFound,
		"articles", len(result.Articles),
		"videos", len(result.Videos),
		"elapsed", result.ResponseTime)

	return result
}

func (p *FeedParser) failure(start time.Time, statusCode int, err error) domain.ParseResult {
	return domain.ParseResult{
		Success:      false,
		ResponseTime: p.now().Sub(start),
		ErrorMessage: err.Error(),
		StatusCode:   statusCode,
	}
}

// toRawItem maps a gofeed item onto the normalizer's provider boundary.
func toRawItem(item *gofeed.Item, parsed *gofeed.Feed) normalize.RawItem {
	raw := normalize.RawItem{
		Title:       item.Title,
		Link:        item.Link,
		Content:     item.Content,
		Description: item.Description,
		Categories:  item.Categories,
		Language:    parsed.Language,
	}

	if item.PublishedParsed != nil {
		raw.Published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		raw.Published = *item.UpdatedParsed
	}

	if item.Author != nil {
		raw.Author = item.Author.Name
	}
	if item.Image != nil {
		raw.ImageURL = item.Image.URL
	}

	if yt, ok := item.Extensions["yt"]; ok {
		if ids := yt["videoId"]; len(ids) > 0 {
			raw.VideoID = ids[0].Value
		}
		if ids := yt["channelId"]; len(ids) > 0 {
			raw.ChannelID = ids[0].Value
		}
	}
	if media, ok := item.Extensions["media"]; ok {
		for _, group := range media["group"] {
			if descs := group.Children["description"]; len(descs) > 0 {
				raw.MediaDescription = descs[0].Value
			}
			if thumbs := group.Children["thumbnail"]; len(thumbs) > 0 && raw.ImageURL == "" {
				raw.ImageURL = thumbs[0].Attrs["url"]
			}
		}
	}
	if raw.ChannelID != "" || raw.VideoID != "" {
		raw.ChannelName = parsed.Title
	}

	return raw
}

func (p *FeedParser) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
