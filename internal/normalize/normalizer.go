package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"pulsefeed/internal/domain"
)

const (
	maxTags          = 10
	wordsPerMinute   = 200
	summaryMaxRunes  = 300
	videoPlaceholder = "No description available"
)

// RawItem is the provider-shape boundary: the parser maps each feed format
// into this struct, and nothing untyped leaks past it.
type RawItem struct {
	Title            string
	Link             string
	Author           string
	Published        time.Time
	Categories       []string
	ImageURL         string
	Language         string
	Content          string
	PlainContent     string
	Snippet          string
	Summary          string
	Description      string
	MediaDescription string
	VideoID          string
	ChannelID        string
	ChannelName      string
	Duration         string
}

var breakingKeywords = []string{"breaking", "urgent", "alert", "just in", "live", "developing"}

var supportedLanguages = map[string]bool{
	"en": true, "es": true, "fr": true, "de": true,
	"ja": true, "zh": true, "pt": true,
}

// NormalizeArticle converts one raw feed item into a canonical article.
// Items without a title or link are unparseable and yield nil, not an error.
func NormalizeArticle(item RawItem, feed domain.FeedDescriptor, now time.Time) *domain.CanonicalArticle {
	title := strings.TrimSpace(item.Title)
	link := strings.TrimSpace(item.Link)
	if title == "" || link == "" {
		return nil
	}

	published := item.Published
	if published.IsZero() {
		published = now
	}

	text := extractText(item)
	tags := normalizeTags(item.Categories)

	return &domain.CanonicalArticle{
		Hash:        contentHash(link, title, item.Published),
		Title:       title,
		Summary:     summarize(text),
		Content:     text,
		Author:      strings.TrimSpace(item.Author),
		SourceName:  feed.Name,
		SourceURL:   link,
		FeedURL:     feed.URL,
		PublishedAt: published.UTC(),
		FetchedAt:   now.UTC(),
		Category:    categorizeArticle(title, text, tags),
		Tags:        tags,
		IsBreaking:  isBreaking(title, tags),
		ReadTime:    readTime(text),
		Status:      domain.StatusActive,
		Language:    normalizeLanguage(item.Language),
		ImageURL:    item.ImageURL,
	}
}

// NormalizeVideo converts one raw feed item into a canonical video, keyed on
// the platform video ID. Engagement counters stay zero here.
func NormalizeVideo(item RawItem, feed domain.FeedDescriptor, now time.Time) *domain.CanonicalVideo {
	title := strings.TrimSpace(item.Title)
	videoID := strings.TrimSpace(item.VideoID)
	if title == "" || videoID == "" {
		return nil
	}

	published := item.Published
	if published.IsZero() {
		published = now
	}

	description := extractText(item)
	if description == "" {
		description = videoPlaceholder
	}

	channelName := strings.TrimSpace(item.ChannelName)
	if channelName == "" {
		channelName = feed.Name
	}

	return &domain.CanonicalVideo{
		Hash:         contentHash(videoID, title, item.Published),
		VideoID:      videoID,
		Title:        title,
		Description:  description,
		ChannelName:  channelName,
		ChannelID:    item.ChannelID,
		SourceURL:    strings.TrimSpace(item.Link),
		FeedURL:      feed.URL,
		PublishedAt:  published.UTC(),
		FetchedAt:    now.UTC(),
		Category:     categorizeVideo(title, description, channelName),
		Tags:         normalizeTags(item.Categories),
		Duration:     item.Duration,
		Status:       domain.StatusActive,
		Language:     normalizeLanguage(item.Language),
		ThumbnailURL: item.ImageURL,
	}
}

// contentHash derives the dedup key from the stable identifying fields. Two
// items with identical key parts are the same content forever. A missing
// publish date hashes as the empty string so the key stays stable across
// fetch cycles; the fetched-at fallback applies only to the stored record.
func contentHash(key, title string, published time.Time) string {
	date := ""
	if !published.IsZero() {
		date = published.UTC().Format(time.RFC3339)
	}
	input := key + "|" + title + "|" + date
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// extractText walks the provider content fields richest-first and strips any
// markup from the winner.
func extractText(item RawItem) string {
	for _, candidate := range []string{
		item.Content,
		item.PlainContent,
		item.Snippet,
		item.Summary,
		item.Description,
		item.MediaDescription,
	} {
		if strings.TrimSpace(candidate) != "" {
			return stripHTML(candidate)
		}
	}
	return ""
}

func stripHTML(raw string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func summarize(text string) string {
	runes := []rune(text)
	if len(runes) <= summaryMaxRunes {
		return text
	}
	return strings.TrimSpace(string(runes[:summaryMaxRunes])) + "..."
}

func isBreaking(title string, tags []string) bool {
	haystack := strings.ToLower(title + " " + strings.Join(tags, " "))
	for _, keyword := range breakingKeywords {
		if strings.Contains(haystack, keyword) {
			return true
		}
	}
	return false
}

func readTime(text string) string {
	words := len(strings.Fields(text))
	if words == 0 {
		return "< 1 min"
	}
	minutes := int(math.Ceil(float64(words) / wordsPerMinute))
	if minutes <= 1 {
		return "1 min"
	}
	return fmt.Sprintf("%d min", minutes)
}

func normalizeTags(categories []string) []string {
	seen := make(map[string]bool, len(categories))
	tags := make([]string, 0, len(categories))
	for _, category := range categories {
		tag := strings.ToLower(strings.TrimSpace(category))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

// normalizeLanguage collapses region-qualified codes (en-US, pt_BR) down to
// the supported base set; anything unknown becomes English.
func normalizeLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if idx := strings.IndexAny(code, "-_"); idx > 0 {
		code = code[:idx]
	}
	if supportedLanguages[code] {
		return code
	}
	return "en"
}
