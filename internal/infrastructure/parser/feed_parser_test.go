package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pulsefeed/internal/domain"
)

const rssPayload = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>AI Weekly</title>
    <language>en-us</language>
    <item>
      <title>BREAKING: new model released</title>
      <link>https://example.org/posts/1</link>
      <description>A large release with plenty of detail.</description>
      <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
      <category>AI</category>
    </item>
    <item>
      <title>Second story</title>
      <link>https://example.org/posts/2</link>
      <description>Another one.</description>
      <pubDate>Mon, 01 Jan 2024 09:00:00 GMT</pubDate>
    </item>
    <item>
      <title></title>
      <link>https://example.org/posts/3</link>
    </item>
  </channel>
</rss>`

const videoPayload = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"
      xmlns:yt="http://www.youtube.com/xml/schemas/2015"
      xmlns:media="http://search.yahoo.com/mrss/">
  <title>AI Channel</title>
  <entry>
    <title>Model tutorial</title>
    <link rel="alternate" href="https://youtube.example/watch?v=abc123"/>
    <yt:videoId>abc123</yt:videoId>
    <yt:channelId>UC-test</yt:channelId>
    <media:group>
      <media:description>Step by step walkthrough.</media:description>
      <media:thumbnail url="https://img.example/abc123.jpg"/>
    </media:group>
    <published>2024-01-01T10:00:00Z</published>
  </entry>
</feed>`

func testFeed(url string, kind domain.FeedKind) domain.FeedDescriptor {
	return domain.FeedDescriptor{
		ID:   "feed-1",
		Name: "AI Weekly",
		URL:  url,
		Kind: kind,
	}
}

func TestFetchNormalizesArticles(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != userAgent {
			t.Errorf("unexpected user agent %q", got)
		}
		_, _ = w.Write([]byte(rssPayload))
	}))
	defer server.Close()

	p := NewFeedParser(server.Client(), nil)
	result := p.Fetch(context.Background(), testFeed(server.URL, domain.FeedKindNews), 0)

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.ErrorMessage)
	}
	if result.ItemsFound != 3 {
		t.Fatalf("expected 3 items found, got %d", result.ItemsFound)
	}
	if len(result.Articles) != 2 {
		t.Fatalf("expected 2 normalized articles, got %d", len(result.Articles))
	}
	if !result.Articles[0].IsBreaking {
		t.Fatal("expected first article flagged breaking")
	}
	if result.Articles[0].Language != "en" {
		t.Fatalf("expected language en, got %s", result.Articles[0].Language)
	}
}

func TestFetchHonorsMaxItems(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(rssPayload))
	}))
	defer server.Close()

	p := NewFeedParser(server.Client(), nil)
	result := p.Fetch(context.Background(), testFeed(server.URL, domain.FeedKindNews), 1)

	if result.ItemsFound != 1 {
		t.Fatalf("expected items bounded to 1, got %d", result.ItemsFound)
	}
	if len(result.Articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(result.Articles))
	}
}

func TestFetchVideoFeed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(videoPayload))
	}))
	defer server.Close()

	p := NewFeedParser(server.Client(), nil)
	result := p.Fetch(context.Background(), testFeed(server.URL, domain.FeedKindVideo), 0)

	if !result.Success {
		t.Fatalf("expected success, got %q", result.ErrorMessage)
	}
	if len(result.Videos) != 1 {
		t.Fatalf("expected 1 video, got %d", len(result.Videos))
	}
	video := result.Videos[0]
	if video.VideoID != "abc123" {
		t.Fatalf("unexpected video id %q", video.VideoID)
	}
	if video.Description != "Step by step walkthrough." {
		t.Fatalf("unexpected description %q", video.Description)
	}
	if video.ThumbnailURL != "https://img.example/abc123.jpg" {
		t.Fatalf("unexpected thumbnail %q", video.ThumbnailURL)
	}
	if video.Category != "Tutorial" {
		t.Fatalf("expected Tutorial category, got %q", video.Category)
	}
}

func TestFetchTransportFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewFeedParser(server.Client(), nil)
	result := p.Fetch(context.Background(), testFeed(server.URL, domain.FeedKindNews), 0)

	if result.Success {
		t.Fatal("expected failure result")
	}
	if result.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 recorded, got %d", result.StatusCode)
	}
	if result.ErrorMessage == "" {
		t.Fatal("expected an error message")
	}
}

func TestFetchMalformedFeed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not xml"))
	}))
	defer server.Close()

	p := NewFeedParser(server.Client(), nil)
	result := p.Fetch(context.Background(), testFeed(server.URL, domain.FeedKindNews), 0)

	if result.Success {
		t.Fatal("expected parse failure to be reported in the result")
	}
	if result.ResponseTime < 0 {
		t.Fatal("expected non-negative response time")
	}
}

func TestFetchUnreachableHost(t *testing.T) {
	t.Parallel()

	p := NewFeedParser(&http.Client{Timeout: 200 * time.Millisecond}, nil)
	result := p.Fetch(context.Background(), testFeed("http://127.0.0.1:1/feed.xml", domain.FeedKindNews), 0)

	if result.Success {
		t.Fatal("expected unreachable host to fail")
	}
	if result.ErrorMessage == "" {
		t.Fatal("expected error message for transport failure")
	}
}
