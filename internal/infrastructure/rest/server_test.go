package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pulsefeed/internal/aggregate"
	"pulsefeed/internal/domain"
	"pulsefeed/internal/ports"
	"pulsefeed/internal/usecase"
)

type fakeFeedRepo struct {
	feeds map[string]domain.FeedDescriptor
}

func newFakeFeedRepo() *fakeFeedRepo {
	return &fakeFeedRepo{feeds: map[string]domain.FeedDescriptor{}}
}

func (f *fakeFeedRepo) CreateFeed(_ context.Context, feed *domain.FeedDescriptor) error {
	f.feeds[feed.ID] = *feed
	return nil
}

func (f *fakeFeedRepo) GetFeed(_ context.Context, id string) (*domain.FeedDescriptor, error) {
	feed, ok := f.feeds[id]
	if !ok {
		return nil, ports.ErrFeedNotFound
	}
	return &feed, nil
}

func (f *fakeFeedRepo) ListFeeds(_ context.Context) ([]domain.FeedDescriptor, error) {
	var out []domain.FeedDescriptor
	for _, feed := range f.feeds {
		out = append(out, feed)
	}
	return out, nil
}

func (f *fakeFeedRepo) ListActiveFeeds(ctx context.Context) ([]domain.FeedDescriptor, error) {
	return f.ListFeeds(ctx)
}

func (f *fakeFeedRepo) UpdateFeedHealth(_ context.Context, feed domain.FeedDescriptor) error {
	f.feeds[feed.ID] = feed
	return nil
}

type fakeContentRepo struct {
	articles []domain.CanonicalArticle
}

func (f *fakeContentRepo) CreateArticle(_ context.Context, article *domain.CanonicalArticle) (*domain.CanonicalArticle, error) {
	f.articles = append(f.articles, *article)
	return article, nil
}

func (f *fakeContentRepo) CreateVideo(_ context.Context, video *domain.CanonicalVideo) (*domain.CanonicalVideo, error) {
	return video, nil
}

func (f *fakeContentRepo) ListArticles(_ context.Context, _ ports.ContentFilters, _, _ int) ([]domain.CanonicalArticle, int, error) {
	return f.articles, len(f.articles), nil
}

func (f *fakeContentRepo) ListVideos(_ context.Context, _ ports.ContentFilters, _, _ int) ([]domain.CanonicalVideo, int, error) {
	return nil, 0, nil
}

func (f *fakeContentRepo) CountArticles(_ context.Context) (int, error) {
	return len(f.articles), nil
}

func (f *fakeContentRepo) CountVideos(_ context.Context) (int, error) {
	return 0, nil
}

func (f *fakeContentRepo) DeleteOlderThan(_ context.Context, _ int) (int64, error) {
	return 0, nil
}

type staticFetcher struct{}

func (staticFetcher) Fetch(_ context.Context, _ domain.FeedDescriptor, _ int) domain.ParseResult {
	return domain.ParseResult{Success: true}
}

func testServer(t *testing.T) (*Server, *fakeFeedRepo, *aggregate.Aggregator, *aggregate.Poller) {
	t.Helper()

	feeds := newFakeFeedRepo()
	content := &fakeContentRepo{}
	agg := aggregate.NewAggregator(nil)
	poller := aggregate.NewPoller(agg, nil, aggregate.PollerOptions{
		StaggerMax:   time.Millisecond,
		MinSpacing:   time.Millisecond,
		FetchTimeout: time.Second,
	})
	ingestor := usecase.NewIngestor(usecase.IngestorDeps{
		Feeds:   feeds,
		Content: content,
		Fetcher: staticFetcher{},
	})

	return NewServer(ServerDeps{
		Feeds:      feeds,
		Content:    content,
		Ingestor:   ingestor,
		Aggregator: agg,
		Poller:     poller,
	}), feeds, agg, poller
}

func TestCreateFeedRequiresURL(t *testing.T) {
	t.Parallel()

	server, _, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/feeds", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateFeedAppliesDefaults(t *testing.T) {
	t.Parallel()

	server, feeds, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/feeds",
		strings.NewReader(`{"url":"https://example.com/rss.xml"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp feedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID == "" {
		t.Fatal("expected generated feed id")
	}
	if resp.Kind != "news" || resp.FetchIntervalMinutes != 30 || resp.HealthScore != 100 {
		t.Fatalf("unexpected defaults: %+v", resp)
	}
	if _, ok := feeds.feeds[resp.ID]; !ok {
		t.Fatal("feed not persisted")
	}
}

func TestIngestUnknownFeedReturnsNotFound(t *testing.T) {
	t.Parallel()

	server, _, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/feeds/no-such-feed/ingest", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestListFeedsReportsHealth(t *testing.T) {
	t.Parallel()

	server, feeds, _, _ := testServer(t)
	feeds.feeds["f1"] = domain.FeedDescriptor{
		ID:              "f1",
		Name:            "Example",
		URL:             "https://example.com/rss.xml",
		Kind:            domain.FeedKindNews,
		IsActive:        true,
		FetchInterval:   30 * time.Minute,
		HealthScore:     70,
		FailureCount:    2,
		AvgResponseTime: 340 * time.Millisecond,
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/feeds", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Feeds []feedResponse `json:"feeds"`
		Total int            `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 1 || len(resp.Feeds) != 1 {
		t.Fatalf("expected one feed, got %+v", resp)
	}
	feed := resp.Feeds[0]
	if feed.HealthScore != 70 || feed.FailureCount != 2 || feed.AvgResponseMs != 340 {
		t.Fatalf("health fields lost in mapping: %+v", feed)
	}
}

func TestCategoryItemsReturnsMergedSnapshot(t *testing.T) {
	t.Parallel()

	server, _, agg, _ := testServer(t)
	if err := agg.Register(aggregate.Source{
		ID:              "src",
		Category:        "news",
		RefreshInterval: time.Minute,
		Fetch:           func(context.Context) ([]aggregate.Item, error) { return nil, nil },
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	agg.RecordSuccess("src", []aggregate.Item{{"id": "a"}, {"id": "b"}})

	req := httptest.NewRequest(http.MethodGet, "/v1/categories/news/items", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Category string           `json:"category"`
		Items    []aggregate.Item `json:"items"`
		Count    int              `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Category != "news" || resp.Count != 2 {
		t.Fatalf("unexpected snapshot: %+v", resp)
	}
}

func TestRefreshCategoryPollsSources(t *testing.T) {
	t.Parallel()

	server, _, agg, _ := testServer(t)

	var polled atomic.Int32
	if err := agg.Register(aggregate.Source{
		ID:              "src",
		Category:        "news",
		RefreshInterval: time.Minute,
		Fetch: func(context.Context) ([]aggregate.Item, error) {
			polled.Add(1)
			return []aggregate.Item{{"id": "a"}}, nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/categories/news/refresh", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if polled.Load() != 1 {
		t.Fatalf("expected one forced poll, got %d", polled.Load())
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("expected refreshed data in response, got %+v", resp)
	}
}

func TestStreamCategoryPushesUpdates(t *testing.T) {
	t.Parallel()

	server, _, agg, _ := testServer(t)
	if err := agg.Register(aggregate.Source{
		ID:              "src",
		Category:        "news",
		RefreshInterval: time.Minute,
		Fetch:           func(context.Context) ([]aggregate.Item, error) { return nil, nil },
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/categories/news/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var first struct {
		Count int `json:"count"`
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if first.Count != 0 {
		t.Fatalf("expected empty initial snapshot, got %+v", first)
	}

	agg.RecordSuccess("src", []aggregate.Item{{"id": "a"}, {"id": "b"}})

	var update struct {
		Count int `json:"count"`
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if update.Count != 2 {
		t.Fatalf("expected pushed update with 2 items, got %+v", update)
	}
}
