// Package rest exposes the ingestion store and the aggregation cache over
// HTTP: feed management, paginated content reads, category snapshots, forced
// refreshes, and a websocket stream of category updates.
package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"pulsefeed/internal/aggregate"
	"pulsefeed/internal/domain"
	"pulsefeed/internal/ports"
	"pulsefeed/internal/usecase"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// ServerDeps carries everything the HTTP layer needs.
type ServerDeps struct {
	Feeds      ports.FeedRepository
	Content    ports.ContentRepository
	Ingestor   *usecase.Ingestor
	Aggregator *aggregate.Aggregator
	Poller     *aggregate.Poller
	Logger     *slog.Logger
}

// Server is the echo-based HTTP surface.
type Server struct {
	echo     *echo.Echo
	deps     ServerDeps
	upgrader websocket.Upgrader
}

// NewServer builds the router with all routes registered.
func NewServer(deps ServerDeps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo: e,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	v1 := s.echo.Group("/v1")

	v1.GET("/health", s.healthz)

	v1.POST("/feeds", s.createFeed)
	v1.GET("/feeds", s.listFeeds)
	v1.POST("/feeds/:id/ingest", s.ingestFeed)

	v1.GET("/articles", s.listArticles)
	v1.GET("/videos", s.listVideos)

	v1.GET("/categories/:category/items", s.categoryItems)
	v1.POST("/categories/:category/refresh", s.refreshCategory)
	v1.POST("/refresh", s.refreshAll)
	v1.GET("/categories/:category/stream", s.streamCategory)
	v1.GET("/sources/status", s.sourcesStatus)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) healthz(c echo.Context) error {
	ctx := c.Request().Context()
	articles, err := s.deps.Content.CountArticles(ctx)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "store unavailable"})
	}
	videos, err := s.deps.Content.CountVideos(ctx)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "store unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"articles": articles,
		"videos":   videos,
	})
}

type createFeedRequest struct {
	Name                 string `json:"name"`
	URL                  string `json:"url"`
	Kind                 string `json:"kind"`
	Category             string `json:"category"`
	FetchIntervalMinutes int    `json:"fetchIntervalMinutes"`
}

type feedResponse struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	URL                  string     `json:"url"`
	Kind                 string     `json:"kind"`
	Category             string     `json:"category,omitempty"`
	IsActive             bool       `json:"isActive"`
	FetchIntervalMinutes int        `json:"fetchIntervalMinutes"`
	FailureCount         int        `json:"failureCount"`
	AvgResponseMs        int64      `json:"avgResponseMs"`
	HealthScore          int        `json:"healthScore"`
	LastFetchedAt        *time.Time `json:"lastFetchedAt,omitempty"`
	LastSuccessAt        *time.Time `json:"lastSuccessAt,omitempty"`
}

func toFeedResponse(feed domain.FeedDescriptor) feedResponse {
	resp := feedResponse{
		ID:                   feed.ID,
		Name:                 feed.Name,
		URL:                  feed.URL,
		Kind:                 string(feed.Kind),
		Category:             feed.Category,
		IsActive:             feed.IsActive,
		FetchIntervalMinutes: int(feed.FetchInterval / time.Minute),
		FailureCount:         feed.FailureCount,
		AvgResponseMs:        feed.AvgResponseTime.Milliseconds(),
		HealthScore:          feed.HealthScore,
	}
	if !feed.LastFetchedAt.IsZero() {
		t := feed.LastFetchedAt
		resp.LastFetchedAt = &t
	}
	if !feed.LastSuccessAt.IsZero() {
		t := feed.LastSuccessAt
		resp.LastSuccessAt = &t
	}
	return resp
}

func (s *Server) createFeed(c echo.Context) error {
	var req createFeedRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid payload"})
	}
	if req.URL == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "url is required"})
	}
	if req.Name == "" {
		req.Name = req.URL
	}
	if req.Kind == "" {
		req.Kind = string(domain.FeedKindNews)
	}
	if req.FetchIntervalMinutes <= 0 {
		req.FetchIntervalMinutes = 30
	}

	feed := domain.FeedDescriptor{
		ID:            uuid.NewString(),
		Name:          req.Name,
		URL:           req.URL,
		Kind:          domain.FeedKind(req.Kind),
		Category:      req.Category,
		IsActive:      true,
		FetchInterval: time.Duration(req.FetchIntervalMinutes) * time.Minute,
		HealthScore:   100,
	}

	if err := s.deps.Feeds.CreateFeed(c.Request().Context(), &feed); err != nil {
		s.warn("create feed failed", "url", req.URL, "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "create feed failed"})
	}

	return c.JSON(http.StatusCreated, toFeedResponse(feed))
}

func (s *Server) listFeeds(c echo.Context) error {
	feeds, err := s.deps.Feeds.ListFeeds(c.Request().Context())
	if err != nil {
		s.warn("list feeds failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "list feeds failed"})
	}

	out := make([]feedResponse, 0, len(feeds))
	for _, feed := range feeds {
		out = append(out, toFeedResponse(feed))
	}
	return c.JSON(http.StatusOK, map[string]any{"feeds": out, "total": len(out)})
}

func (s *Server) ingestFeed(c echo.Context) error {
	result, err := s.deps.Ingestor.IngestFeed(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ports.ErrFeedNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "feed not found"})
		}
		s.warn("manual ingest failed", "feed", c.Param("id"), "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "ingest failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":    result.Success,
		"itemsFound": result.ItemsFound,
		"newItems":   result.NewItems,
		"error":      result.Err,
	})
}

func contentFilters(c echo.Context) (ports.ContentFilters, int, int) {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return ports.ContentFilters{
		Category: c.QueryParam("category"),
		Source:   c.QueryParam("source"),
		Status:   c.QueryParam("status"),
		Query:    c.QueryParam("q"),
	}, page, limit
}

type articleResponse struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Author      string    `json:"author,omitempty"`
	SourceName  string    `json:"sourceName"`
	SourceURL   string    `json:"sourceUrl"`
	PublishedAt time.Time `json:"publishedAt"`
	Category    string    `json:"category"`
	Tags        []string  `json:"tags,omitempty"`
	IsBreaking  bool      `json:"isBreaking"`
	ReadTime    string    `json:"readTime"`
	Language    string    `json:"language"`
	ImageURL    string    `json:"imageUrl,omitempty"`
}

func (s *Server) listArticles(c echo.Context) error {
	filters, page, limit := contentFilters(c)
	articles, total, err := s.deps.Content.ListArticles(c.Request().Context(), filters, page, limit)
	if err != nil {
		s.warn("list articles failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "list articles failed"})
	}

	out := make([]articleResponse, 0, len(articles))
	for _, a := range articles {
		out = append(out, articleResponse{
			ID:          a.ID,
			Title:       a.Title,
			Summary:     a.Summary,
			Author:      a.Author,
			SourceName:  a.SourceName,
			SourceURL:   a.SourceURL,
			PublishedAt: a.PublishedAt,
			Category:    a.Category,
			Tags:        a.Tags,
			IsBreaking:  a.IsBreaking,
			ReadTime:    a.ReadTime,
			Language:    a.Language,
			ImageURL:    a.ImageURL,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"articles": out,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

type videoResponse struct {
	ID           int64     `json:"id"`
	VideoID      string    `json:"videoId"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ChannelName  string    `json:"channelName"`
	SourceURL    string    `json:"sourceUrl"`
	PublishedAt  time.Time `json:"publishedAt"`
	Category     string    `json:"category"`
	Duration     string    `json:"duration,omitempty"`
	ViewCount    int64     `json:"viewCount"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
}

func (s *Server) listVideos(c echo.Context) error {
	filters, page, limit := contentFilters(c)
	videos, total, err := s.deps.Content.ListVideos(c.Request().Context(), filters, page, limit)
	if err != nil {
		s.warn("list videos failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "list videos failed"})
	}

	out := make([]videoResponse, 0, len(videos))
	for _, v := range videos {
		out = append(out, videoResponse{
			ID:           v.ID,
			VideoID:      v.VideoID,
			Title:        v.Title,
			Description:  v.Description,
			ChannelName:  v.ChannelName,
			SourceURL:    v.SourceURL,
			PublishedAt:  v.PublishedAt,
			Category:     v.Category,
			Duration:     v.Duration,
			ViewCount:    v.ViewCount,
			ThumbnailURL: v.ThumbnailURL,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"videos": out,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

func (s *Server) categoryItems(c echo.Context) error {
	category := c.Param("category")
	items := s.deps.Aggregator.GetCategoryData(category)
	return c.JSON(http.StatusOK, map[string]any{
		"category": category,
		"items":    items,
		"count":    len(items),
	})
}

func (s *Server) refreshCategory(c echo.Context) error {
	category := c.Param("category")
	s.deps.Poller.ForceRefresh(c.Request().Context(), category)
	items := s.deps.Aggregator.GetCategoryData(category)
	return c.JSON(http.StatusOK, map[string]any{
		"category": category,
		"items":    items,
		"count":    len(items),
	})
}

func (s *Server) refreshAll(c echo.Context) error {
	s.deps.Poller.ForceRefresh(c.Request().Context(), "")
	return c.JSON(http.StatusOK, map[string]any{"status": "refreshed"})
}

func (s *Server) sourcesStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Aggregator.Status())
}

// streamCategory upgrades to a websocket and pushes the merged category
// snapshot on every poll completion. Slow clients get snapshots dropped
// rather than blocking the polling path.
func (s *Server) streamCategory(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil // upgrader already wrote the error response
	}
	defer conn.Close()

	category := c.Param("category")
	updates := make(chan []aggregate.Item, 8)
	unsubscribe := s.deps.Aggregator.Subscribe(category, func(items []aggregate.Item) {
		select {
		case updates <- items:
		default:
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case items := <-updates:
			payload := map[string]any{
				"category": category,
				"items":    items,
				"count":    len(items),
			}
			if err := conn.WriteJSON(payload); err != nil {
				return nil
			}
		case <-closed:
			return nil
		}
	}
}

func (s *Server) warn(msg string, args ...any) {
	if s.deps.Logger != nil {
		s.deps.Logger.Warn(msg, args...)
	}
}
