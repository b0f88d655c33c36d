package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pulsefeed/internal/domain"
	"pulsefeed/internal/ports"
)

// NewStoreSource exposes the ingestion store as an aggregation source: the
// latest active articles of one content category, mapped to provider items.
func NewStoreSource(repo ports.ContentRepository, id, category, name, contentCategory string, limit int, interval time.Duration) Source {
	if limit <= 0 {
		limit = 50
	}
	return Source{
		ID:              id,
		Category:        category,
		Name:            name,
		RefreshInterval: interval,
		Fetch: func(ctx context.Context) ([]Item, error) {
			articles, _, err := repo.ListArticles(ctx, ports.ContentFilters{
				Category: contentCategory,
				Status:   string(domain.StatusActive),
			}, 1, limit)
			if err != nil {
				return nil, fmt.Errorf("list articles: %w", err)
			}

			items := make([]Item, 0, len(articles))
			for _, a := range articles {
				items = append(items, Item{
					"id":          a.Hash,
					"title":       a.Title,
					"summary":     a.Summary,
					"url":         a.SourceURL,
					"source":      a.SourceName,
					"category":    a.Category,
					"publishedAt": a.PublishedAt.Format(time.RFC3339),
					"isBreaking":  a.IsBreaking,
				})
			}
			return items, nil
		},
	}
}

// NewHTTPSource polls a JSON endpoint returning an array of objects.
func NewHTTPSource(client *http.Client, id, category, name, url string, interval time.Duration, budget int) Source {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return Source{
		ID:              id,
		Category:        category,
		Name:            name,
		RefreshInterval: interval,
		FailureBudget:   budget,
		Fetch: func(ctx context.Context) ([]Item, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, fmt.Errorf("new request: %w", err)
			}
			req.Header.Set("Accept", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("do request: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("unexpected status %s", resp.Status)
			}

			var items []Item
			if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
			return items, nil
		},
	}
}
