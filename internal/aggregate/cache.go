// Package aggregate implements the client-side aggregation pipeline: a
// registry of polled sources, a per-source TTL cache with merged category
// reads, and a pub/sub fan-out to dashboard subscribers.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

// Item is one raw provider record. Provider payloads stay opaque here; only
// the optional "id" field matters, for dedup.
type Item map[string]any

// FetchFunc pulls the current records for one source.
type FetchFunc func(ctx context.Context) ([]Item, error)

// Source declares one independently polled upstream.
type Source struct {
	ID              string
	Category        string
	Name            string
	RefreshInterval time.Duration
	FailureBudget   int
	Fetch           FetchFunc
}

// SourceStatus is the dashboard-facing view of one source's cache health.
type SourceStatus struct {
	Category    string    `json:"category"`
	Name        string    `json:"name"`
	LastUpdated time.Time `json:"lastUpdated"`
	IsStale     bool      `json:"isStale"`
	ErrorCount  int       `json:"errorCount"`
	CachedItems int       `json:"cachedItems"`
}

// cacheEntry is fresh while now-timestamp < ttl. Stale entries stay around
// but are excluded from category reads.
type cacheEntry struct {
	data      []Item
	timestamp time.Time
	ttl       time.Duration
}

// Aggregator owns the per-source cache and the subscriber fan-out. It is an
// explicitly constructed service: nothing here survives a restart.
type Aggregator struct {
	mu        sync.Mutex
	order     []string
	sources   map[string]Source
	entries   map[string]cacheEntry
	errCounts map[string]int
	subs      map[string]map[int]func([]Item)
	nextSub   int
	logger    *slog.Logger
	now       func() time.Time

	// dispatchMu serializes snapshot capture with delivery so subscribers
	// always see snapshots in cache order; mu alone only protects state.
	dispatchMu sync.Mutex
}

// NewAggregator builds an empty cache with no registered sources.
func NewAggregator(logger *slog.Logger) *Aggregator {
	return &Aggregator{
		sources:   map[string]Source{},
		entries:   map[string]cacheEntry{},
		errCounts: map[string]int{},
		subs:      map[string]map[int]func([]Item){},
		logger:    logger,
		now:       time.Now,
	}
}

// Register adds a source to the registry. Registration order determines
// merge order within a category.
func (a *Aggregator) Register(src Source) error {
	if src.ID == "" {
		return fmt.Errorf("source id is required")
	}
	if src.Fetch == nil {
		return fmt.Errorf("source %s: fetch function is required", src.ID)
	}
	if src.RefreshInterval <= 0 {
		src.RefreshInterval = 5 * time.Minute
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.sources[src.ID]; exists {
		return fmt.Errorf("source %s already registered", src.ID)
	}
	a.sources[src.ID] = src
	a.order = append(a.order, src.ID)
	return nil
}

// Sources returns the registered sources in registration order.
func (a *Aggregator) Sources() []Source {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Source, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.sources[id])
	}
	return out
}

// RecordSuccess caches a poll result with ttl equal to the source's refresh
// interval, resets the error count, and notifies category subscribers.
func (a *Aggregator) RecordSuccess(sourceID string, data []Item) {
	a.mu.Lock()
	src, ok := a.sources[sourceID]
	if !ok {
		a.mu.Unlock()
		return
	}
	a.entries[sourceID] = cacheEntry{
		data:      data,
		timestamp: a.now(),
		ttl:       src.RefreshInterval,
	}
	a.errCounts[sourceID] = 0
	a.mu.Unlock()

	a.notifyCategory(src.Category)
}

// RecordFailure counts the error and caches an empty result in place of the
// previous data, so consumers see an explicit empty state rather than silent
// staleness. The failure budget is advisory: exceeding it is only logged.
func (a *Aggregator) RecordFailure(sourceID string, cause error) {
	a.mu.Lock()
	src, ok := a.sources[sourceID]
	if !ok {
		a.mu.Unlock()
		return
	}
	a.errCounts[sourceID]++
	count := a.errCounts[sourceID]
	a.entries[sourceID] = cacheEntry{
		data:      []Item{},
		timestamp: a.now(),
		ttl:       src.RefreshInterval,
	}
	a.mu.Unlock()

	if a.logger != nil {
		a.logger.Warn("source poll failed",
			"source", sourceID, "errors", count, "error", cause)
		if src.FailureBudget > 0 && count > src.FailureBudget {
			a.logger.Warn("source exceeded failure budget",
				"source", sourceID, "errors", count, "budget", src.FailureBudget)
		}
	}

	a.notifyCategory(src.Category)
}

// GetCategoryData merges every fresh cache entry of the category's sources,
// in registration order, deduplicated by item id (or structural key when no
// id exists).
func (a *Aggregator) GetCategoryData(category string) []Item {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.categorySnapshot(category)
}

func (a *Aggregator) categorySnapshot(category string) []Item {
	now := a.now()
	merged := make([]Item, 0)
	seen := map[string]bool{}

	for _, id := range a.order {
		src := a.sources[id]
		if src.Category != category {
			continue
		}
		entry, ok := a.entries[id]
		if !ok || now.Sub(entry.timestamp) >= entry.ttl {
			continue
		}
		for _, item := range entry.data {
			key := itemKey(item)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, item)
		}
	}
	return merged
}

// Subscribe invokes cb immediately with the current merged snapshot and
// again after every poll completion for the category. The returned function
// unsubscribes. Callbacks run synchronously on the polling path: they must
// not block and must not call back into the aggregator.
func (a *Aggregator) Subscribe(category string, cb func([]Item)) func() {
	a.dispatchMu.Lock()

	a.mu.Lock()
	snapshot := a.categorySnapshot(category)
	id := a.nextSub
	a.nextSub++
	if a.subs[category] == nil {
		a.subs[category] = map[int]func([]Item){}
	}
	a.subs[category][id] = cb
	a.mu.Unlock()

	cb(snapshot)
	a.dispatchMu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subs[category], id)
	}
}

// Status reports per-source cache health for the stale/offline indicator.
func (a *Aggregator) Status() map[string]SourceStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	out := make(map[string]SourceStatus, len(a.order))
	for _, id := range a.order {
		src := a.sources[id]
		status := SourceStatus{
			Category:   src.Category,
			Name:       src.Name,
			ErrorCount: a.errCounts[id],
			IsStale:    true,
		}
		if entry, ok := a.entries[id]; ok {
			status.LastUpdated = entry.timestamp
			status.CachedItems = len(entry.data)
			status.IsStale = now.Sub(entry.timestamp) >= entry.ttl
		}
		out[id] = status
	}
	return out
}

func (a *Aggregator) notifyCategory(category string) {
	a.dispatchMu.Lock()
	defer a.dispatchMu.Unlock()

	a.mu.Lock()
	snapshot := a.categorySnapshot(category)
	callbacks := make([]func([]Item), 0, len(a.subs[category]))
	for _, cb := range a.subs[category] {
		callbacks = append(callbacks, cb)
	}
	a.mu.Unlock()

	for _, cb := range callbacks {
		cb(snapshot)
	}
}

// itemKey prefers the provider's own id; records without one fall back to a
// structural key over the canonical JSON encoding.
func itemKey(item Item) string {
	if id, ok := item["id"]; ok && id != nil {
		return fmt.Sprintf("id:%v", id)
	}
	encoded, err := json.Marshal(item)
	if err != nil {
		return fmt.Sprintf("raw:%v", item)
	}
	h := fnv.New64a()
	_, _ = h.Write(encoded)
	return fmt.Sprintf("struct:%x", h.Sum64())
}
