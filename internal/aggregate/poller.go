package aggregate

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

const (
	defaultStaggerMax   = 5 * time.Second
	defaultMinSpacing   = 2 * time.Second
	defaultFetchTimeout = 30 * time.Second
)

// Poller drives every registered source on its own refresh interval. Each
// source gets an independent goroutine with a random startup stagger so a
// restart does not hit every upstream at once.
type Poller struct {
	agg          *Aggregator
	logger       *slog.Logger
	staggerMax   time.Duration
	minSpacing   time.Duration
	fetchTimeout time.Duration

	mu          sync.Mutex
	lastAttempt map[string]time.Time
	inFlight    map[string]bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// PollerOptions tunes poll pacing. Zero values fall back to defaults.
type PollerOptions struct {
	StaggerMax   time.Duration
	MinSpacing   time.Duration
	FetchTimeout time.Duration
}

// NewPoller builds a poller over the aggregator's registered sources.
func NewPoller(agg *Aggregator, logger *slog.Logger, opts PollerOptions) *Poller {
	if opts.StaggerMax <= 0 {
		opts.StaggerMax = defaultStaggerMax
	}
	if opts.MinSpacing <= 0 {
		opts.MinSpacing = defaultMinSpacing
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	return &Poller{
		agg:          agg,
		logger:       logger,
		staggerMax:   opts.StaggerMax,
		minSpacing:   opts.MinSpacing,
		fetchTimeout: opts.FetchTimeout,
		lastAttempt:  map[string]time.Time{},
		inFlight:     map[string]bool{},
	}
}

// Start launches one polling loop per registered source. Calling Start twice
// is a no-op until Stop.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	for _, src := range p.agg.Sources() {
		p.wg.Add(1)
		go p.loop(ctx, src)
	}
}

// Stop cancels every polling loop and waits for in-flight fetches.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context, src Source) {
	defer p.wg.Done()

	stagger := time.Duration(rand.Int63n(int64(p.staggerMax)))
	select {
	case <-time.After(stagger):
	case <-ctx.Done():
		return
	}

	p.Poll(ctx, src.ID)

	ticker := time.NewTicker(src.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Poll(ctx, src.ID)
		case <-ctx.Done():
			return
		}
	}
}

// Poll fetches one source now, unless a fetch for it is already running or
// finished within the minimum spacing window. Returns true when a fetch
// actually ran.
func (p *Poller) Poll(ctx context.Context, sourceID string) bool {
	var src *Source
	for _, s := range p.agg.Sources() {
		if s.ID == sourceID {
			src = &s
			break
		}
	}
	if src == nil {
		return false
	}

	p.mu.Lock()
	if p.inFlight[sourceID] || time.Since(p.lastAttempt[sourceID]) < p.minSpacing {
		p.mu.Unlock()
		return false
	}
	p.inFlight[sourceID] = true
	p.lastAttempt[sourceID] = time.Now()
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight[sourceID] = false
		p.mu.Unlock()
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	data, err := src.Fetch(fetchCtx)
	if err != nil {
		p.agg.RecordFailure(sourceID, err)
		return true
	}

	p.agg.RecordSuccess(sourceID, data)
	if p.logger != nil {
		p.logger.Debug("source polled", "source", sourceID, "items", len(data))
	}
	return true
}

// ForceRefresh polls every source of the category (all sources when category
// is empty) concurrently and returns once every poll settles, succeeded or
// not. Sources skipped by the spacing guard keep their cached data.
func (p *Poller) ForceRefresh(ctx context.Context, category string) {
	var wg sync.WaitGroup
	for _, src := range p.agg.Sources() {
		if category != "" && src.Category != category {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			p.Poll(ctx, id)
		}(src.ID)
	}
	wg.Wait()
}
