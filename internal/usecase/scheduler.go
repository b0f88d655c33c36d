package usecase

import (
	"context"
	"time"

	"pulsefeed/internal/ports"
)

// Scheduler wires the cron driver with the refresh and retention cycles.
type Scheduler struct {
	driver        ports.Scheduler
	ingestor      *Ingestor
	retentionDays int
}

// NewScheduler returns a helper to start/stop the recurring refresh job.
func NewScheduler(driver ports.Scheduler, ingestor *Ingestor, retentionDays int) *Scheduler {
	return &Scheduler{driver: driver, ingestor: ingestor, retentionDays: retentionDays}
}

// Start registers the refresh cycle with the provided scheduler driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.ingestor == nil {
		return nil
	}

	job := func(_ time.Time) {
		_ = s.ingestor.RefreshDueFeeds(ctx)
		_, _ = s.ingestor.PruneOlderThan(ctx, s.retentionDays)
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}
