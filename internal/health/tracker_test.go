package health

import (
	"testing"
	"time"

	"pulsefeed/internal/domain"
)

func TestHealthScoreClamping(t *testing.T) {
	t.Parallel()

	now := time.Now()
	feed := domain.FeedDescriptor{HealthScore: 30, IsActive: true}

	for i := 0; i < 5; i++ {
		feed = ApplyFailure(feed, now)
	}
	if feed.HealthScore != 0 {
		t.Fatalf("expected floor of 0, got %d", feed.HealthScore)
	}
	if feed.FailureCount != 5 {
		t.Fatalf("expected 5 failures, got %d", feed.FailureCount)
	}

	for i := 0; i < 15; i++ {
		feed = ApplySuccess(feed, now, 100*time.Millisecond)
	}
	if feed.HealthScore != 100 {
		t.Fatalf("expected ceiling of 100, got %d", feed.HealthScore)
	}
	if feed.FailureCount != 0 {
		t.Fatalf("expected failure count reset, got %d", feed.FailureCount)
	}
}

func TestApplySuccessReplacesResponseTime(t *testing.T) {
	t.Parallel()

	now := time.Now()
	feed := domain.FeedDescriptor{AvgResponseTime: time.Second}
	feed = ApplySuccess(feed, now, 250*time.Millisecond)
	if feed.AvgResponseTime != 250*time.Millisecond {
		t.Fatalf("expected last sample to win, got %v", feed.AvgResponseTime)
	}
	if !feed.LastSuccessAt.Equal(now) || !feed.LastFetchedAt.Equal(now) {
		t.Fatal("expected timestamps updated on success")
	}
}

func TestIsDueForRefresh(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	feed := domain.FeedDescriptor{
		IsActive:      true,
		FetchInterval: 30 * time.Minute,
	}

	if !IsDueForRefresh(feed, now) {
		t.Fatal("never-fetched feed must be immediately due")
	}

	feed = ApplySuccess(feed, now, time.Second)
	if IsDueForRefresh(feed, now) {
		t.Fatal("feed must not be due right after a fetch")
	}
	if IsDueForRefresh(feed, now.Add(29*time.Minute)) {
		t.Fatal("feed must not be due before the interval elapses")
	}
	if !IsDueForRefresh(feed, now.Add(30*time.Minute)) {
		t.Fatal("feed must be due once the interval elapses")
	}

	feed.IsActive = false
	if IsDueForRefresh(feed, now.Add(time.Hour)) {
		t.Fatal("inactive feeds are never due")
	}
}
