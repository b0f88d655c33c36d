// Package health holds the pure feed-health transition rules. Persistence
// and scheduling wiring are collaborator concerns.
package health

import (
	"time"

	"pulsefeed/internal/domain"
)

const (
	maxScore       = 100
	minScore       = 0
	successReward  = 10
	failurePenalty = 20
)

// ApplySuccess records a successful fetch: health recovers, the failure
// streak resets, and the response time sample replaces the previous one.
func ApplySuccess(feed domain.FeedDescriptor, now time.Time, responseTime time.Duration) domain.FeedDescriptor {
	feed.LastFetchedAt = now
	feed.LastSuccessAt = now
	feed.FailureCount = 0
	feed.AvgResponseTime = responseTime
	feed.HealthScore = clamp(feed.HealthScore + successReward)
	return feed
}

// ApplyFailure records a failed fetch. LastFetchedAt still advances so a
// broken feed waits out its interval instead of being retried every cycle.
func ApplyFailure(feed domain.FeedDescriptor, now time.Time) domain.FeedDescriptor {
	feed.LastFetchedAt = now
	feed.FailureCount++
	feed.HealthScore = clamp(feed.HealthScore - failurePenalty)
	return feed
}

// IsDueForRefresh is the sole scheduling primitive: active feeds are due when
// the fetch interval has elapsed, and feeds never fetched are due at once.
func IsDueForRefresh(feed domain.FeedDescriptor, now time.Time) bool {
	if !feed.IsActive {
		return false
	}
	if feed.LastFetchedAt.IsZero() {
		return true
	}
	return !now.Before(feed.LastFetchedAt.Add(feed.FetchInterval))
}

func clamp(score int) int {
	if score > maxScore {
		return maxScore
	}
	if score < minScore {
		return minScore
	}
	return score
}
