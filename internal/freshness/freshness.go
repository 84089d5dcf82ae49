// Package freshness decides whether a synced feed snapshot is still valid.
package freshness

import "time"

// Expired is the time-to-expiry of a snapshot that must be refetched.
const Expired time.Duration = 0

// TimeToExpiry returns how long a snapshot taken at lastUpdated stays valid
// at now. A nil lastUpdated means the feed was never synced.
func TimeToExpiry(lastUpdated *time.Time, maxAge time.Duration, now time.Time) time.Duration {
	if lastUpdated == nil {
		return Expired
	}

	remaining := lastUpdated.Add(maxAge).Sub(now)
	if remaining > 0 {
		return remaining
	}

	return Expired
}

func IsCached(lastUpdated *time.Time, maxAge time.Duration, now time.Time) bool {
	return TimeToExpiry(lastUpdated, maxAge, now) > Expired
}
