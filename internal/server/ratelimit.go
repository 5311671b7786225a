package server

import "time"

type rateBucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter applies fixed-window admission control per key. It is only
// touched from the dispatch goroutine, so it carries no lock. A window
// boundary can admit up to twice the limit across it; that is an accepted
// approximation for abuse prevention, not a precise rate guarantee.
type RateLimiter struct {
	buckets map[string]*rateBucket
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*rateBucket),
	}
}

// Allow reports whether another event for key fits in the current window.
// The first call for a key, or any call at or past the window's reset time,
// starts a fresh window with a count of one. A denied call does not count.
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) bool {
	now := time.Now()

	b, ok := rl.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		rl.buckets[key] = &rateBucket{count: 1, resetAt: now.Add(window)}
		return true
	}

	if b.count >= limit {
		return false
	}

	b.count++
	return true
}

// sweep drops buckets whose window has expired so the map stays bounded
// under churning user populations.
func (rl *RateLimiter) sweep(now time.Time) {
	for key, b := range rl.buckets {
		if !now.Before(b.resetAt) {
			delete(rl.buckets, key)
		}
	}
}
