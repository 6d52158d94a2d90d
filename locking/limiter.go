package locking

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter gates incoming GRANT_LOCK traffic on the server side. The
// up-path never blocks, so the only question a limiter answers is whether
// this request may be handled now; anything else is dropped and logged,
// indistinguishable from a lost message to the requester.
type RateLimiter interface {
	Allow() bool
}

// tokenBucket adapts x/time/rate to the RateLimiter interface. The bucket
// refills at limit-per-window and holds up to burst tokens, so short spikes
// ride through while sustained floods are shed.
type tokenBucket struct {
	bucket *rate.Limiter
}

// newRateLimiter builds a limiter admitting limit requests per window.
// A burst below the per-window limit is raised to it, so a quiet server can
// always absorb one full window's worth at once. Returns nil (no limiting)
// when limit or window is unset.
func newRateLimiter(limit, burst int, window time.Duration) RateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if burst < limit {
		burst = limit
	}
	interval := window / time.Duration(limit)
	if interval <= 0 {
		interval = time.Nanosecond
	}
	return &tokenBucket{bucket: rate.NewLimiter(rate.Every(interval), burst)}
}

func (tb *tokenBucket) Allow() bool {
	return tb.bucket.Allow()
}
