package middleware

import "time"

// EvictAt pins the limiter clock to now and runs one eviction pass.
func (rl *RateLimiter) EvictAt(now time.Time) {
	rl.mu.Lock()
	rl.now = func() time.Time { return now }
	rl.mu.Unlock()
	rl.evictIdle()
}
