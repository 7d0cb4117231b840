package sessionpool

import "time"

// Circuit breaker defaults: a domain that fails this many times in a row
// is left alone for the cooldown period.
const (
	breakerThreshold = 10
	breakerCooldown  = 30 * time.Minute
)

// breaker tracks consecutive site-level failures for one domain. Not
// goroutine-safe on its own; the pool serializes access.
type breaker struct {
	consecutive int
	openedAt    time.Time
}

// open reports whether the breaker is currently tripped.
func (b *breaker) open(now time.Time) bool {
	if b.consecutive < breakerThreshold {
		return false
	}
	if now.Sub(b.openedAt) >= breakerCooldown {
		// Cooldown elapsed: half-open, allow the next attempt through.
		b.consecutive = breakerThreshold - 1
		return false
	}
	return true
}

func (b *breaker) recordFailure(now time.Time) {
	b.consecutive++
	if b.consecutive == breakerThreshold {
		b.openedAt = now
	}
}

func (b *breaker) recordSuccess() {
	b.consecutive = 0
}
