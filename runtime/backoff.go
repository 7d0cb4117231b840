package runtime

import "time"

// Cross-run retry backoff: 10s base, tripling per retry, capped at 5m.
const (
	backoffBase = 10 * time.Second
	backoffCap  = 5 * time.Minute
)

// Backoff returns the delay before the given retry, 1-based. The ladder
// is 10s, 30s, 90s, 270s, then the cap.
func Backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := backoffBase
	for i := 1; i < retry; i++ {
		d *= 3
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}
