package outbox

import (
	"math"
	"time"
)

// BackoffPolicy computes the delay before retry n (1-based): Base doubled per
// attempt and capped at Max.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
}

func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Base <= 0 {
		return 0
	}
	delay := p.Base
	for i := 1; i < attempt; i++ {
		if p.Max > 0 && delay >= p.Max {
			return p.Max
		}
		// stop doubling before the duration overflows
		if delay > time.Duration(math.MaxInt64/2) {
			break
		}
		delay *= 2
	}
	if p.Max > 0 && delay > p.Max {
		return p.Max
	}
	return delay
}
