package logx

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Throttle gates noisy log lines (e.g. a periodic task failing on every tick).
// Suppressed lines are counted and reported on the next allowed line.
type Throttle struct {
	lim        *rate.Limiter
	suppressed atomic.Uint64
}

// NewThrottle allows perSec lines per second with a burst of the same size.
// perSec <= 0 disables throttling.
func NewThrottle(perSec float64) *Throttle {
	if perSec <= 0 {
		return &Throttle{}
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return &Throttle{lim: rate.NewLimiter(rate.Limit(perSec), burst)}
}

// Allow reports whether a line may be written now. When it returns true,
// suppressed is the number of lines dropped since the last allowed one.
func (t *Throttle) Allow() (ok bool, suppressed uint64) {
	if t == nil || t.lim == nil {
		return true, 0
	}
	if !t.lim.Allow() {
		t.suppressed.Add(1)
		return false, 0
	}
	return true, t.suppressed.Swap(0)
}
