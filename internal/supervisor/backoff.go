package supervisor

import (
	"math"
	"math/rand"
	"time"
)

// Backoff is the exponential reconnection schedule applied to any
// connector instance that lands in the Error state, per §4.8/§9: initial
// 1s, factor 2, cap 60s, jitter ±20%.
type Backoff struct {
	Initial        time.Duration
	Factor         float64
	Cap            time.Duration
	JitterFraction float64
}

// DefaultBackoff returns the exact schedule named in the spec.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:        1 * time.Second,
		Factor:         2,
		Cap:            60 * time.Second,
		JitterFraction: 0.2,
	}
}

// Delay returns the wait before retry number attempt (0-indexed),
// jittered by ±JitterFraction of the computed base delay.
func (b Backoff) Delay(attempt int) time.Duration {
	base := float64(b.Initial) * math.Pow(b.Factor, float64(attempt))
	if ceiling := float64(b.Cap); base > ceiling {
		base = ceiling
	}
	jitter := base * b.JitterFraction * (2*rand.Float64() - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}
