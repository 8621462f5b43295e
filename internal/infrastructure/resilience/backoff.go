package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// backoff produces exponentially growing waits capped at max. A non-zero
// jitter adds a random share of up to jitter*wait on top of each wait.
type backoff struct {
	current    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
}

func newBackoff(initial, max time.Duration, multiplier, jitter float64) *backoff {
	if multiplier < 1 {
		multiplier = 1
	}
	if max < initial {
		max = initial
	}
	return &backoff{current: initial, max: max, multiplier: multiplier, jitter: jitter}
}

func (b *backoff) next() time.Duration {
	wait := b.current
	if b.jitter > 0 && wait > 0 {
		wait += time.Duration(rand.Int64N(int64(float64(wait)*b.jitter) + 1))
	}
	grown := time.Duration(float64(b.current) * b.multiplier)
	if grown > b.max {
		grown = b.max
	}
	b.current = grown
	return wait
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
