package orchestrator

import (
	"context"
	"math/rand"
	"time"
)

// Backoff computes exponential delays with jitter
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Jitter returns a fraction in [0,1); nil uses math/rand
	Jitter func() float64
}

// Delay returns the wait before retry number n (1-based): base*2^(n-1), capped,
// then scaled into [d/2, d) so concurrent retries spread out.
func (b Backoff) Delay(n int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < n; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			d = b.Max
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}

	jitter := b.Jitter
	if jitter == nil {
		jitter = rand.Float64
	}
	half := d / 2
	return half + time.Duration(float64(d-half)*jitter())
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
