package monitor

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffPolicy stretches the poll interval after repeated failed resolves.
// The zero value disables it: every cycle sleeps the normal interval.
type BackoffPolicy struct {
	// Threshold is the number of consecutive failures before backing off.
	Threshold int
	// Max caps the stretched interval.
	Max time.Duration
}

// Enabled reports whether the policy changes anything.
func (p BackoffPolicy) Enabled() bool { return p.Threshold > 0 }

func (p BackoffPolicy) limit(interval time.Duration) time.Duration {
	if p.Max > 0 {
		return p.Max
	}
	return 16 * interval
}

// Delay returns the sleep after a cycle given the consecutive failure count.
// Once failures reach Threshold the interval doubles for every further failure.
func (p BackoffPolicy) Delay(interval time.Duration, failures int) time.Duration {
	if !p.Enabled() || failures < p.Threshold {
		return interval
	}
	limit := p.limit(interval)
	b := &backoff.ExponentialBackOff{
		InitialInterval: 2 * interval,
		Multiplier:      2,
		MaxInterval:     limit,
	}
	b.Reset()
	var d time.Duration
	for i := p.Threshold; i <= failures; i++ {
		d = b.NextBackOff()
		if d >= limit {
			return limit
		}
	}
	return d
}
