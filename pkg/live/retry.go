package live

import (
	"math"
	"math/rand"
	"time"
)

// Retryer decides how long the bridge waits before reopening a dropped
// channel, and when it gives up.
type Retryer interface {
	// NextDelay returns the delay before the next attempt and whether to
	// attempt at all. attempt is 0-based; lastErr is why the previous
	// attempt (or the channel) failed.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset is called after the channel was reopened.
	Reset()
}

// ExponentialBackoffRetryer doubles (by Multiplier) the delay on every
// attempt up to MaxDelay, with optional jitter.
type ExponentialBackoffRetryer struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// MaxRetries bounds the attempts per disconnect; 0 retries forever.
	MaxRetries int

	Jitter bool
	// JitterFactor is the maximum jitter as a fraction of the delay (0.0 to 1.0).
	JitterFactor float64
}

// NewExponentialBackoffRetryer returns a retryer with the default policy:
// 1s doubling to 30s, 30% jitter, unlimited attempts.
func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   0,
		Jitter:       true,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoffRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	mult := r.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(r.InitialDelay) * math.Pow(mult, float64(attempt))
	if r.MaxDelay > 0 && delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.Jitter && r.JitterFactor > 0 {
		//nolint:gosec // jitter is not security sensitive
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}
	return time.Duration(delay), true
}

func (r *ExponentialBackoffRetryer) Reset() {}

// FixedDelayRetryer waits Delay between attempts.
type FixedDelayRetryer struct {
	Delay time.Duration
	// MaxRetries bounds the attempts per disconnect; 0 retries forever.
	MaxRetries int
}

func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{
		Delay:      delay,
		MaxRetries: maxRetries,
	}
}

func (r *FixedDelayRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

func (r *FixedDelayRetryer) Reset() {}

// NoRetry gives up immediately: a dropped channel fails permanently.
type NoRetry struct{}

func (NoRetry) NextDelay(int, error) (time.Duration, bool) { return 0, false }
func (NoRetry) Reset()                                    {}
