package live

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoffRetryer(t *testing.T) {
	r := &ExponentialBackoffRetryer{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
		MaxRetries:   6,
	}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for attempt, w := range want {
		d, ok := r.NextDelay(attempt, errors.New("dropped"))
		assert.True(t, ok)
		assert.Equal(t, w, d, "attempt %d", attempt)
	}

	_, ok := r.NextDelay(6, nil)
	assert.False(t, ok)
}

func TestExponentialBackoffRetryerJitter(t *testing.T) {
	r := NewExponentialBackoffRetryer()
	for i := 0; i < 100; i++ {
		d, ok := r.NextDelay(0, nil)
		assert.True(t, ok)
		assert.GreaterOrEqual(t, d, 700*time.Millisecond)
		assert.LessOrEqual(t, d, 1300*time.Millisecond)
	}

	d, ok := r.NextDelay(50, nil)
	assert.True(t, ok)
	assert.LessOrEqual(t, d, 39*time.Second, "capped at MaxDelay plus jitter")
}

func TestFixedDelayRetryer(t *testing.T) {
	r := NewFixedDelayRetryer(50*time.Millisecond, 2)

	d, ok := r.NextDelay(0, nil)
	assert.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, d)

	_, ok = r.NextDelay(1, nil)
	assert.True(t, ok)
	_, ok = r.NextDelay(2, nil)
	assert.False(t, ok)

	_, ok = NoRetry{}.NextDelay(0, nil)
	assert.False(t, ok)
}
