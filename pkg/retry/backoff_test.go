package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateBackoffDuration(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, time.Minute},
		{20, time.Minute},
	}

	for _, tt := range tests {
		got := CalculateBackoffDuration(tt.attempt, time.Second, 2.0, time.Minute)
		assert.Equal(t, tt.want, got, "attempt %d", tt.attempt)
	}
}

func TestCalculateBackoffWithJitterNoRandomness(t *testing.T) {
	zero := func() float64 { return 0 }

	assert.Equal(t, time.Second, CalculateBackoffWithJitter(1, time.Second, 2.0, time.Minute, 0.2, zero))
	assert.Equal(t, 2*time.Second, CalculateBackoffWithJitter(2, time.Second, 2.0, time.Minute, 0.2, zero))
	assert.Equal(t, time.Minute, CalculateBackoffWithJitter(10, time.Second, 2.0, time.Minute, 0.2, zero))

	// A ratio of zero or a missing source disables jitter entirely.
	assert.Equal(t, 4*time.Second, CalculateBackoffWithJitter(3, time.Second, 2.0, time.Minute, 0, nil))
}

func TestCalculateBackoffWithJitterBounds(t *testing.T) {
	almostOne := func() float64 { return 0.999999 }

	for attempt := 1; attempt <= 12; attempt++ {
		base := CalculateBackoffWithJitter(attempt, time.Second, 2.0, time.Minute, 0.2, func() float64 { return 0 })
		jittered := CalculateBackoffWithJitter(attempt, time.Second, 2.0, time.Minute, 0.2, almostOne)

		assert.GreaterOrEqual(t, jittered, base, "attempt %d", attempt)
		assert.LessOrEqual(t, jittered, base+time.Duration(float64(base)*0.2), "attempt %d", attempt)
	}
}

func TestCalculateBackoffWithJitterClampsAttempt(t *testing.T) {
	zero := func() float64 { return 0 }
	assert.Equal(t,
		CalculateBackoffWithJitter(1, time.Second, 2.0, time.Minute, 0.2, zero),
		CalculateBackoffWithJitter(-3, time.Second, 2.0, time.Minute, 0.2, zero))
}
