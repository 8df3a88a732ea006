package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func ExponentialBackoff(initialInterval, maxInterval time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = 0
	return exp
}

func ExponentialBackoffWithMaxElapsed(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = maxElapsed
	return exp
}

func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt))
	if duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}

// CalculateBackoffWithJitter returns the capped exponential delay for the
// given 1-based attempt number plus a random jitter of up to jitterRatio
// of the delay. rand01 must return values in [0, 1).
func CalculateBackoffWithJitter(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration, jitterRatio float64, rand01 func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	duration := CalculateBackoffDuration(attempt-1, initialInterval, multiplier, maxInterval)
	if jitterRatio <= 0 || rand01 == nil {
		return duration
	}
	return duration + time.Duration(float64(duration)*jitterRatio*rand01())
}
