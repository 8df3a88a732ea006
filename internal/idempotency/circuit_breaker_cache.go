package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"hub/internal/config"
	"hub/pkg/circuitbreaker"
)

// CircuitBreakerCache shields the hub from a misbehaving cache backend.
// When the breaker is open the guard falls back to the durable store
// lookup, so routing keeps working without the cache.
type CircuitBreakerCache struct {
	cache Cache
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerCache(cache Cache, cfg config.CircuitBreakerConfig) *CircuitBreakerCache {
	if !cfg.Enabled {
		return &CircuitBreakerCache{cache: cache}
	}

	cbConfig := circuitbreaker.DefaultConfig("idempotency-cache")
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.MinRequests) {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		}
	}

	return &CircuitBreakerCache{
		cache: cache,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (c *CircuitBreakerCache) Get(ctx context.Context, key string) (*Entry, error) {
	if c.cb == nil {
		return c.cache.Get(ctx, key)
	}

	result, err := c.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return c.cache.Get(ctx, key)
	})
	c.cb.RecordRequest(err == nil)
	if err != nil {
		if c.cb.IsOpen() {
			return nil, fmt.Errorf("circuit breaker is open for idempotency-cache: %w", err)
		}
		return nil, err
	}

	entry, ok := result.(*Entry)
	if !ok && result != nil {
		return nil, fmt.Errorf("cache returned invalid result type")
	}

	return entry, nil
}

func (c *CircuitBreakerCache) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	if c.cb == nil {
		return c.cache.Set(ctx, key, entry, ttl)
	}

	_, err := c.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, c.cache.Set(ctx, key, entry, ttl)
	})
	c.cb.RecordRequest(err == nil)
	if err != nil && c.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for idempotency-cache: %w", err)
	}

	return err
}

func (c *CircuitBreakerCache) Delete(ctx context.Context, key string) error {
	if c.cb == nil {
		return c.cache.Delete(ctx, key)
	}

	_, err := c.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, c.cache.Delete(ctx, key)
	})
	c.cb.RecordRequest(err == nil)

	return err
}

func (c *CircuitBreakerCache) Sweep(ctx context.Context) (int, error) {
	if c.cb == nil {
		return c.cache.Sweep(ctx)
	}

	result, err := c.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return c.cache.Sweep(ctx)
	})
	c.cb.RecordRequest(err == nil)
	if err != nil {
		return 0, err
	}

	size, ok := result.(int)
	if !ok {
		return 0, fmt.Errorf("cache returned invalid result type")
	}

	return size, nil
}
