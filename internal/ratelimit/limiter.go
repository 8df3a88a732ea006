package ratelimit

import (
	"context"
	"fmt"
	"time"

	"hub/internal/store"
	"hub/pkg/metrics"
	"hub/pkg/models"
)

// Limiter enforces a fixed-window admission count per connector. Window
// state lives on the connector record and every mutation is a conditional
// store update, so concurrent hub instances share one budget. Exactly
// RateLimit admissions are permitted per window.
type Limiter struct {
	connectors store.ConnectorRepository
	now        func() time.Time
}

func NewLimiter(connectors store.ConnectorRepository) *Limiter {
	return &Limiter{
		connectors: connectors,
		now:        time.Now,
	}
}

func (l *Limiter) Check(ctx context.Context, connectorCode string) (models.RateLimitDecision, error) {
	conn, err := l.connectors.Get(ctx, connectorCode)
	if err != nil {
		return models.RateLimitDecision{}, err
	}
	if conn == nil {
		return models.RateLimitDecision{}, fmt.Errorf("connector not found: %s", connectorCode)
	}

	// No limit configured: always allowed, unbounded remaining.
	if conn.RateLimit <= 0 {
		return models.RateLimitDecision{Allowed: true, Remaining: -1}, nil
	}

	now := l.now()
	window := time.Duration(conn.RateLimitWindow) * time.Second

	if conn.WindowStart == nil || now.Sub(*conn.WindowStart) >= window {
		started, err := l.connectors.ResetWindow(ctx, connectorCode, conn.WindowStart, now)
		if err != nil {
			return models.RateLimitDecision{}, err
		}
		if started {
			metrics.RateLimitDecisionsTotal.WithLabelValues(connectorCode, "allowed").Inc()
			return models.RateLimitDecision{
				Allowed:   true,
				Remaining: conn.RateLimit - 1,
				ResetAt:   now.Add(window),
			}, nil
		}

		// Another caller reset the window first; re-read and count
		// ourselves into the window they started.
		conn, err = l.connectors.Get(ctx, connectorCode)
		if err != nil {
			return models.RateLimitDecision{}, err
		}
		if conn == nil || conn.WindowStart == nil {
			return models.RateLimitDecision{}, fmt.Errorf("connector window state lost: %s", connectorCode)
		}
	}

	resetAt := conn.WindowStart.Add(window)

	count, admitted, err := l.connectors.IncrementWindow(ctx, connectorCode, *conn.WindowStart, conn.RateLimit)
	if err != nil {
		return models.RateLimitDecision{}, err
	}
	if !admitted {
		metrics.RateLimitDecisionsTotal.WithLabelValues(connectorCode, "denied").Inc()
		return models.RateLimitDecision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	metrics.RateLimitDecisionsTotal.WithLabelValues(connectorCode, "allowed").Inc()
	return models.RateLimitDecision{
		Allowed:   true,
		Remaining: conn.RateLimit - count,
		ResetAt:   resetAt,
	}, nil
}
