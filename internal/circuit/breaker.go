package circuit

import (
	"context"
	"fmt"
	"time"

	"hub/internal/constants"
	"hub/internal/logger"
	"hub/internal/store"
	"hub/pkg/metrics"
	"hub/pkg/models"
)

// Breaker is the per-connector CLOSED/OPEN/HALF_OPEN state machine, keyed
// by the target connector of a message. State lives on the connector
// record; every mutation is a conditional store update, so concurrent
// recorders cannot lose increments and a stale local read at worst no-ops.
type Breaker struct {
	connectors  store.ConnectorRepository
	openTimeout time.Duration
	now         func() time.Time
	logger      logger.Logger
}

func NewBreaker(connectors store.ConnectorRepository, openTimeout time.Duration, log logger.Logger) *Breaker {
	if openTimeout <= 0 {
		openTimeout = constants.DefaultCircuitOpenTimeout
	}
	return &Breaker{
		connectors:  connectors,
		openTimeout: openTimeout,
		now:         time.Now,
		logger:      log,
	}
}

// State returns the current circuit state. The OPEN to HALF_OPEN move is
// lazy: it happens on the first read after the open timeout, not on a
// timer.
func (b *Breaker) State(ctx context.Context, connectorCode string) (models.CircuitState, error) {
	conn, err := b.connectors.Get(ctx, connectorCode)
	if err != nil {
		return "", err
	}
	if conn == nil {
		return "", fmt.Errorf("connector not found: %s", connectorCode)
	}

	state := conn.CircuitState
	if state == "" {
		state = models.CircuitClosed
	}

	if state == models.CircuitOpen && conn.CircuitOpenedAt != nil &&
		b.now().Sub(*conn.CircuitOpenedAt) >= b.openTimeout {
		moved, err := b.connectors.TransitionCircuit(ctx, connectorCode, models.CircuitOpen, models.CircuitHalfOpen, b.now())
		if err != nil {
			return "", err
		}
		if moved {
			b.logger.InfowCtx(ctx, "Circuit half-open, probing connector", "connector", connectorCode)
			state = models.CircuitHalfOpen
		} else {
			// Someone else moved it; trust the store.
			refreshed, err := b.connectors.Get(ctx, connectorCode)
			if err != nil {
				return "", err
			}
			if refreshed != nil {
				state = refreshed.CircuitState
			}
		}
	}

	b.publishState(connectorCode, state)
	return state, nil
}

// Allow reports whether routing against the connector may proceed.
func (b *Breaker) Allow(ctx context.Context, connectorCode string) (bool, error) {
	state, err := b.State(ctx, connectorCode)
	if err != nil {
		return false, err
	}
	return state != models.CircuitOpen, nil
}

// RecordFailure counts one failed delivery attempt. In CLOSED it bumps the
// failure counter and opens the circuit at the threshold; in HALF_OPEN it
// re-opens immediately.
func (b *Breaker) RecordFailure(ctx context.Context, connectorCode string) error {
	updated, err := b.connectors.IncrementFailureIfClosed(ctx, connectorCode)
	if err != nil {
		return err
	}
	if updated != nil {
		threshold := updated.FailureThreshold
		if threshold <= 0 {
			threshold = constants.DefaultFailureThreshold
		}
		if updated.FailureCount >= threshold {
			moved, err := b.connectors.TransitionCircuit(ctx, connectorCode, models.CircuitClosed, models.CircuitOpen, b.now())
			if err != nil {
				return err
			}
			if moved {
				b.logger.WarnwCtx(ctx, "Circuit opened",
					"connector", connectorCode,
					"failure_count", updated.FailureCount,
				)
				b.publishState(connectorCode, models.CircuitOpen)
			}
		}
		return nil
	}

	// Not CLOSED; a failure while HALF_OPEN re-opens the circuit.
	moved, err := b.connectors.TransitionCircuit(ctx, connectorCode, models.CircuitHalfOpen, models.CircuitOpen, b.now())
	if err != nil {
		return err
	}
	if moved {
		b.logger.WarnwCtx(ctx, "Circuit re-opened from half-open", "connector", connectorCode)
		b.publishState(connectorCode, models.CircuitOpen)
	}

	return nil
}

// RecordSuccess counts one successful delivery. In HALF_OPEN it closes the
// circuit once the success threshold is met; in CLOSED it resets the
// failure counter.
func (b *Breaker) RecordSuccess(ctx context.Context, connectorCode string) error {
	updated, err := b.connectors.IncrementSuccessIfHalfOpen(ctx, connectorCode)
	if err != nil {
		return err
	}
	if updated != nil {
		threshold := updated.SuccessThreshold
		if threshold <= 0 {
			threshold = constants.DefaultSuccessThreshold
		}
		if updated.SuccessCount >= threshold {
			moved, err := b.connectors.TransitionCircuit(ctx, connectorCode, models.CircuitHalfOpen, models.CircuitClosed, b.now())
			if err != nil {
				return err
			}
			if moved {
				b.logger.InfowCtx(ctx, "Circuit closed", "connector", connectorCode)
				b.publishState(connectorCode, models.CircuitClosed)
			}
		}
		return nil
	}

	return b.connectors.ResetFailuresIfClosed(ctx, connectorCode)
}

func (b *Breaker) publishState(connectorCode string, state models.CircuitState) {
	var value float64
	switch state {
	case models.CircuitHalfOpen:
		value = 1
	case models.CircuitOpen:
		value = 2
	}
	metrics.SetConnectorCircuitState(connectorCode, value)
}
