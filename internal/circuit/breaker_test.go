package circuit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hub/internal/logger"
	"hub/internal/store"
	"hub/pkg/models"
)

func newTestBreaker(t *testing.T) (*Breaker, store.ConnectorRepository, *time.Time) {
	t.Helper()

	connectors := store.NewMemoryConnectorRepository()
	require.NoError(t, connectors.Create(context.Background(), &models.IntegrationConnector{
		Code:             "erp",
		IsActive:         true,
		FailureThreshold: 5,
		SuccessThreshold: 3,
	}))

	log, err := logger.New("error")
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(connectors, 30*time.Second, log)
	b.now = func() time.Time { return now }

	return b, connectors, &now
}

func state(t *testing.T, connectors store.ConnectorRepository, code string) models.CircuitState {
	t.Helper()
	conn, err := connectors.Get(context.Background(), code)
	require.NoError(t, err)
	require.NotNil(t, conn)
	return conn.CircuitState
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	b, connectors, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, b.RecordFailure(ctx, "erp"))
		assert.Equal(t, models.CircuitClosed, state(t, connectors, "erp"))
	}

	require.NoError(t, b.RecordFailure(ctx, "erp"))
	assert.Equal(t, models.CircuitOpen, state(t, connectors, "erp"))

	allowed, err := b.Allow(ctx, "erp")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, connectors, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, b.RecordFailure(ctx, "erp"))
	}
	require.NoError(t, b.RecordSuccess(ctx, "erp"))

	conn, err := connectors.Get(ctx, "erp")
	require.NoError(t, err)
	assert.Equal(t, 0, conn.FailureCount)
	assert.Equal(t, models.CircuitClosed, conn.CircuitState)
}

func TestBreakerHalfOpensAfterTimeout(t *testing.T) {
	b, connectors, now := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.RecordFailure(ctx, "erp"))
	}
	require.Equal(t, models.CircuitOpen, state(t, connectors, "erp"))

	// Before the timeout the circuit stays open.
	*now = now.Add(29 * time.Second)
	st, err := b.State(ctx, "erp")
	require.NoError(t, err)
	assert.Equal(t, models.CircuitOpen, st)

	*now = now.Add(1 * time.Second)
	st, err = b.State(ctx, "erp")
	require.NoError(t, err)
	assert.Equal(t, models.CircuitHalfOpen, st)

	allowed, err := b.Allow(ctx, "erp")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestBreakerClosesAfterSuccessThreshold(t *testing.T) {
	b, connectors, now := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.RecordFailure(ctx, "erp"))
	}
	*now = now.Add(31 * time.Second)
	_, err := b.State(ctx, "erp")
	require.NoError(t, err)

	require.NoError(t, b.RecordSuccess(ctx, "erp"))
	require.NoError(t, b.RecordSuccess(ctx, "erp"))
	assert.Equal(t, models.CircuitHalfOpen, state(t, connectors, "erp"))

	require.NoError(t, b.RecordSuccess(ctx, "erp"))
	conn, err := connectors.Get(ctx, "erp")
	require.NoError(t, err)
	assert.Equal(t, models.CircuitClosed, conn.CircuitState)
	assert.Equal(t, 0, conn.FailureCount)
	assert.Equal(t, 0, conn.SuccessCount)
	assert.Nil(t, conn.CircuitOpenedAt)
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b, connectors, now := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.RecordFailure(ctx, "erp"))
	}
	*now = now.Add(31 * time.Second)
	_, err := b.State(ctx, "erp")
	require.NoError(t, err)
	require.Equal(t, models.CircuitHalfOpen, state(t, connectors, "erp"))

	require.NoError(t, b.RecordFailure(ctx, "erp"))
	assert.Equal(t, models.CircuitOpen, state(t, connectors, "erp"))

	// The fresh OPEN period starts from the half-open failure, so the
	// circuit needs another full timeout before probing again.
	*now = now.Add(29 * time.Second)
	st, err := b.State(ctx, "erp")
	require.NoError(t, err)
	assert.Equal(t, models.CircuitOpen, st)
}

func TestBreakerUnknownConnector(t *testing.T) {
	b, _, _ := newTestBreaker(t)

	_, err := b.State(context.Background(), "ghost")
	assert.Error(t, err)
}
