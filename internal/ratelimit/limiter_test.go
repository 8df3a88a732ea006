package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hub/internal/store"
	"hub/pkg/models"
)

func newTestLimiter(t *testing.T, rateLimit, windowSeconds int) (*Limiter, *time.Time) {
	t.Helper()

	connectors := store.NewMemoryConnectorRepository()
	require.NoError(t, connectors.Create(context.Background(), &models.IntegrationConnector{
		Code:            "crm",
		IsActive:        true,
		RateLimit:       rateLimit,
		RateLimitWindow: windowSeconds,
	}))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(connectors)
	l.now = func() time.Time { return now }

	return l, &now
}

func TestLimiterAdmitsExactlyLimitPerWindow(t *testing.T) {
	l, _ := newTestLimiter(t, 10, 60)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		decision, err := l.Check(ctx, "crm")
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "request %d should be admitted", i)
		assert.Equal(t, 10-i, decision.Remaining, "request %d remaining", i)
	}

	decision, err := l.Check(ctx, "crm")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC), decision.ResetAt)
}

func TestLimiterNewWindowResetsBudget(t *testing.T) {
	l, now := newTestLimiter(t, 10, 60)
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		_, err := l.Check(ctx, "crm")
		require.NoError(t, err)
	}

	*now = now.Add(60 * time.Second)

	decision, err := l.Check(ctx, "crm")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 9, decision.Remaining)
	assert.Equal(t, now.Add(60*time.Second), decision.ResetAt)
}

func TestLimiterUnlimitedConnector(t *testing.T) {
	l, _ := newTestLimiter(t, 0, 60)

	for i := 0; i < 100; i++ {
		decision, err := l.Check(context.Background(), "crm")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, -1, decision.Remaining)
	}
}

func TestLimiterUnknownConnector(t *testing.T) {
	l, _ := newTestLimiter(t, 10, 60)

	_, err := l.Check(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestLimiterDenialDoesNotConsumeNextWindow(t *testing.T) {
	l, now := newTestLimiter(t, 2, 60)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Check(ctx, "crm")
		require.NoError(t, err)
	}

	*now = now.Add(61 * time.Second)

	decision, err := l.Check(ctx, "crm")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Remaining)
}
