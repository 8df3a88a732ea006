package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hub/internal/config"
	"hub/internal/logger"
	"hub/internal/store"
	"hub/pkg/models"
)

type fakeDeadLetterer struct {
	calls  []string
	reason string
}

func (f *fakeDeadLetterer) MoveToDeadLetter(_ context.Context, msg *models.IntegrationMessage, reason, _ string) error {
	f.calls = append(f.calls, msg.ID)
	f.reason = reason
	msg.Status = models.StatusDeadLetter
	return nil
}

func newTestScheduler(t *testing.T) (*Scheduler, store.MessageRepository, *fakeDeadLetterer, *time.Time) {
	t.Helper()

	messages := store.NewMemoryMessageRepository()
	dlq := &fakeDeadLetterer{}
	log, err := logger.New("error")
	require.NoError(t, err)

	s := NewScheduler(messages, dlq, config.MessageRetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2.0,
		SweepBatch: 100,
	}, log)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.rand01 = func() float64 { return 0 }

	return s, messages, dlq, &now
}

func TestBackoffDelaySequence(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, expected := range want {
		assert.Equal(t, expected, s.BackoffDelay(i+1), "attempt %d", i+1)
	}
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	s.rand01 = func() float64 { return 0.999999 }

	for attempt := 1; attempt <= 8; attempt++ {
		base := s.BackoffDelay(1)
		_ = base
		s.rand01 = func() float64 { return 0 }
		floor := s.BackoffDelay(attempt)
		s.rand01 = func() float64 { return 0.999999 }
		jittered := s.BackoffDelay(attempt)

		assert.GreaterOrEqual(t, jittered, floor, "attempt %d", attempt)
		assert.Less(t, jittered, floor+time.Duration(float64(floor)*0.2), "attempt %d", attempt)
	}
}

func TestScheduleRetryParksMessage(t *testing.T) {
	s, messages, dlq, now := newTestScheduler(t)
	ctx := context.Background()

	msg := &models.IntegrationMessage{
		ID:         "m-1",
		Status:     models.StatusProcessing,
		MaxRetries: 3,
		ReceivedAt: *now,
	}
	require.NoError(t, messages.Create(ctx, msg))

	moved, err := s.ScheduleRetry(ctx, msg, fmt.Errorf("connection refused"))
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Empty(t, dlq.calls)

	stored, err := messages.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetrying, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, "connection refused", stored.LastError)
	require.NotNil(t, stored.NextRetryAt)
	assert.Equal(t, now.Add(time.Second), *stored.NextRetryAt)
}

func TestScheduleRetryExhaustionMovesToDeadLetter(t *testing.T) {
	s, messages, dlq, _ := newTestScheduler(t)
	ctx := context.Background()

	msg := &models.IntegrationMessage{
		ID:         "m-1",
		Status:     models.StatusProcessing,
		MaxRetries: 3,
		RetryCount: 3,
	}
	require.NoError(t, messages.Create(ctx, msg))

	moved, err := s.ScheduleRetry(ctx, msg, fmt.Errorf("still failing"))
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"m-1"}, dlq.calls)
	assert.Equal(t, models.DLQReasonMaxRetriesExceeded, dlq.reason)
	assert.Equal(t, 3, msg.RetryCount)
}

func TestScheduleRetryExhaustionKeepsCounterAtCap(t *testing.T) {
	s, messages, dlq, _ := newTestScheduler(t)
	ctx := context.Background()

	msg := &models.IntegrationMessage{
		ID:         "m-1",
		Status:     models.StatusProcessing,
		MaxRetries: 1,
	}
	require.NoError(t, messages.Create(ctx, msg))

	moved, err := s.ScheduleRetry(ctx, msg, fmt.Errorf("refused"))
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, 1, msg.RetryCount)

	moved, err = s.ScheduleRetry(ctx, msg, fmt.Errorf("refused again"))
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"m-1"}, dlq.calls)
	assert.LessOrEqual(t, msg.RetryCount, msg.MaxRetries)
}

func TestScheduleRetryFallsBackToConfiguredMax(t *testing.T) {
	s, messages, dlq, _ := newTestScheduler(t)
	ctx := context.Background()

	// MaxRetries unset on the message: the scheduler's configured limit
	// applies.
	msg := &models.IntegrationMessage{
		ID:         "m-1",
		Status:     models.StatusProcessing,
		RetryCount: 3,
	}
	require.NoError(t, messages.Create(ctx, msg))

	moved, err := s.ScheduleRetry(ctx, msg, fmt.Errorf("boom"))
	require.NoError(t, err)
	assert.True(t, moved)
	assert.NotEmpty(t, dlq.calls)
}

func TestRunRetrySweepProcessesDueMessages(t *testing.T) {
	s, messages, _, now := newTestScheduler(t)
	ctx := context.Background()

	due := now.Add(-time.Second)
	notYet := now.Add(time.Hour)
	require.NoError(t, messages.Create(ctx, &models.IntegrationMessage{
		ID: "due-1", Status: models.StatusRetrying, NextRetryAt: &due, ReceivedAt: *now,
	}))
	require.NoError(t, messages.Create(ctx, &models.IntegrationMessage{
		ID: "later-1", Status: models.StatusRetrying, NextRetryAt: &notYet, ReceivedAt: *now,
	}))
	require.NoError(t, messages.Create(ctx, &models.IntegrationMessage{
		ID: "done-1", Status: models.StatusCompleted, ReceivedAt: *now,
	}))

	var processed []string
	s.SetProcessor(func(_ context.Context, msg *models.IntegrationMessage) error {
		processed = append(processed, msg.ID)
		return nil
	})

	require.NoError(t, s.RunRetrySweep(ctx))
	assert.Equal(t, []string{"due-1"}, processed)
}

func TestRunRetrySweepIsolatesPanics(t *testing.T) {
	s, messages, _, now := newTestScheduler(t)
	ctx := context.Background()

	early := now.Add(-2 * time.Second)
	late := now.Add(-1 * time.Second)
	require.NoError(t, messages.Create(ctx, &models.IntegrationMessage{
		ID: "poison", Status: models.StatusRetrying, NextRetryAt: &early, ReceivedAt: *now,
	}))
	require.NoError(t, messages.Create(ctx, &models.IntegrationMessage{
		ID: "healthy", Status: models.StatusRetrying, NextRetryAt: &late, ReceivedAt: *now,
	}))

	var processed []string
	s.SetProcessor(func(_ context.Context, msg *models.IntegrationMessage) error {
		if msg.ID == "poison" {
			panic("bad payload")
		}
		processed = append(processed, msg.ID)
		return nil
	})

	require.NoError(t, s.RunRetrySweep(ctx))
	assert.Equal(t, []string{"healthy"}, processed)
}

func TestRunRetrySweepRequiresProcessor(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)

	err := s.RunRetrySweep(context.Background())
	assert.Error(t, err)
}
