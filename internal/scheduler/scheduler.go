package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"hub/internal/config"
	"hub/internal/constants"
	"hub/internal/logger"
	"hub/internal/store"
	"hub/pkg/errors"
	"hub/pkg/metrics"
	"hub/pkg/models"
	"hub/pkg/retry"
)

// ProcessFunc re-runs a message through the routing pipeline. The router
// provides it after construction to avoid a dependency cycle.
type ProcessFunc func(ctx context.Context, msg *models.IntegrationMessage) error

// DeadLetterer moves an exhausted message to the dead letter store.
type DeadLetterer interface {
	MoveToDeadLetter(ctx context.Context, msg *models.IntegrationMessage, reason, detail string) error
}

// Scheduler owns the retry lifecycle of failed messages: it computes the
// jittered exponential backoff, parks messages in RETRYING, and sweeps due
// ones back through the pipeline.
type Scheduler struct {
	messages   store.MessageRepository
	deadLetter DeadLetterer
	cfg        config.MessageRetryConfig
	logger     logger.Logger

	now    func() time.Time
	rand01 func() float64

	mu        sync.Mutex
	processor ProcessFunc
	sweeping  sync.Mutex
}

func NewScheduler(messages store.MessageRepository, deadLetter DeadLetterer, cfg config.MessageRetryConfig, log logger.Logger) *Scheduler {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = constants.DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = constants.DefaultRetryBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = constants.DefaultRetryMaxDelay
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = constants.DefaultRetryMultiplier
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = constants.DefaultRetrySweepBatchSize
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Scheduler{
		messages:   messages,
		deadLetter: deadLetter,
		cfg:        cfg,
		logger:     log,
		now:        time.Now,
		rand01:     rng.Float64,
	}
}

// SetProcessor wires the routing pipeline in. Must be called before the
// first sweep.
func (s *Scheduler) SetProcessor(fn ProcessFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processor = fn
}

func (s *Scheduler) getProcessor() ProcessFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processor
}

// BackoffDelay returns the jittered delay for a 1-based attempt number.
func (s *Scheduler) BackoffDelay(attempt int) time.Duration {
	return retry.CalculateBackoffWithJitter(
		attempt,
		s.cfg.BaseDelay,
		s.cfg.Multiplier,
		s.cfg.MaxDelay,
		constants.DefaultRetryJitterRatio,
		s.rand01,
	)
}

// ScheduleRetry records one failed attempt. It bumps the retry counter and
// either parks the message in RETRYING with a backoff deadline, or hands
// it to the dead letter store when retries are exhausted. It reports
// whether the message was dead-lettered.
func (s *Scheduler) ScheduleRetry(ctx context.Context, msg *models.IntegrationMessage, cause error) (bool, error) {
	maxRetries := msg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.cfg.MaxRetries
	}

	if cause != nil {
		msg.LastError = cause.Error()
	}

	if msg.RetryCount >= maxRetries {
		// Exhausted. The counter stays at the cap instead of recording an
		// attempt the message was never granted.
		detail := msg.LastError
		if detail == "" {
			detail = "retries exhausted"
		}
		if err := s.deadLetter.MoveToDeadLetter(ctx, msg, models.DLQReasonMaxRetriesExceeded, detail); err != nil {
			return false, err
		}
		return true, nil
	}

	msg.RetryCount++
	delay := s.BackoffDelay(msg.RetryCount)
	nextRetryAt := s.now().Add(delay)

	msg.Status = models.StatusRetrying
	msg.NextRetryAt = &nextRetryAt
	if err := s.messages.Update(ctx, msg); err != nil {
		return false, err
	}

	metrics.RetriesScheduledTotal.Inc()
	s.logger.InfowCtx(ctx, "Retry scheduled",
		"message_id", msg.ID,
		"attempt", msg.RetryCount,
		"max_retries", maxRetries,
		"delay_ms", delay.Milliseconds(),
	)

	return false, nil
}

// RunRetrySweep picks up due RETRYING messages and re-runs them through
// the pipeline, oldest deadline first. Overlapping sweeps are skipped
// rather than queued. One poisoned message never stops the batch.
func (s *Scheduler) RunRetrySweep(ctx context.Context) error {
	if !s.sweeping.TryLock() {
		s.logger.DebugwCtx(ctx, "Retry sweep already running, skipping tick")
		return nil
	}
	defer s.sweeping.Unlock()

	processor := s.getProcessor()
	if processor == nil {
		return errors.ErrInternal.WithDetail("reason", "retry processor not wired")
	}

	start := s.now()
	due, err := s.messages.FindDueRetries(ctx, start, s.cfg.SweepBatch)
	if err != nil {
		return err
	}

	for i := range due {
		msg := &due[i]
		if err := s.processOne(ctx, processor, msg); err != nil {
			s.logger.ErrorwCtx(ctx, "Retry attempt failed",
				"message_id", msg.ID,
				"error", err,
			)
		}
	}

	metrics.RetrySweepDuration.Observe(float64(time.Since(start).Milliseconds()))
	if len(due) > 0 {
		s.logger.InfowCtx(ctx, "Retry sweep finished",
			"picked_up", len(due),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	return nil
}

func (s *Scheduler) processOne(ctx context.Context, processor ProcessFunc, msg *models.IntegrationMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()
	return processor(ctx, msg)
}
