package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hub/internal/circuit"
	"hub/internal/config"
	"hub/internal/constants"
	"hub/internal/deadletter"
	"hub/internal/idempotency"
	"hub/internal/logger"
	"hub/internal/ratelimit"
	"hub/internal/scheduler"
	"hub/internal/store"
	"hub/internal/transform"
	"hub/pkg/errors"
	"hub/pkg/metrics"
	"hub/pkg/models"
)

// Dispatcher delivers a fully transformed message to its target connector.
// The broker egress implements it; a nil dispatcher means delivery is a
// no-op, which is how the hub runs without Kafka.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *models.IntegrationMessage) error
}

// Service is the routing orchestrator. It runs every inbound message
// through the same gauntlet: validation, idempotency, rate limiting,
// circuit check, persistence, transformation, delivery. Errors never
// escape its boundary; callers always get a RouteResult.
type Service struct {
	store      *store.Store
	guard      *idempotency.Guard
	limiter    *ratelimit.Limiter
	breaker    *circuit.Breaker
	engine     *transform.Engine
	scheduler  *scheduler.Scheduler
	deadLetter *deadletter.Manager
	dispatcher Dispatcher
	cfg        config.HubConfig
	logger     logger.Logger

	now func() time.Time
}

func NewService(
	s *store.Store,
	guard *idempotency.Guard,
	limiter *ratelimit.Limiter,
	breaker *circuit.Breaker,
	engine *transform.Engine,
	sched *scheduler.Scheduler,
	dlm *deadletter.Manager,
	dispatcher Dispatcher,
	cfg config.HubConfig,
	log logger.Logger,
) *Service {
	svc := &Service{
		store:      s,
		guard:      guard,
		limiter:    limiter,
		breaker:    breaker,
		engine:     engine,
		scheduler:  sched,
		deadLetter: dlm,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     log,
		now:        time.Now,
	}

	// The sweeps re-enter the pipeline through the same code path new
	// messages take.
	sched.SetProcessor(svc.ProcessMessage)
	dlm.SetProcessor(svc.ProcessMessage)

	return svc
}

// RouteMessage accepts a submission and drives it as far as it can get in
// one pass: COMPLETED on success, RETRYING or DEAD_LETTER on delivery
// failure, FAILED on rejections that never produce a persisted message.
func (s *Service) RouteMessage(ctx context.Context, req *models.RouteRequest) *models.RouteResult {
	start := s.now()
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout())
	defer cancel()
	result := s.route(ctx, req)

	metrics.MessagesRoutedTotal.WithLabelValues(string(result.Status)).Inc()
	metrics.ObserveRouteDuration(time.Since(start), string(result.Status))

	return result
}

func (s *Service) route(ctx context.Context, req *models.RouteRequest) *models.RouteResult {
	if err := models.ValidateRouteRequest(req); err != nil {
		return rejected(errors.ErrValidation.Code, err.Error())
	}

	source, err := s.activeConnector(ctx, req.SourceConnector)
	if err != nil {
		return s.internalFailure(ctx, "load source connector", err)
	}
	if source == nil {
		return rejected(errors.ErrNotFound.Code, fmt.Sprintf("unknown or inactive source connector %q", req.SourceConnector))
	}
	target, err := s.activeConnector(ctx, req.TargetConnector)
	if err != nil {
		return s.internalFailure(ctx, "load target connector", err)
	}
	if target == nil {
		return rejected(errors.ErrNotFound.Code, fmt.Sprintf("unknown or inactive target connector %q", req.TargetConnector))
	}

	var payloadHash string
	if req.IdempotencyKey != "" {
		payloadHash, err = s.guard.HashPayload(req.Payload)
		if err != nil {
			return rejected(errors.ErrValidation.Code, fmt.Sprintf("payload not hashable: %v", err))
		}

		check, err := s.guard.Check(ctx, req.IdempotencyKey, payloadHash)
		if err != nil {
			return s.internalFailure(ctx, "idempotency check", err)
		}
		if check.IsDuplicate {
			return s.duplicateResult(req.IdempotencyKey, check.ExistingMessageID)
		}
	}

	decision, err := s.limiter.Check(ctx, req.SourceConnector)
	if err != nil {
		return s.internalFailure(ctx, "rate limit check", err)
	}
	if !decision.Allowed {
		return s.parkForRetry(ctx, req, payloadHash, errors.ErrRateLimited.Code, decision.ResetAt,
			fmt.Sprintf("rate limit exceeded for connector %q, window resets at %s",
				req.SourceConnector, decision.ResetAt.UTC().Format(time.RFC3339)))
	}

	allowed, err := s.breaker.Allow(ctx, req.TargetConnector)
	if err != nil {
		return s.internalFailure(ctx, "circuit check", err)
	}
	if !allowed {
		return s.parkForRetry(ctx, req, payloadHash, errors.ErrCircuitOpen.Code, s.now().Add(s.circuitOpenTimeout()),
			fmt.Sprintf("circuit open for connector %q", req.TargetConnector))
	}

	msg := s.newMessage(req, payloadHash)
	if err := s.store.Messages.Create(ctx, msg); err != nil {
		return s.internalFailure(ctx, "persist message", err)
	}
	if req.IdempotencyKey != "" {
		s.guard.Register(ctx, req.IdempotencyKey, payloadHash, msg.ID)
	}

	s.logger.InfowCtx(ctx, "Message accepted",
		"message_id", msg.ID,
		"source_connector", msg.SourceConnector,
		"target_connector", msg.TargetConnector,
		"type", msg.Type,
	)

	return s.process(ctx, msg)
}

// ProcessMessage re-runs a persisted message through the pipeline. The
// retry sweep and dead letter reprocessing come in here.
func (s *Service) ProcessMessage(ctx context.Context, msg *models.IntegrationMessage) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout())
	defer cancel()
	result := s.process(ctx, msg)
	if result.Status == models.StatusFailed && result.Error != "" {
		return fmt.Errorf("%s", result.Error)
	}
	return nil
}

func (s *Service) process(ctx context.Context, msg *models.IntegrationMessage) *models.RouteResult {
	msg.Status = models.StatusTransforming
	if err := s.store.Messages.Update(ctx, msg); err != nil {
		return s.internalFailure(ctx, "update message", err)
	}

	tr, err := s.engine.Transform(ctx, msg)
	if err != nil {
		if errors.IsNoTransformation(err) {
			// Configuration gap, not a connector fault: the message walks
			// the usual retry/DLQ ladder, but the breaker never hears
			// about it. A rule created before retries run out rescues it.
			return s.scheduleOrDeadLetter(ctx, msg, err)
		}
		return s.handleDeliveryFailure(ctx, msg, err)
	}
	if !tr.Success {
		return s.handleDeliveryFailure(ctx, msg,
			fmt.Errorf("transformation failed: %s", strings.Join(tr.Errors, "; ")))
	}

	now := s.now()
	msg.CanonicalPayload = tr.CanonicalPayload
	msg.TargetPayload = tr.TargetPayload
	msg.TransformedAt = &now
	msg.Status = models.StatusRouting
	if err := s.store.Messages.Update(ctx, msg); err != nil {
		return s.internalFailure(ctx, "update message", err)
	}

	msg.Status = models.StatusProcessing
	if err := s.store.Messages.Update(ctx, msg); err != nil {
		return s.internalFailure(ctx, "update message", err)
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
			return s.handleDeliveryFailure(ctx, msg, err)
		}
	}

	completed := s.now()
	msg.Status = models.StatusCompleted
	msg.ProcessedAt = &completed
	msg.CompletedAt = &completed
	msg.LastError = ""
	msg.NextRetryAt = nil
	if err := s.store.Messages.Update(ctx, msg); err != nil {
		return s.internalFailure(ctx, "update message", err)
	}

	if err := s.breaker.RecordSuccess(ctx, msg.TargetConnector); err != nil {
		s.logger.WarnwCtx(ctx, "Recording circuit success failed", "connector", msg.TargetConnector, "error", err)
	}
	_ = s.store.Connectors.IncrementStats(ctx, msg.TargetConnector, true)

	s.logger.InfowCtx(ctx, "Message completed",
		"message_id", msg.ID,
		"target_connector", msg.TargetConnector,
	)

	return &models.RouteResult{MessageID: msg.ID, Status: models.StatusCompleted}
}

// handleDeliveryFailure is the shared failure path for transient errors:
// the breaker and connector stats record the failure, then the scheduler
// decides between another retry and the dead letter store.
func (s *Service) handleDeliveryFailure(ctx context.Context, msg *models.IntegrationMessage, cause error) *models.RouteResult {
	if err := s.breaker.RecordFailure(ctx, msg.TargetConnector); err != nil {
		s.logger.WarnwCtx(ctx, "Recording circuit failure failed", "connector", msg.TargetConnector, "error", err)
	}
	_ = s.store.Connectors.IncrementStats(ctx, msg.TargetConnector, false)

	return s.scheduleOrDeadLetter(ctx, msg, cause)
}

func (s *Service) scheduleOrDeadLetter(ctx context.Context, msg *models.IntegrationMessage, cause error) *models.RouteResult {
	movedToDLQ, err := s.scheduler.ScheduleRetry(ctx, msg, cause)
	if err != nil {
		return s.internalFailure(ctx, "schedule retry", err)
	}

	if movedToDLQ {
		return &models.RouteResult{
			MessageID:  msg.ID,
			Status:     models.StatusDeadLetter,
			Error:      cause.Error(),
			MovedToDLQ: true,
		}
	}
	return &models.RouteResult{
		MessageID:      msg.ID,
		Status:         models.StatusRetrying,
		Error:          cause.Error(),
		RetryScheduled: true,
	}
}

// parkForRetry persists a submission that a guard turned away and books
// its first processing attempt for when the obstacle should be gone.
// Being turned away is not a failure: no retry is consumed and the
// breaker never hears about it.
func (s *Service) parkForRetry(ctx context.Context, req *models.RouteRequest, payloadHash, code string, retryAt time.Time, note string) *models.RouteResult {
	msg := s.newMessage(req, payloadHash)
	msg.Status = models.StatusRetrying
	msg.NextRetryAt = &retryAt
	if err := s.store.Messages.Create(ctx, msg); err != nil {
		return s.internalFailure(ctx, "persist message", err)
	}
	if req.IdempotencyKey != "" {
		s.guard.Register(ctx, req.IdempotencyKey, payloadHash, msg.ID)
	}

	s.logger.InfowCtx(ctx, "Message parked for retry",
		"message_id", msg.ID,
		"reason", code,
		"next_retry_at", retryAt.UTC().Format(time.RFC3339),
	)

	return &models.RouteResult{
		MessageID:      msg.ID,
		Status:         models.StatusRetrying,
		Error:          code,
		Note:           note,
		RetryScheduled: true,
	}
}

func (s *Service) duplicateResult(key, existingID string) *models.RouteResult {
	return &models.RouteResult{
		MessageID: existingID,
		Status:    models.StatusCompleted,
		Duplicate: true,
		Note:      fmt.Sprintf("duplicate idempotency key %q", key),
	}
}

func (s *Service) activeConnector(ctx context.Context, code string) (*models.IntegrationConnector, error) {
	conn, err := s.store.Connectors.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if conn == nil || !conn.IsActive {
		return nil, nil
	}
	return conn, nil
}

func (s *Service) newMessage(req *models.RouteRequest, payloadHash string) *models.IntegrationMessage {
	maxRetries := s.cfg.Retry.MaxRetries
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		maxRetries = *req.MaxRetries
	}

	return &models.IntegrationMessage{
		ID:              uuid.New().String(),
		CorrelationID:   req.CorrelationID,
		SourceConnector: req.SourceConnector,
		TargetConnector: req.TargetConnector,
		Direction:       models.DirectionInbound,
		Type:            req.Type,
		Priority:        req.Priority,
		SourcePayload:   req.Payload,
		IdempotencyKey:  req.IdempotencyKey,
		ProcessedHash:   payloadHash,
		Status:          models.StatusPending,
		MaxRetries:      maxRetries,
		ReceivedAt:      s.now(),
	}
}

// storeTimeout bounds one full pipeline pass. Store and transform calls
// all inherit it, so nothing blocks past the configured ceiling; a
// deadline hit flows into the normal retry/DLQ path.
func (s *Service) storeTimeout() time.Duration {
	if s.cfg.StoreTimeout > 0 {
		return s.cfg.StoreTimeout
	}
	return constants.DefaultStoreTimeout
}

func (s *Service) circuitOpenTimeout() time.Duration {
	if s.cfg.Circuit.OpenTimeout > 0 {
		return s.cfg.Circuit.OpenTimeout
	}
	return constants.DefaultCircuitOpenTimeout
}

func (s *Service) internalFailure(ctx context.Context, op string, err error) *models.RouteResult {
	s.logger.ErrorwCtx(ctx, "Routing pipeline error", "operation", op, "error", err)
	return &models.RouteResult{
		Status: models.StatusFailed,
		Error:  fmt.Sprintf("%s: %v", op, err),
	}
}

func rejected(code, detail string) *models.RouteResult {
	return &models.RouteResult{
		Status: models.StatusFailed,
		Error:  code,
		Note:   detail,
	}
}
