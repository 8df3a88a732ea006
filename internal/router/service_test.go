package router

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hub/internal/circuit"
	"hub/internal/config"
	"hub/internal/deadletter"
	"hub/internal/idempotency"
	"hub/internal/logger"
	"hub/internal/ratelimit"
	"hub/internal/scheduler"
	"hub/internal/store"
	"hub/internal/transform"
	"hub/pkg/cel"
	"hub/pkg/errors"
	"hub/pkg/models"
)

type recordingDispatcher struct {
	dispatched []string
	deadlines  []time.Time
	err        error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, msg *models.IntegrationMessage) error {
	if deadline, ok := ctx.Deadline(); ok {
		d.deadlines = append(d.deadlines, deadline)
	}
	if d.err != nil {
		return d.err
	}
	d.dispatched = append(d.dispatched, msg.ID)
	return nil
}

type pipeline struct {
	svc        *Service
	store      *store.Store
	dispatcher *recordingDispatcher
	deadLetter *deadletter.Manager
}

func newTestPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx := context.Background()

	s := store.NewMemoryStore()
	log, err := logger.New("error")
	require.NoError(t, err)

	require.NoError(t, s.Connectors.Create(ctx, &models.IntegrationConnector{
		Code:            "crm",
		IsActive:        true,
		CircuitState:    models.CircuitClosed,
		HealthStatus:    models.HealthHealthy,
		RateLimit:       100,
		RateLimitWindow: 60,
	}))
	require.NoError(t, s.Connectors.Create(ctx, &models.IntegrationConnector{
		Code:             "erp",
		IsActive:         true,
		CircuitState:     models.CircuitClosed,
		HealthStatus:     models.HealthHealthy,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}))
	require.NoError(t, s.Connectors.Create(ctx, &models.IntegrationConnector{
		Code:         "retired",
		IsActive:     false,
		CircuitState: models.CircuitClosed,
	}))

	require.NoError(t, s.Transformations.Create(ctx, &models.IntegrationTransformation{
		ID:              "t-order",
		SourceConnector: "crm",
		TargetConnector: "erp",
		SourceType:      "order.created",
		TargetType:      "sales.order",
		IsActive:        true,
		SourceToCanonical: models.RuleSet{
			Mappings: []models.Mapping{
				{Source: "order.id", Target: "order.reference"},
				{Source: "order.total", Target: "order.amount"},
			},
			Defaults: map[string]interface{}{"order.currency": "USD"},
		},
		CanonicalToTarget: models.RuleSet{
			Mappings: []models.Mapping{
				{Source: "order.reference", Target: "salesOrder.ref"},
				{Source: "order.amount", Target: "salesOrder.amount"},
				{Source: "order.currency", Target: "salesOrder.currency"},
			},
		},
	}))

	evaluator, err := cel.NewEvaluator()
	require.NoError(t, err)
	engine := transform.NewEngine(s.Transformations, transform.NewExprEvaluator(evaluator), log)

	cfg := config.HubConfig{
		Retry: config.MessageRetryConfig{
			MaxRetries: 2,
			BaseDelay:  time.Second,
			MaxDelay:   time.Minute,
			Multiplier: 2.0,
		},
		Idempotency:  config.IdempotencyConfig{TTL: time.Hour},
		Circuit:      config.CircuitConfig{OpenTimeout: 30 * time.Second},
		StoreTimeout: 5 * time.Second,
	}

	guard := idempotency.NewGuard(idempotency.NewMemoryCache(), s.Messages, cfg.Idempotency.TTL, log)
	dlm := deadletter.NewManager(s, log)
	sched := scheduler.NewScheduler(s.Messages, dlm, cfg.Retry, log)
	dispatcher := &recordingDispatcher{}

	svc := NewService(
		s,
		guard,
		ratelimit.NewLimiter(s.Connectors),
		circuit.NewBreaker(s.Connectors, 30*time.Second, log),
		engine,
		sched,
		dlm,
		dispatcher,
		cfg,
		log,
	)

	return &pipeline{svc: svc, store: s, dispatcher: dispatcher, deadLetter: dlm}
}

func orderRequest() *models.RouteRequest {
	return &models.RouteRequest{
		SourceConnector: "crm",
		TargetConnector: "erp",
		Type:            "order.created",
		Payload: map[string]interface{}{
			"order": map[string]interface{}{"id": "O-1", "total": 99.5},
		},
	}
}

func TestRouteMessageHappyPath(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	result := p.svc.RouteMessage(ctx, orderRequest())

	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.NotEmpty(t, result.MessageID)
	assert.Empty(t, result.Error)
	assert.Equal(t, []string{result.MessageID}, p.dispatcher.dispatched)

	msg, err := p.store.Messages.Get(ctx, result.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, msg.Status)
	assert.Equal(t, map[string]interface{}{
		"salesOrder": map[string]interface{}{
			"ref":      "O-1",
			"amount":   99.5,
			"currency": "USD",
		},
	}, msg.TargetPayload)
	assert.NotNil(t, msg.TransformedAt)
	assert.NotNil(t, msg.CompletedAt)

	erp, err := p.store.Connectors.Get(ctx, "erp")
	require.NoError(t, err)
	assert.Equal(t, int64(1), erp.TotalMessages)
	assert.Equal(t, int64(1), erp.SuccessfulMessages)
}

func TestRouteMessageDuplicateShortCircuits(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	req := orderRequest()
	req.IdempotencyKey = "key-1"
	first := p.svc.RouteMessage(ctx, req)
	require.Equal(t, models.StatusCompleted, first.Status)

	second := p.svc.RouteMessage(ctx, req)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Equal(t, models.StatusCompleted, second.Status)

	// Nothing was dispatched twice.
	assert.Len(t, p.dispatcher.dispatched, 1)
}

func TestRouteMessageKeyReuseWithDifferentPayload(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	req := orderRequest()
	req.IdempotencyKey = "key-1"
	first := p.svc.RouteMessage(ctx, req)
	require.Equal(t, models.StatusCompleted, first.Status)

	other := orderRequest()
	other.IdempotencyKey = "key-1"
	other.Payload = map[string]interface{}{
		"order": map[string]interface{}{"id": "O-2", "total": 10.0},
	}
	second := p.svc.RouteMessage(ctx, other)
	assert.False(t, second.Duplicate)
	assert.Equal(t, models.StatusCompleted, second.Status)
	assert.NotEqual(t, first.MessageID, second.MessageID)
}

func TestRouteMessageValidationRejection(t *testing.T) {
	p := newTestPipeline(t)

	req := orderRequest()
	req.Type = ""
	result := p.svc.RouteMessage(context.Background(), req)

	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, errors.ErrValidation.Code, result.Error)
	assert.Empty(t, result.MessageID)
}

func TestRouteMessageUnknownConnector(t *testing.T) {
	p := newTestPipeline(t)

	req := orderRequest()
	req.TargetConnector = "nope"
	result := p.svc.RouteMessage(context.Background(), req)

	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, errors.ErrNotFound.Code, result.Error)
}

func TestRouteMessageInactiveConnectorRejected(t *testing.T) {
	p := newTestPipeline(t)

	req := orderRequest()
	req.SourceConnector = "retired"
	result := p.svc.RouteMessage(context.Background(), req)

	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, errors.ErrNotFound.Code, result.Error)
}

func TestRouteMessageRateLimited(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.store.Connectors.Create(ctx, &models.IntegrationConnector{
		Code:            "drip",
		IsActive:        true,
		CircuitState:    models.CircuitClosed,
		RateLimit:       1,
		RateLimitWindow: 60,
	}))
	require.NoError(t, p.store.Transformations.Create(ctx, &models.IntegrationTransformation{
		ID:              "t-drip",
		SourceConnector: "drip",
		TargetConnector: "erp",
		SourceType:      "order.created",
		IsActive:        true,
		SourceToCanonical: models.RuleSet{
			Mappings: []models.Mapping{{Source: "order.id", Target: "order.reference"}},
		},
		CanonicalToTarget: models.RuleSet{
			Mappings: []models.Mapping{{Source: "order.reference", Target: "ref"}},
		},
	}))

	req := orderRequest()
	req.SourceConnector = "drip"
	first := p.svc.RouteMessage(ctx, req)
	require.Equal(t, models.StatusCompleted, first.Status)

	// The denied submission is parked, not failed: no retry is consumed
	// and the breaker hears nothing.
	second := p.svc.RouteMessage(ctx, req)
	assert.Equal(t, models.StatusRetrying, second.Status)
	assert.True(t, second.RetryScheduled)
	assert.Equal(t, errors.ErrRateLimited.Code, second.Error)
	assert.Contains(t, second.Note, "window resets at")
	require.NotEmpty(t, second.MessageID)

	parked, err := p.store.Messages.Get(ctx, second.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetrying, parked.Status)
	assert.Zero(t, parked.RetryCount)
	require.NotNil(t, parked.NextRetryAt)

	erp, err := p.store.Connectors.Get(ctx, "erp")
	require.NoError(t, err)
	assert.Zero(t, erp.FailureCount)
}

func TestRouteMessageCircuitOpenParksForRetry(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	openedAt := time.Now()
	ok, err := p.store.Connectors.TransitionCircuit(ctx, "erp", models.CircuitClosed, models.CircuitOpen, openedAt)
	require.NoError(t, err)
	require.True(t, ok)

	result := p.svc.RouteMessage(ctx, orderRequest())
	assert.Equal(t, models.StatusRetrying, result.Status)
	assert.True(t, result.RetryScheduled)
	assert.Equal(t, errors.ErrCircuitOpen.Code, result.Error)
	assert.Empty(t, p.dispatcher.dispatched)
	require.NotEmpty(t, result.MessageID)

	parked, err := p.store.Messages.Get(ctx, result.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetrying, parked.Status)
	assert.Zero(t, parked.RetryCount)
	require.NotNil(t, parked.NextRetryAt)
	// The first attempt lands once the circuit may be half-open.
	assert.WithinDuration(t, openedAt.Add(30*time.Second), *parked.NextRetryAt, 5*time.Second)
}

func TestRouteMessageNoTransformationRetriesThenDeadLetters(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	req := orderRequest()
	req.Type = "order.cancelled"
	result := p.svc.RouteMessage(ctx, req)

	assert.Equal(t, models.StatusRetrying, result.Status)
	assert.True(t, result.RetryScheduled)
	assert.Contains(t, result.Error, "no transformation")

	msg, err := p.store.Messages.Get(ctx, result.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetrying, msg.Status)
	assert.Equal(t, 1, msg.RetryCount)

	require.NoError(t, p.svc.ProcessMessage(ctx, msg))
	require.NoError(t, p.svc.ProcessMessage(ctx, msg))
	assert.Equal(t, models.StatusDeadLetter, msg.Status)

	records, err := p.store.DeadLetters.List(ctx, store.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.DLQReasonMaxRetriesExceeded, records[0].Reason)

	// A configuration gap is not a connector fault.
	erp, err := p.store.Connectors.Get(ctx, "erp")
	require.NoError(t, err)
	assert.Zero(t, erp.FailureCount)
	assert.Equal(t, models.CircuitClosed, erp.CircuitState)
}

func TestRouteMessageDeliveryFailureSchedulesRetry(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	p.dispatcher.err = fmt.Errorf("erp unavailable")
	result := p.svc.RouteMessage(ctx, orderRequest())

	assert.Equal(t, models.StatusRetrying, result.Status)
	assert.True(t, result.RetryScheduled)
	assert.Equal(t, "erp unavailable", result.Error)

	msg, err := p.store.Messages.Get(ctx, result.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetrying, msg.Status)
	assert.Equal(t, 1, msg.RetryCount)
	assert.NotNil(t, msg.NextRetryAt)

	erp, err := p.store.Connectors.Get(ctx, "erp")
	require.NoError(t, err)
	assert.Equal(t, 1, erp.FailureCount)
	assert.Equal(t, int64(1), erp.FailedMessages)
}

func TestRouteMessageRetriesExhaustToDeadLetter(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	p.dispatcher.err = fmt.Errorf("erp unavailable")
	result := p.svc.RouteMessage(ctx, orderRequest())
	require.Equal(t, models.StatusRetrying, result.Status)

	// Re-run the message the way the retry sweep would until retries run
	// out.
	msg, err := p.store.Messages.Get(ctx, result.MessageID)
	require.NoError(t, err)
	require.NoError(t, p.svc.ProcessMessage(ctx, msg))
	require.Equal(t, models.StatusRetrying, msg.Status)
	require.NoError(t, p.svc.ProcessMessage(ctx, msg))

	assert.Equal(t, models.StatusDeadLetter, msg.Status)
	assert.LessOrEqual(t, msg.RetryCount, msg.MaxRetries)

	records, err := p.store.DeadLetters.List(ctx, store.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, result.MessageID, records[0].OriginalMessageID)
	assert.Equal(t, models.DLQReasonMaxRetriesExceeded, records[0].Reason)
	assert.True(t, records[0].Retryable)

	stored, err := p.store.Messages.Get(ctx, result.MessageID)
	require.NoError(t, err)
	assert.LessOrEqual(t, stored.RetryCount, stored.MaxRetries)
}

func TestRouteMessageTransformationFailureRetriesThenDeadLetters(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.store.Transformations.Create(ctx, &models.IntegrationTransformation{
		ID:              "t-broken",
		SourceConnector: "crm",
		TargetConnector: "erp",
		SourceType:      "order.updated",
		IsActive:        true,
		SourceToCanonical: models.RuleSet{
			Mappings: []models.Mapping{{Source: "", Target: "order.reference"}},
		},
		CanonicalToTarget: models.RuleSet{
			Mappings: []models.Mapping{{Source: "order.reference", Target: "ref"}},
		},
	}))

	req := orderRequest()
	req.Type = "order.updated"
	result := p.svc.RouteMessage(ctx, req)

	// A transform failure walks the same retry ladder as a delivery
	// failure, and it does count against the breaker.
	assert.Equal(t, models.StatusRetrying, result.Status)
	assert.True(t, result.RetryScheduled)
	assert.Contains(t, result.Error, "transformation failed")

	erp, err := p.store.Connectors.Get(ctx, "erp")
	require.NoError(t, err)
	assert.Equal(t, 1, erp.FailureCount)

	msg, err := p.store.Messages.Get(ctx, result.MessageID)
	require.NoError(t, err)
	require.NoError(t, p.svc.ProcessMessage(ctx, msg))
	require.NoError(t, p.svc.ProcessMessage(ctx, msg))
	assert.Equal(t, models.StatusDeadLetter, msg.Status)

	records, err := p.store.DeadLetters.List(ctx, store.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.DLQReasonMaxRetriesExceeded, records[0].Reason)
}

func TestDeadLetterReprocessRunsFullPipeline(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	p.dispatcher.err = fmt.Errorf("erp unavailable")
	result := p.svc.RouteMessage(ctx, orderRequest())
	msg, err := p.store.Messages.Get(ctx, result.MessageID)
	require.NoError(t, err)
	require.NoError(t, p.svc.ProcessMessage(ctx, msg))
	require.NoError(t, p.svc.ProcessMessage(ctx, msg))
	require.Equal(t, models.StatusDeadLetter, msg.Status)

	records, err := p.store.DeadLetters.List(ctx, store.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	// The target recovers; an operator replays the dead letter.
	p.dispatcher.err = nil
	require.NoError(t, p.deadLetter.Reprocess(ctx, records[0].ID, "ops-7"))

	replayed, err := p.store.Messages.Get(ctx, result.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, replayed.Status)
	assert.Zero(t, replayed.RetryCount)
	assert.Empty(t, replayed.DLQReason)
}

func TestRouteMessageDuplicateReportsCompletedWhileInFlight(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	p.dispatcher.err = fmt.Errorf("erp unavailable")
	req := orderRequest()
	req.IdempotencyKey = "key-1"
	first := p.svc.RouteMessage(ctx, req)
	require.Equal(t, models.StatusRetrying, first.Status)

	// The duplicate short-circuit always answers COMPLETED with a note,
	// whatever state the original is actually in.
	second := p.svc.RouteMessage(ctx, req)
	assert.True(t, second.Duplicate)
	assert.Equal(t, models.StatusCompleted, second.Status)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Contains(t, second.Note, "duplicate idempotency key")
}

func TestRouteMessagePipelineCarriesDeadline(t *testing.T) {
	p := newTestPipeline(t)

	before := time.Now()
	result := p.svc.RouteMessage(context.Background(), orderRequest())
	require.Equal(t, models.StatusCompleted, result.Status)

	require.Len(t, p.dispatcher.deadlines, 1)
	assert.WithinDuration(t, before.Add(5*time.Second), p.dispatcher.deadlines[0], time.Second)
}

func TestRouteMessageWithoutDispatcherCompletes(t *testing.T) {
	p := newTestPipeline(t)
	p.svc.dispatcher = nil

	result := p.svc.RouteMessage(context.Background(), orderRequest())
	assert.Equal(t, models.StatusCompleted, result.Status)
}
