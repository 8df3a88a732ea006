package store

import (
	"context"
	"time"

	"hub/pkg/models"
)

// MessageFilter narrows message queries. Zero values mean "no constraint".
type MessageFilter struct {
	Status    models.MessageStatus
	Connector string
	Type      string
	Limit     int
	Offset    int
}

type MessageRepository interface {
	Create(ctx context.Context, msg *models.IntegrationMessage) error
	Get(ctx context.Context, id string) (*models.IntegrationMessage, error)
	Update(ctx context.Context, msg *models.IntegrationMessage) error
	List(ctx context.Context, filter MessageFilter) ([]models.IntegrationMessage, error)
	Count(ctx context.Context, filter MessageFilter) (int64, error)

	// FindByIdempotencyKey returns the most recent non-FAILED message with
	// the given key, or nil when none exists.
	FindByIdempotencyKey(ctx context.Context, key string) (*models.IntegrationMessage, error)

	// FindDueRetries returns up to limit RETRYING messages whose
	// next_retry_at is at or before now, ordered by next_retry_at ascending.
	FindDueRetries(ctx context.Context, now time.Time, limit int) ([]models.IntegrationMessage, error)
}

// ConnectorRepository exposes plain reads plus the atomic read-modify-write
// primitives the breaker and limiter are built on. Every mutating primitive
// is a single conditional update against the connector's own record, so
// concurrent callers cannot lose increments.
type ConnectorRepository interface {
	Get(ctx context.Context, code string) (*models.IntegrationConnector, error)
	Create(ctx context.Context, conn *models.IntegrationConnector) error
	List(ctx context.Context, activeOnly bool) ([]models.IntegrationConnector, error)

	UpdateHealth(ctx context.Context, code string, status models.HealthStatus, details string, checkedAt time.Time) error
	IncrementStats(ctx context.Context, code string, success bool) error

	// IncrementFailureIfClosed bumps failure_count while the circuit is
	// CLOSED and returns the post-increment record; nil when the circuit
	// was not CLOSED.
	IncrementFailureIfClosed(ctx context.Context, code string) (*models.IntegrationConnector, error)

	// IncrementSuccessIfHalfOpen bumps success_count while HALF_OPEN and
	// returns the post-increment record; nil when not HALF_OPEN.
	IncrementSuccessIfHalfOpen(ctx context.Context, code string) (*models.IntegrationConnector, error)

	// ResetFailuresIfClosed zeroes failure_count while CLOSED.
	ResetFailuresIfClosed(ctx context.Context, code string) error

	// TransitionCircuit moves the circuit from one state to another as a
	// compare-and-swap; it reports false when the circuit was no longer in
	// the from state. Field resets follow the target state: OPEN records
	// circuit_opened_at and zeroes success_count, HALF_OPEN records
	// half_open_at and zeroes success_count, CLOSED clears both counters
	// and both timestamps.
	TransitionCircuit(ctx context.Context, code string, from, to models.CircuitState, at time.Time) (bool, error)

	// ResetWindow starts a fresh rate-limit window with count 1, guarded by
	// the previously observed window_start; reports false when another
	// caller reset it first.
	ResetWindow(ctx context.Context, code string, prevStart *time.Time, now time.Time) (bool, error)

	// IncrementWindow admits one request in the window started at start,
	// as long as current_count is below limit. Returns the post-increment
	// count and true, or 0 and false when the window moved or is full.
	IncrementWindow(ctx context.Context, code string, start time.Time, limit int) (int, bool, error)
}

type TransformationRepository interface {
	Create(ctx context.Context, t *models.IntegrationTransformation) error
	Get(ctx context.Context, id string) (*models.IntegrationTransformation, error)
	List(ctx context.Context) ([]models.IntegrationTransformation, error)

	// FindBest returns the highest-priority active rule matching the
	// triple, ties broken by created_at ascending then id ascending; nil
	// when no rule matches.
	FindBest(ctx context.Context, sourceConnector, targetConnector, sourceType string) (*models.IntegrationTransformation, error)
}

// DeadLetterFilter narrows dead-letter queries.
type DeadLetterFilter struct {
	Connector      string
	Reason         string
	RetryableOnly  bool
	NotReprocessed bool
	Limit          int
	Offset         int
}

type DeadLetterRepository interface {
	Create(ctx context.Context, dl *models.IntegrationDeadLetter) error
	Get(ctx context.Context, id string) (*models.IntegrationDeadLetter, error)
	Update(ctx context.Context, dl *models.IntegrationDeadLetter) error
	List(ctx context.Context, filter DeadLetterFilter) ([]models.IntegrationDeadLetter, error)
	Count(ctx context.Context, filter DeadLetterFilter) (int64, error)
	Stats(ctx context.Context) (*models.DeadLetterStats, error)
}

// Store bundles the four repositories the engine runs on.
type Store struct {
	Messages        MessageRepository
	Connectors      ConnectorRepository
	Transformations TransformationRepository
	DeadLetters     DeadLetterRepository
}
