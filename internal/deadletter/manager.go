package deadletter

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"hub/internal/constants"
	"hub/internal/logger"
	"hub/internal/store"
	"hub/pkg/errors"
	"hub/pkg/metrics"
	"hub/pkg/models"
)

// ProcessFunc re-runs a reset message through the routing pipeline. The
// router provides it after construction.
type ProcessFunc func(ctx context.Context, msg *models.IntegrationMessage) error

// Manager owns the dead letter store: it parks terminal failures there and
// brings retryable ones back through the pipeline on operator request.
type Manager struct {
	deadLetters store.DeadLetterRepository
	messages    store.MessageRepository
	connectors  store.ConnectorRepository
	logger      logger.Logger

	now func() time.Time

	mu        sync.Mutex
	processor ProcessFunc
}

func NewManager(s *store.Store, log logger.Logger) *Manager {
	return &Manager{
		deadLetters: s.DeadLetters,
		messages:    s.Messages,
		connectors:  s.Connectors,
		logger:      log,
		now:         time.Now,
	}
}

// SetProcessor wires the routing pipeline in. Must be called before the
// first Reprocess.
func (m *Manager) SetProcessor(fn ProcessFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processor = fn
}

func (m *Manager) getProcessor() ProcessFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processor
}

// MoveToDeadLetter records the message's terminal failure and flips the
// message itself to DEAD_LETTER. Whether the record is retryable follows
// from the reason alone.
func (m *Manager) MoveToDeadLetter(ctx context.Context, msg *models.IntegrationMessage, reason, detail string) error {
	now := m.now()

	dl := &models.IntegrationDeadLetter{
		ID:                uuid.New().String(),
		OriginalMessageID: msg.ID,
		Connector:         msg.TargetConnector,
		Reason:            reason,
		ErrorMessage:      detail,
		Payload:           msg.SourcePayload,
		Retryable:         models.IsRetryableReason(reason),
		CreatedAt:         now,
	}
	if err := m.deadLetters.Create(ctx, dl); err != nil {
		return err
	}

	msg.Status = models.StatusDeadLetter
	msg.DLQReason = reason
	msg.LastError = detail
	msg.NextRetryAt = nil
	msg.MovedToDLQAt = &now
	if err := m.messages.Update(ctx, msg); err != nil {
		return err
	}

	metrics.DeadLettersTotal.WithLabelValues(msg.TargetConnector, reason).Inc()
	m.logger.WarnwCtx(ctx, "Message moved to dead letter store",
		"message_id", msg.ID,
		"dead_letter_id", dl.ID,
		"connector", msg.TargetConnector,
		"reason", reason,
		"retryable", dl.Retryable,
	)

	return nil
}

// Reprocess resets a retryable dead letter's original message to a clean
// PENDING slate and runs it through the pipeline again. The dead letter
// record keeps its audit trail and is marked reprocessed up front, so a
// second failure produces a fresh record rather than rewriting history.
func (m *Manager) Reprocess(ctx context.Context, deadLetterID, actorID string) error {
	processor := m.getProcessor()
	if processor == nil {
		return errors.ErrInternal.WithDetail("reason", "reprocess pipeline not wired")
	}

	dl, err := m.deadLetters.Get(ctx, deadLetterID)
	if err != nil {
		return err
	}
	if dl == nil {
		return errors.ErrNotFound.WithDetail("dead_letter_id", deadLetterID)
	}
	if !dl.Retryable {
		return errors.ErrNotRetryable.WithDetail("reason", dl.Reason)
	}
	if dl.ReprocessedAt != nil {
		return errors.ErrConflict.WithDetail("reason", "dead letter already reprocessed")
	}

	msg, err := m.messages.Get(ctx, dl.OriginalMessageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return errors.ErrNotFound.WithDetail("message_id", dl.OriginalMessageID)
	}

	now := m.now()
	dl.ReprocessedAt = &now
	dl.ReprocessedByID = actorID
	if err := m.deadLetters.Update(ctx, dl); err != nil {
		return err
	}

	msg.Status = models.StatusPending
	msg.RetryCount = 0
	msg.LastError = ""
	msg.ErrorDetails = ""
	msg.DLQReason = ""
	msg.NextRetryAt = nil
	msg.MovedToDLQAt = nil
	if err := m.messages.Update(ctx, msg); err != nil {
		return err
	}

	m.logger.InfowCtx(ctx, "Reprocessing dead letter",
		"dead_letter_id", dl.ID,
		"message_id", msg.ID,
		"actor_id", actorID,
	)

	if err := processor(ctx, msg); err != nil {
		metrics.DeadLettersReprocessedTotal.WithLabelValues("failed").Inc()
		return err
	}

	metrics.DeadLettersReprocessedTotal.WithLabelValues("success").Inc()
	return nil
}

// BulkReprocessCriteria narrows a bulk run. Connector and Reason are
// optional; Limit caps how many entries one run picks up.
type BulkReprocessCriteria struct {
	Connector string `json:"connector"`
	Reason    string `json:"reason"`
	Limit     int    `json:"limit"`
}

// BulkReprocess selects up to Limit retryable, not yet reprocessed dead
// letters matching the criteria and reprocesses each independently. One
// bad entry never aborts the rest; the result is a partial-failure
// report.
func (m *Manager) BulkReprocess(ctx context.Context, criteria BulkReprocessCriteria, actorID string) (*models.BulkReprocessResult, error) {
	limit := criteria.Limit
	if limit <= 0 {
		limit = constants.DefaultBulkReprocessLimit
	}

	entries, err := m.deadLetters.List(ctx, store.DeadLetterFilter{
		Connector:      criteria.Connector,
		Reason:         criteria.Reason,
		RetryableOnly:  true,
		NotReprocessed: true,
		Limit:          limit,
	})
	if err != nil {
		return nil, err
	}

	result := &models.BulkReprocessResult{Total: len(entries)}
	for i := range entries {
		if err := m.Reprocess(ctx, entries[i].ID, actorID); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, models.BulkReprocessError{
				ID:    entries[i].ID,
				Error: err.Error(),
			})
			continue
		}
		result.Successful++
	}

	m.logger.InfowCtx(ctx, "Bulk reprocess finished",
		"total", result.Total,
		"successful", result.Successful,
		"failed", result.Failed,
	)

	return result, nil
}

// List returns dead letters matching the filter.
func (m *Manager) List(ctx context.Context, filter store.DeadLetterFilter) ([]models.IntegrationDeadLetter, error) {
	return m.deadLetters.List(ctx, filter)
}

// Stats summarizes the dead letter store.
func (m *Manager) Stats(ctx context.Context) (*models.DeadLetterStats, error) {
	return m.deadLetters.Stats(ctx)
}
