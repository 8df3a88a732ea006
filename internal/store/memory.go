package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hub/pkg/models"
)

// NewMemoryStore returns a fully in-memory Store. It backs single-process
// deployments and the unit tests; semantics, including the conditional
// connector updates, match the MongoDB implementation.
func NewMemoryStore() *Store {
	return &Store{
		Messages:        NewMemoryMessageRepository(),
		Connectors:      NewMemoryConnectorRepository(),
		Transformations: NewMemoryTransformationRepository(),
		DeadLetters:     NewMemoryDeadLetterRepository(),
	}
}

type memoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[string]models.IntegrationMessage
}

func NewMemoryMessageRepository() MessageRepository {
	return &memoryMessageRepository{messages: make(map[string]models.IntegrationMessage)}
}

func (r *memoryMessageRepository) Create(_ context.Context, msg *models.IntegrationMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	if _, exists := r.messages[msg.ID]; exists {
		return fmt.Errorf("integration message already exists: %s", msg.ID)
	}
	r.messages[msg.ID] = *msg

	return nil
}

func (r *memoryMessageRepository) Get(_ context.Context, id string) (*models.IntegrationMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.messages[id]
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

func (r *memoryMessageRepository) Update(_ context.Context, msg *models.IntegrationMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.messages[msg.ID]; !ok {
		return fmt.Errorf("integration message not found: %s", msg.ID)
	}
	r.messages[msg.ID] = *msg

	return nil
}

func (r *memoryMessageRepository) matches(msg models.IntegrationMessage, filter MessageFilter) bool {
	if filter.Status != "" && msg.Status != filter.Status {
		return false
	}
	if filter.Connector != "" && msg.SourceConnector != filter.Connector && msg.TargetConnector != filter.Connector {
		return false
	}
	if filter.Type != "" && msg.Type != filter.Type {
		return false
	}
	return true
}

func (r *memoryMessageRepository) List(_ context.Context, filter MessageFilter) ([]models.IntegrationMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []models.IntegrationMessage
	for _, msg := range r.messages {
		if r.matches(msg, filter) {
			result = append(result, msg)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ReceivedAt.After(result[j].ReceivedAt)
	})

	return paginate(result, filter.Offset, filter.Limit), nil
}

func (r *memoryMessageRepository) Count(_ context.Context, filter MessageFilter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, msg := range r.messages {
		if r.matches(msg, filter) {
			count++
		}
	}
	return count, nil
}

func (r *memoryMessageRepository) FindByIdempotencyKey(_ context.Context, key string) (*models.IntegrationMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *models.IntegrationMessage
	for _, msg := range r.messages {
		if msg.IdempotencyKey != key || msg.Status == models.StatusFailed {
			continue
		}
		msg := msg
		if best == nil || msg.ReceivedAt.After(best.ReceivedAt) {
			best = &msg
		}
	}
	return best, nil
}

func (r *memoryMessageRepository) FindDueRetries(_ context.Context, now time.Time, limit int) ([]models.IntegrationMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []models.IntegrationMessage
	for _, msg := range r.messages {
		if msg.Status == models.StatusRetrying && msg.NextRetryAt != nil && !msg.NextRetryAt.After(now) {
			due = append(due, msg)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

type memoryConnectorRepository struct {
	mu         sync.Mutex
	connectors map[string]models.IntegrationConnector
}

func NewMemoryConnectorRepository() ConnectorRepository {
	return &memoryConnectorRepository{connectors: make(map[string]models.IntegrationConnector)}
}

func (r *memoryConnectorRepository) Get(_ context.Context, code string) (*models.IntegrationConnector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connectors[code]
	if !ok {
		return nil, nil
	}
	return &conn, nil
}

func (r *memoryConnectorRepository) Create(_ context.Context, conn *models.IntegrationConnector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn.CircuitState == "" {
		conn.CircuitState = models.CircuitClosed
	}
	if conn.HealthStatus == "" {
		conn.HealthStatus = models.HealthHealthy
	}
	if _, exists := r.connectors[conn.Code]; exists {
		return fmt.Errorf("connector already exists: %s", conn.Code)
	}
	r.connectors[conn.Code] = *conn

	return nil
}

func (r *memoryConnectorRepository) List(_ context.Context, activeOnly bool) ([]models.IntegrationConnector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []models.IntegrationConnector
	for _, conn := range r.connectors {
		if activeOnly && !conn.IsActive {
			continue
		}
		result = append(result, conn)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })

	return result, nil
}

func (r *memoryConnectorRepository) UpdateHealth(_ context.Context, code string, status models.HealthStatus, details string, checkedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connectors[code]
	if !ok {
		return fmt.Errorf("connector not found: %s", code)
	}
	conn.HealthStatus = status
	conn.HealthDetails = details
	conn.LastHealthCheck = &checkedAt
	r.connectors[code] = conn

	return nil
}

func (r *memoryConnectorRepository) IncrementStats(_ context.Context, code string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connectors[code]
	if !ok {
		return fmt.Errorf("connector not found: %s", code)
	}
	conn.TotalMessages++
	if success {
		conn.SuccessfulMessages++
	} else {
		conn.FailedMessages++
	}
	r.connectors[code] = conn

	return nil
}

func (r *memoryConnectorRepository) IncrementFailureIfClosed(_ context.Context, code string) (*models.IntegrationConnector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connectors[code]
	if !ok || conn.CircuitState != models.CircuitClosed {
		return nil, nil
	}
	conn.FailureCount++
	r.connectors[code] = conn

	return &conn, nil
}

func (r *memoryConnectorRepository) IncrementSuccessIfHalfOpen(_ context.Context, code string) (*models.IntegrationConnector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connectors[code]
	if !ok || conn.CircuitState != models.CircuitHalfOpen {
		return nil, nil
	}
	conn.SuccessCount++
	r.connectors[code] = conn

	return &conn, nil
}

func (r *memoryConnectorRepository) ResetFailuresIfClosed(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connectors[code]
	if !ok || conn.CircuitState != models.CircuitClosed {
		return nil
	}
	conn.FailureCount = 0
	r.connectors[code] = conn

	return nil
}

func (r *memoryConnectorRepository) TransitionCircuit(_ context.Context, code string, from, to models.CircuitState, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connectors[code]
	if !ok || conn.CircuitState != from {
		return false, nil
	}

	conn.CircuitState = to
	switch to {
	case models.CircuitOpen:
		openedAt := at
		conn.CircuitOpenedAt = &openedAt
		conn.SuccessCount = 0
	case models.CircuitHalfOpen:
		halfOpenAt := at
		conn.HalfOpenAt = &halfOpenAt
		conn.SuccessCount = 0
	case models.CircuitClosed:
		conn.FailureCount = 0
		conn.SuccessCount = 0
		conn.CircuitOpenedAt = nil
		conn.HalfOpenAt = nil
	}
	r.connectors[code] = conn

	return true, nil
}

func (r *memoryConnectorRepository) ResetWindow(_ context.Context, code string, prevStart *time.Time, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connectors[code]
	if !ok {
		return false, nil
	}
	if (conn.WindowStart == nil) != (prevStart == nil) {
		return false, nil
	}
	if conn.WindowStart != nil && !conn.WindowStart.Equal(*prevStart) {
		return false, nil
	}

	start := now
	conn.WindowStart = &start
	conn.CurrentCount = 1
	r.connectors[code] = conn

	return true, nil
}

func (r *memoryConnectorRepository) IncrementWindow(_ context.Context, code string, start time.Time, limit int) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connectors[code]
	if !ok || conn.WindowStart == nil || !conn.WindowStart.Equal(start) || conn.CurrentCount >= limit {
		return 0, false, nil
	}
	conn.CurrentCount++
	r.connectors[code] = conn

	return conn.CurrentCount, true, nil
}

type memoryTransformationRepository struct {
	mu    sync.RWMutex
	rules map[string]models.IntegrationTransformation
}

func NewMemoryTransformationRepository() TransformationRepository {
	return &memoryTransformationRepository{rules: make(map[string]models.IntegrationTransformation)}
}

func (r *memoryTransformationRepository) Create(_ context.Context, t *models.IntegrationTransformation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	r.rules[t.ID] = *t

	return nil
}

func (r *memoryTransformationRepository) Get(_ context.Context, id string) (*models.IntegrationTransformation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.rules[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *memoryTransformationRepository) List(_ context.Context) ([]models.IntegrationTransformation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]models.IntegrationTransformation, 0, len(r.rules))
	for _, t := range r.rules {
		result = append(result, t)
	}
	sortTransformations(result)

	return result, nil
}

func (r *memoryTransformationRepository) FindBest(_ context.Context, sourceConnector, targetConnector, sourceType string) (*models.IntegrationTransformation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []models.IntegrationTransformation
	for _, t := range r.rules {
		if t.IsActive && t.SourceConnector == sourceConnector && t.TargetConnector == targetConnector && t.SourceType == sourceType {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sortTransformations(candidates)

	return &candidates[0], nil
}

func sortTransformations(ts []models.IntegrationTransformation) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].Priority != ts[j].Priority {
			return ts[i].Priority > ts[j].Priority
		}
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}

type memoryDeadLetterRepository struct {
	mu      sync.RWMutex
	letters map[string]models.IntegrationDeadLetter
}

func NewMemoryDeadLetterRepository() DeadLetterRepository {
	return &memoryDeadLetterRepository{letters: make(map[string]models.IntegrationDeadLetter)}
}

func (r *memoryDeadLetterRepository) Create(_ context.Context, dl *models.IntegrationDeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dl.ID == "" {
		dl.ID = uuid.New().String()
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now().UTC()
	}
	r.letters[dl.ID] = *dl

	return nil
}

func (r *memoryDeadLetterRepository) Get(_ context.Context, id string) (*models.IntegrationDeadLetter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dl, ok := r.letters[id]
	if !ok {
		return nil, nil
	}
	return &dl, nil
}

func (r *memoryDeadLetterRepository) Update(_ context.Context, dl *models.IntegrationDeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.letters[dl.ID]; !ok {
		return fmt.Errorf("dead letter not found: %s", dl.ID)
	}
	r.letters[dl.ID] = *dl

	return nil
}

func (r *memoryDeadLetterRepository) matches(dl models.IntegrationDeadLetter, filter DeadLetterFilter) bool {
	if filter.Connector != "" && dl.Connector != filter.Connector {
		return false
	}
	if filter.Reason != "" && dl.Reason != filter.Reason {
		return false
	}
	if filter.RetryableOnly && !dl.Retryable {
		return false
	}
	if filter.NotReprocessed && dl.ReprocessedAt != nil {
		return false
	}
	return true
}

func (r *memoryDeadLetterRepository) List(_ context.Context, filter DeadLetterFilter) ([]models.IntegrationDeadLetter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []models.IntegrationDeadLetter
	for _, dl := range r.letters {
		if r.matches(dl, filter) {
			result = append(result, dl)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return paginate(result, filter.Offset, filter.Limit), nil
}

func (r *memoryDeadLetterRepository) Count(_ context.Context, filter DeadLetterFilter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, dl := range r.letters {
		if r.matches(dl, filter) {
			count++
		}
	}
	return count, nil
}

func (r *memoryDeadLetterRepository) Stats(_ context.Context) (*models.DeadLetterStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &models.DeadLetterStats{
		ByConnector: make(map[string]int64),
		ByReason:    make(map[string]int64),
	}
	for _, dl := range r.letters {
		stats.Total++
		if dl.ReprocessedAt != nil {
			stats.Reprocessed++
		} else if dl.Retryable {
			stats.RetryablePending++
		}
		stats.ByConnector[dl.Connector]++
		stats.ByReason[dl.Reason]++
	}

	return stats, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
