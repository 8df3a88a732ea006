package models

import (
	"fmt"
	"time"
)

// RouteRequest is the inbound submission accepted by the router, either via
// HTTP or off the inbound broker topic.
type RouteRequest struct {
	CorrelationID   string                 `json:"correlation_id,omitempty"`
	SourceConnector string                 `json:"source_connector" binding:"required"`
	TargetConnector string                 `json:"target_connector" binding:"required"`
	Type            string                 `json:"type" binding:"required"`
	Priority        int                    `json:"priority"`
	Payload         map[string]interface{} `json:"payload" binding:"required"`
	IdempotencyKey  string                 `json:"idempotency_key,omitempty"`
	MaxRetries      *int                   `json:"max_retries,omitempty"`
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateRouteRequest(req *RouteRequest) error {
	if req == nil {
		return &ValidationError{Field: "request", Message: "request cannot be nil"}
	}
	if req.SourceConnector == "" {
		return &ValidationError{Field: "source_connector", Message: "source connector is required"}
	}
	if req.TargetConnector == "" {
		return &ValidationError{Field: "target_connector", Message: "target connector is required"}
	}
	if req.Type == "" {
		return &ValidationError{Field: "type", Message: "message type is required"}
	}
	if req.Payload == nil {
		return &ValidationError{Field: "payload", Message: "payload cannot be nil"}
	}
	return nil
}

// RouteResult is the structured outcome of a routing attempt. The router
// never lets an error escape past its boundary; callers always get one of
// these.
type RouteResult struct {
	MessageID      string        `json:"message_id,omitempty"`
	Status         MessageStatus `json:"status"`
	Error          string        `json:"error,omitempty"`
	Note           string        `json:"note,omitempty"`
	Duplicate      bool          `json:"duplicate,omitempty"`
	RetryScheduled bool          `json:"retry_scheduled,omitempty"`
	MovedToDLQ     bool          `json:"moved_to_dlq,omitempty"`
}

// TransformResult carries both stages' output. Warnings hold computed-field
// evaluation failures, which are non-fatal.
type TransformResult struct {
	Success          bool                   `json:"success"`
	TransformationID string                 `json:"transformation_id,omitempty"`
	TargetType       string                 `json:"target_type,omitempty"`
	CanonicalPayload map[string]interface{} `json:"canonical_payload,omitempty"`
	TargetPayload    map[string]interface{} `json:"target_payload,omitempty"`
	Errors           []string               `json:"errors,omitempty"`
	Warnings         []string               `json:"warnings,omitempty"`
}

type RateLimitDecision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at,omitempty"`
}

type IdempotencyResult struct {
	IsDuplicate       bool   `json:"is_duplicate"`
	ExistingMessageID string `json:"existing_message_id,omitempty"`
}

type BulkReprocessError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BulkReprocessResult is a partial-failure report, never an all-or-nothing
// transaction.
type BulkReprocessResult struct {
	Total      int                  `json:"total"`
	Successful int                  `json:"successful"`
	Failed     int                  `json:"failed"`
	Errors     []BulkReprocessError `json:"errors,omitempty"`
}

type DeadLetterStats struct {
	Total            int64            `json:"total"`
	RetryablePending int64            `json:"retryable_pending"`
	Reprocessed      int64            `json:"reprocessed"`
	ByConnector      map[string]int64 `json:"by_connector"`
	ByReason         map[string]int64 `json:"by_reason"`
}
