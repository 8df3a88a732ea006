package models

import "time"

const (
	DLQReasonMaxRetriesExceeded     = "MAX_RETRIES_EXCEEDED"
	DLQReasonInvalidPayload         = "INVALID_PAYLOAD"
	DLQReasonSchemaValidationFailed = "SCHEMA_VALIDATION_FAILED"
	DLQReasonTransformationFailed   = "TRANSFORMATION_FAILED"
	DLQReasonProcessingError        = "PROCESSING_ERROR"
)

// IsRetryableReason reports whether dead letters with the given reason can
// be reprocessed. Invalid payloads and schema failures will fail again the
// same way, so they stay parked until the payload itself is fixed.
func IsRetryableReason(reason string) bool {
	switch reason {
	case DLQReasonInvalidPayload, DLQReasonSchemaValidationFailed:
		return false
	default:
		return true
	}
}

// IntegrationDeadLetter is the terminal failure record for a message that
// exhausted retries or failed non-retryably.
type IntegrationDeadLetter struct {
	ID                string                 `json:"id" bson:"_id"`
	OriginalMessageID string                 `json:"original_message_id" bson:"original_message_id"`
	Connector         string                 `json:"connector" bson:"connector"`
	Reason            string                 `json:"reason" bson:"reason"`
	ErrorMessage      string                 `json:"error_message,omitempty" bson:"error_message,omitempty"`
	ErrorStack        string                 `json:"error_stack,omitempty" bson:"error_stack,omitempty"`
	Payload           map[string]interface{} `json:"payload,omitempty" bson:"payload,omitempty"`
	Retryable         bool                   `json:"retryable" bson:"retryable"`
	CreatedAt         time.Time              `json:"created_at" bson:"created_at"`
	ReprocessedAt     *time.Time             `json:"reprocessed_at,omitempty" bson:"reprocessed_at,omitempty"`
	ReprocessedByID   string                 `json:"reprocessed_by_id,omitempty" bson:"reprocessed_by_id,omitempty"`
}
