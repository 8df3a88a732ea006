package models

import "time"

type MessageStatus string

const (
	StatusPending      MessageStatus = "PENDING"
	StatusTransforming MessageStatus = "TRANSFORMING"
	StatusRouting      MessageStatus = "ROUTING"
	StatusProcessing   MessageStatus = "PROCESSING"
	StatusCompleted    MessageStatus = "COMPLETED"
	StatusFailed       MessageStatus = "FAILED"
	StatusRetrying     MessageStatus = "RETRYING"
	StatusDeadLetter   MessageStatus = "DEAD_LETTER"
)

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "INBOUND"
	DirectionOutbound MessageDirection = "OUTBOUND"
)

// IntegrationMessage is one inbound business message in flight through the hub.
type IntegrationMessage struct {
	ID               string                 `json:"id" bson:"_id"`
	CorrelationID    string                 `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	SourceConnector  string                 `json:"source_connector" bson:"source_connector"`
	TargetConnector  string                 `json:"target_connector" bson:"target_connector"`
	Direction        MessageDirection       `json:"direction" bson:"direction"`
	Type             string                 `json:"type" bson:"type"`
	Priority         int                    `json:"priority" bson:"priority"`
	SourcePayload    map[string]interface{} `json:"source_payload" bson:"source_payload"`
	CanonicalPayload map[string]interface{} `json:"canonical_payload,omitempty" bson:"canonical_payload,omitempty"`
	TargetPayload    map[string]interface{} `json:"target_payload,omitempty" bson:"target_payload,omitempty"`

	IdempotencyKey string `json:"idempotency_key,omitempty" bson:"idempotency_key,omitempty"`
	ProcessedHash  string `json:"processed_hash,omitempty" bson:"processed_hash,omitempty"`

	Status       MessageStatus `json:"status" bson:"status"`
	RetryCount   int           `json:"retry_count" bson:"retry_count"`
	MaxRetries   int           `json:"max_retries" bson:"max_retries"`
	NextRetryAt  *time.Time    `json:"next_retry_at,omitempty" bson:"next_retry_at,omitempty"`
	LastError    string        `json:"last_error,omitempty" bson:"last_error,omitempty"`
	ErrorDetails string        `json:"error_details,omitempty" bson:"error_details,omitempty"`
	DLQReason    string        `json:"dlq_reason,omitempty" bson:"dlq_reason,omitempty"`

	ReceivedAt    time.Time  `json:"received_at" bson:"received_at"`
	TransformedAt *time.Time `json:"transformed_at,omitempty" bson:"transformed_at,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty" bson:"processed_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty" bson:"failed_at,omitempty"`
	MovedToDLQAt  *time.Time `json:"moved_to_dlq_at,omitempty" bson:"moved_to_dlq_at,omitempty"`
}

// IsTerminal reports whether the message has reached a state that only
// explicit reprocessing can leave.
func (m *IntegrationMessage) IsTerminal() bool {
	return m.Status == StatusCompleted || m.Status == StatusDeadLetter
}
