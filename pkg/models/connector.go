package models

import "time"

type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// IntegrationConnector holds per-connector configuration plus the live
// resilience state the breaker, limiter and health monitor mutate.
// Counters are connector-scoped; every mutation goes through an atomic
// update on this record only.
type IntegrationConnector struct {
	Code     string `json:"code" bson:"_id"`
	Name     string `json:"name,omitempty" bson:"name,omitempty"`
	IsActive bool   `json:"is_active" bson:"is_active"`

	CircuitState     CircuitState `json:"circuit_state" bson:"circuit_state"`
	FailureCount     int          `json:"failure_count" bson:"failure_count"`
	FailureThreshold int          `json:"failure_threshold" bson:"failure_threshold"`
	SuccessCount     int          `json:"success_count" bson:"success_count"`
	SuccessThreshold int          `json:"success_threshold" bson:"success_threshold"`
	CircuitOpenedAt  *time.Time   `json:"circuit_opened_at,omitempty" bson:"circuit_opened_at,omitempty"`
	HalfOpenAt       *time.Time   `json:"half_open_at,omitempty" bson:"half_open_at,omitempty"`

	RateLimit       int        `json:"rate_limit" bson:"rate_limit"`
	RateLimitWindow int        `json:"rate_limit_window" bson:"rate_limit_window"`
	WindowStart     *time.Time `json:"window_start,omitempty" bson:"window_start,omitempty"`
	CurrentCount    int        `json:"current_count" bson:"current_count"`

	HealthStatus    HealthStatus `json:"health_status" bson:"health_status"`
	HealthDetails   string       `json:"health_details,omitempty" bson:"health_details,omitempty"`
	LastHealthCheck *time.Time   `json:"last_health_check,omitempty" bson:"last_health_check,omitempty"`

	TotalMessages      int64 `json:"total_messages" bson:"total_messages"`
	SuccessfulMessages int64 `json:"successful_messages" bson:"successful_messages"`
	FailedMessages     int64 `json:"failed_messages" bson:"failed_messages"`
}

// SuccessRate returns the fraction of successful messages, or 1 when the
// connector has not processed anything yet.
func (c *IntegrationConnector) SuccessRate() float64 {
	if c.TotalMessages == 0 {
		return 1
	}
	return float64(c.SuccessfulMessages) / float64(c.TotalMessages)
}
