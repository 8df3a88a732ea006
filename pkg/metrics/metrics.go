package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_messages_routed_total",
			Help: "Total number of messages accepted by the router, by final status (count)",
		},
		[]string{"status"},
	)

	RouteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hub_route_duration_ms",
			Help:    "End-to-end routing duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"status"},
	)

	TransformationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_transformations_total",
			Help: "Total number of transformation pipelines executed (count)",
		},
		[]string{"status"},
	)

	TransformDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hub_transform_duration_ms",
			Help:    "Two-stage transformation duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	IdempotencyChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_idempotency_checks_total",
			Help: "Total number of idempotency checks by outcome (count)",
		},
		[]string{"outcome"},
	)

	IdempotencyCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_idempotency_cache_size",
			Help: "Approximate number of live idempotency cache entries (count)",
		},
	)

	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_rate_limit_decisions_total",
			Help: "Fixed-window rate limit decisions per connector (count)",
		},
		[]string{"connector", "decision"},
	)

	ConnectorCircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hub_connector_circuit_state",
			Help: "Per-connector circuit state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"connector"},
	)

	ConnectorHealthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hub_connector_health_status",
			Help: "Per-connector derived health (0=healthy, 1=degraded, 2=unhealthy) (state code)",
		},
		[]string{"connector"},
	)

	RetriesScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_retries_scheduled_total",
			Help: "Total number of retries scheduled (count)",
		},
	)

	RetrySweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hub_retry_sweep_duration_ms",
			Help:    "Duration of a retry sweep tick in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_dead_letters_total",
			Help: "Total number of messages moved to the dead letter store (count)",
		},
		[]string{"connector", "reason"},
	)

	DeadLettersReprocessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_dead_letters_reprocessed_total",
			Help: "Total number of dead letters reprocessed (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Store-level circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through the store circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through the store circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "HTTP middleware rate limit decisions (count)",
		},
		[]string{"status"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)
)

func RegisterHubMetrics() {
	prometheus.MustRegister(MessagesRoutedTotal)
	prometheus.MustRegister(RouteDuration)
	prometheus.MustRegister(TransformationsTotal)
	prometheus.MustRegister(TransformDuration)
	prometheus.MustRegister(IdempotencyChecksTotal)
	prometheus.MustRegister(IdempotencyCacheSize)
	prometheus.MustRegister(RateLimitDecisionsTotal)
	prometheus.MustRegister(ConnectorCircuitState)
	prometheus.MustRegister(ConnectorHealthStatus)
	prometheus.MustRegister(RetriesScheduledTotal)
	prometheus.MustRegister(RetrySweepDuration)
	prometheus.MustRegister(DeadLettersTotal)
	prometheus.MustRegister(DeadLettersReprocessedTotal)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaWriteDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterRateLimitMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func ObserveRouteDuration(duration time.Duration, status string) {
	RouteDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func ObserveTransformDuration(duration time.Duration, status string) {
	TransformDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func SetIdempotencyCacheSize(size int) {
	IdempotencyCacheSize.Set(float64(size))
}

func SetConnectorCircuitState(connector string, state float64) {
	ConnectorCircuitState.WithLabelValues(connector).Set(state)
}

func SetConnectorHealthStatus(connector string, status float64) {
	ConnectorHealthStatus.WithLabelValues(connector).Set(status)
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}
