package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixIdempotency = "idem:"
)

const (
	DefaultInputTopic      = "hub_inbound"
	DefaultOutputTopic     = "hub_completed"
	DefaultDeadLetterTopic = "hub_dead_letters"
)

const (
	DefaultMongoDBName = "integration_hub"
)

const (
	ShutdownTimeout = 5 * time.Second
)

// Bounded timeout applied to every store operation; a timeout flows into
// the same retry/DLQ path as any other processing failure.
const (
	DefaultStoreTimeout = 10 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Resilience defaults, overridable per connector record or via config.
const (
	DefaultMaxRetries       = 3
	DefaultRetryBaseDelay   = 1000 * time.Millisecond
	DefaultRetryMaxDelay    = 60000 * time.Millisecond
	DefaultRetryMultiplier  = 2.0
	DefaultRetryJitterRatio = 0.2

	DefaultCircuitOpenTimeout = 30 * time.Second
	DefaultFailureThreshold   = 5
	DefaultSuccessThreshold   = 3

	DefaultRetrySweepInterval  = 10 * time.Second
	DefaultRetrySweepBatchSize = 100
	DefaultBulkReprocessLimit  = 100
	DefaultHealthCheckInterval = 60 * time.Second
	DefaultCacheSweepInterval  = time.Hour
	DefaultIdempotencyTTL      = time.Hour
)

// Connector health derivation thresholds on the success rate.
const (
	UnhealthySuccessRate = 0.5
	DegradedSuccessRate  = 0.9
)
