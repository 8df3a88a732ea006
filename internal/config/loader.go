package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"hub/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	applyDefaults(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables() {
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.inbound_topic", "BROKER_KAFKA_INBOUND_TOPIC")
	viper.BindEnv("broker.kafka.completed_topic", "BROKER_KAFKA_COMPLETED_TOPIC")
	viper.BindEnv("broker.kafka.dead_letter_topic", "BROKER_KAFKA_DEAD_LETTER_TOPIC")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	return nil
}

// applyDefaults fills the engine tunables with default values so a
// minimal config file still yields a working hub.
func applyDefaults(cfg *Config) {
	if cfg.Hub.Retry.MaxRetries == 0 {
		cfg.Hub.Retry.MaxRetries = constants.DefaultMaxRetries
	}
	if cfg.Hub.Retry.BaseDelay == 0 {
		cfg.Hub.Retry.BaseDelay = constants.DefaultRetryBaseDelay
	}
	if cfg.Hub.Retry.MaxDelay == 0 {
		cfg.Hub.Retry.MaxDelay = constants.DefaultRetryMaxDelay
	}
	if cfg.Hub.Retry.Multiplier == 0 {
		cfg.Hub.Retry.Multiplier = constants.DefaultRetryMultiplier
	}
	if cfg.Hub.Retry.SweepInterval == 0 {
		cfg.Hub.Retry.SweepInterval = constants.DefaultRetrySweepInterval
	}
	if cfg.Hub.Retry.SweepBatch == 0 {
		cfg.Hub.Retry.SweepBatch = constants.DefaultRetrySweepBatchSize
	}
	if cfg.Hub.Idempotency.TTL == 0 {
		cfg.Hub.Idempotency.TTL = constants.DefaultIdempotencyTTL
	}
	if cfg.Hub.Idempotency.SweepInterval == 0 {
		cfg.Hub.Idempotency.SweepInterval = constants.DefaultCacheSweepInterval
	}
	if cfg.Hub.Idempotency.Backend == "" {
		cfg.Hub.Idempotency.Backend = "redis"
	}
	if cfg.Hub.Circuit.OpenTimeout == 0 {
		cfg.Hub.Circuit.OpenTimeout = constants.DefaultCircuitOpenTimeout
	}
	if cfg.Hub.Health.CheckInterval == 0 {
		cfg.Hub.Health.CheckInterval = constants.DefaultHealthCheckInterval
	}
	if cfg.Hub.StoreTimeout == 0 {
		cfg.Hub.StoreTimeout = constants.DefaultStoreTimeout
	}
	if cfg.Broker.Kafka.InboundTopic == "" {
		cfg.Broker.Kafka.InboundTopic = constants.DefaultInputTopic
	}
	if cfg.Broker.Kafka.CompletedTopic == "" {
		cfg.Broker.Kafka.CompletedTopic = constants.DefaultOutputTopic
	}
	if cfg.Broker.Kafka.DeadLetterTopic == "" {
		cfg.Broker.Kafka.DeadLetterTopic = constants.DefaultDeadLetterTopic
	}
}
