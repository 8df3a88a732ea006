package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"hub/internal/config"
	"hub/internal/constants"
	"hub/internal/logger"
	"hub/pkg/errors"
	"hub/pkg/logging"
	"hub/pkg/metrics"
	"hub/pkg/models"
	"hub/pkg/retry"
)

const serviceName = "hub-service"

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}
	return &KafkaProducer{writer: w, logger: log}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: body,
			Time:  time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(serviceName, topic)
	metrics.ObserveKafkaWriteDuration(serviceName, topic, time.Since(start))

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	wg          sync.WaitGroup
	reader      *kafka.Reader
	logger      logger.Logger
	dlqProducer Producer
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	consumer := &KafkaConsumer{
		cfg:    cfg,
		logger: log,
	}

	if cfg.DeadLetterTopic != "" {
		consumer.dlqProducer = NewKafkaProducer(cfg, log)
	}

	return consumer
}

func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
	)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consumeCtx := logging.WithServiceName(ctx, serviceName)
		c.logger.InfowCtx(consumeCtx, "Started consuming", "topic", topic)

		for {
			m, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming",
						"topic", topic,
						"reason", "context canceled",
					)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				time.Sleep(time.Second)
				continue
			}

			metrics.IncKafkaMessagesRead(serviceName, topic)

			var req models.RouteRequest
			if err := json.Unmarshal(m.Value, &req); err != nil {
				// Unparseable submissions cannot be routed; they go
				// straight to the broker DLQ topic so the partition keeps
				// moving.
				c.logger.ErrorwCtx(consumeCtx, "Failed to unmarshal submission",
					"error", err,
					"topic", topic,
				)
				c.sendRawToDLQ(consumeCtx, m.Value, err, topic)
				_ = c.reader.CommitMessages(ctx, m)
				continue
			}

			msgCtx := consumeCtx
			if req.CorrelationID != "" {
				msgCtx = logging.WithTraceID(msgCtx, req.CorrelationID)
			}

			if err := c.processWithRetry(msgCtx, &req, handler, topic); err != nil {
				c.logger.ErrorwCtx(msgCtx, "Failed to process submission after retries",
					"error", err,
					"topic", topic,
				)
				c.sendRawToDLQ(msgCtx, m.Value, err, topic)
			}
			if err := c.reader.CommitMessages(ctx, m); err != nil {
				c.logger.ErrorwCtx(msgCtx, "Failed to commit message",
					"error", err,
					"topic", topic,
				)
			}
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	if c.dlqProducer != nil {
		if closeErr := c.dlqProducer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	c.wg.Wait()
	return err
}

func (c *KafkaConsumer) processWithRetry(ctx context.Context, req *models.RouteRequest, handler HandlerFunc, topic string) error {
	policy := retry.Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}

	if c.cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = c.cfg.Retry.MaxAttempts
	}
	if c.cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = c.cfg.Retry.InitialInterval
	}
	if c.cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = c.cfg.Retry.MaxInterval
	}
	if c.cfg.Retry.Multiplier > 0 {
		policy.Multiplier = c.cfg.Retry.Multiplier
	}
	if c.cfg.Retry.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = c.cfg.Retry.MaxElapsedTime
	}

	return retry.RetryWithCallback(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during submission processing",
					"error", err,
					"topic", topic,
				)
			}
		}()
		return handler(ctx, req)
	}, func(attempt int, err error, nextDelay time.Duration) {
		c.logger.WarnwCtx(ctx, "Retrying submission processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
}

func (c *KafkaConsumer) sendRawToDLQ(ctx context.Context, raw []byte, cause error, sourceTopic string) {
	if c.dlqProducer == nil || c.cfg.DeadLetterTopic == "" {
		c.logger.WarnwCtx(ctx, "No broker DLQ topic configured, dropping submission",
			"topic", sourceTopic,
		)
		return
	}

	event := map[string]interface{}{
		"raw":          string(raw),
		"error":        cause.Error(),
		"source_topic": sourceTopic,
		"failed_at":    time.Now().UTC(),
	}
	if err := c.dlqProducer.Publish(ctx, c.cfg.DeadLetterTopic, "", event); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to publish to broker DLQ topic",
			"error", err,
			"topic", c.cfg.DeadLetterTopic,
		)
	}
}
