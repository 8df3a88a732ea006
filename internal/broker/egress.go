package broker

import (
	"context"

	"hub/internal/config"
	"hub/internal/logger"
	"hub/pkg/models"
)

// Egress delivers completed messages to the outbound topic, keyed by
// message id so a target connector sees one partition per message stream.
// It satisfies the router's Dispatcher.
type Egress struct {
	producer Producer
	topic    string
	logger   logger.Logger
}

func NewEgress(cfg config.KafkaConfig, log logger.Logger) *Egress {
	return &Egress{
		producer: NewKafkaProducer(cfg, log),
		topic:    cfg.CompletedTopic,
		logger:   log,
	}
}

// outboundEvent is the wire shape target connectors consume.
type outboundEvent struct {
	MessageID       string                 `json:"message_id"`
	CorrelationID   string                 `json:"correlation_id,omitempty"`
	SourceConnector string                 `json:"source_connector"`
	TargetConnector string                 `json:"target_connector"`
	Type            string                 `json:"type"`
	Payload         map[string]interface{} `json:"payload"`
}

func (e *Egress) Dispatch(ctx context.Context, msg *models.IntegrationMessage) error {
	event := outboundEvent{
		MessageID:       msg.ID,
		CorrelationID:   msg.CorrelationID,
		SourceConnector: msg.SourceConnector,
		TargetConnector: msg.TargetConnector,
		Type:            msg.Type,
		Payload:         msg.TargetPayload,
	}

	if err := e.producer.Publish(ctx, e.topic, msg.ID, event); err != nil {
		return err
	}

	e.logger.DebugwCtx(ctx, "Message dispatched",
		"message_id", msg.ID,
		"topic", e.topic,
		"target_connector", msg.TargetConnector,
	)
	return nil
}

func (e *Egress) Close() error {
	return e.producer.Close()
}
