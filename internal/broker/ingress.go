package broker

import (
	"context"
	"fmt"

	"hub/internal/config"
	"hub/internal/logger"
	"hub/pkg/errors"
	"hub/pkg/models"
)

// Router is the slice of the routing service the ingress needs.
type Router interface {
	RouteMessage(ctx context.Context, req *models.RouteRequest) *models.RouteResult
}

// Ingress feeds submissions from the inbound topic into the router. A
// rejection (bad payload, unknown connector) is a final answer and
// commits; only internal pipeline errors bubble up to the consumer's
// retry policy. Rate limits and open circuits never reject: the router
// parks those messages for its own retry sweep.
type Ingress struct {
	consumer Consumer
	router   Router
	topic    string
	logger   logger.Logger
}

func NewIngress(cfg config.KafkaConfig, router Router, log logger.Logger) *Ingress {
	return &Ingress{
		consumer: NewKafkaConsumer(cfg, log),
		router:   router,
		topic:    cfg.InboundTopic,
		logger:   log,
	}
}

func (i *Ingress) Run(ctx context.Context) error {
	return i.consumer.Consume(ctx, i.topic, func(ctx context.Context, req *models.RouteRequest) error {
		result := i.router.RouteMessage(ctx, req)

		if result.MessageID == "" && !result.Duplicate && result.Status == models.StatusFailed {
			// Nothing was persisted. Rejections are deliberate answers;
			// anything else is an internal error worth another attempt.
			switch result.Error {
			case "", errors.ErrValidation.Code, errors.ErrNotFound.Code:
				i.logger.WarnwCtx(ctx, "Submission rejected",
					"reason", result.Error,
					"note", result.Note,
				)
				return nil
			default:
				return fmt.Errorf("routing failed: %s", result.Error)
			}
		}

		return nil
	})
}

func (i *Ingress) Close() error {
	return i.consumer.Close()
}
