package broker

import (
	"context"

	"hub/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
}

// HandlerFunc processes one inbound submission read off the broker. A
// returned error triggers the consumer's retry policy; nil commits.
type HandlerFunc func(ctx context.Context, req *models.RouteRequest) error
