package kafka

import (
	"context"

	"github.com/codewitgabi/skill-barter-sync/internal/domain"
)

// MessageProducer publishes created messages to the archive topic.
// Production is fire-and-forget from the send path's point of view: a
// failure is logged, never surfaced to the sender.
type MessageProducer interface {
	ProduceMessage(ctx context.Context, msg *domain.Message) error
	Close() error
}

// MessageHandler consumes archived message events.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *domain.Message) error
}
