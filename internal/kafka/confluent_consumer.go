package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/codewitgabi/skill-barter-sync/internal/domain"
	pkglog "github.com/codewitgabi/skill-barter-sync/pkg/log"
)

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers         string
	Topic           string
	GroupID         string
	AutoOffsetReset string
}

// ConfluentConsumer consumes message events from Kafka and hands them to a
// MessageHandler.
type ConfluentConsumer struct {
	consumer *kafka.Consumer
	topic    string
	handler  MessageHandler
}

// NewConfluentConsumer creates a new Kafka consumer.
func NewConfluentConsumer(cfg ConsumerConfig, handler MessageHandler) (*ConfluentConsumer, error) {
	offsetReset := cfg.AutoOffsetReset
	if offsetReset == "" {
		offsetReset = "earliest"
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       cfg.Brokers,
		"group.id":                cfg.GroupID,
		"auto.offset.reset":       offsetReset,
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &ConfluentConsumer{
		consumer: c,
		topic:    cfg.Topic,
		handler:  handler,
	}, nil
}

// Run polls the topic until ctx is done. Handler errors are logged and the
// offending event is skipped; only fatal broker errors abort the loop.
func (c *ConfluentConsumer) Run(ctx context.Context) error {
	if err := c.consumer.Subscribe(c.topic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.topic, err)
	}

	logger := pkglog.L()
	logger.Info().Str("topic", c.topic).Msg("kafka consumer started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("kafka consumer stopping")
			return nil
		default:
		}

		ev := c.consumer.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if err := c.handleEvent(ctx, e.Value); err != nil {
				logger.Error().Err(err).
					Int32("partition", int32(e.TopicPartition.Partition)).
					Str("offset", e.TopicPartition.Offset.String()).
					Msg("failed to handle message event")
			}
		case kafka.Error:
			if e.IsFatal() {
				return fmt.Errorf("fatal kafka error: %w", e)
			}
			logger.Warn().Err(e).Msg("kafka error")
		default:
			// Rebalance notices, offset commits and the like.
		}
	}
}

func (c *ConfluentConsumer) handleEvent(ctx context.Context, value []byte) error {
	var msg domain.Message
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal message event: %w", err)
	}
	return c.handler.HandleMessage(ctx, &msg)
}

// Close closes the Kafka consumer.
func (c *ConfluentConsumer) Close() error {
	return c.consumer.Close()
}
