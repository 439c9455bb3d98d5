package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"unievent-ticketing/internal/logger"
)

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one message. Returning an error leaves the message
// uncommitted so the group redelivers it after a restart.
type Handler func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	reader MessageReader
	log    *logger.Logger
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, log: log}
}

func NewConsumerWithReader(reader MessageReader, log *logger.Logger) *Consumer {
	return &Consumer{reader: reader, log: log}
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, handle Handler) error {
	c.log.Info("KAFKA", "Consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				c.log.Info("KAFKA", "Consumer stopped")
				return nil
			}
			if errors.Is(err, kafka.ErrGroupClosed) {
				return nil
			}
			c.log.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			continue
		}

		if err := handle(ctx, msg); err != nil {
			c.log.Error("KAFKA", fmt.Sprintf("Handler failed for %s offset %d: %v", msg.Topic, msg.Offset, err))
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("KAFKA", fmt.Sprintf("Commit failed for %s offset %d: %v", msg.Topic, msg.Offset, err))
		}
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
