package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Writer MessageWriter
}

// NewProducer returns a producer whose messages choose their own topic.
func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer}
}

// Publish writes one message keyed by key to topic.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

func (p *Producer) PublishJSON(ctx context.Context, topic, key string, v interface{}) error {
	msgBytes, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}
	return p.Publish(ctx, topic, key, msgBytes)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
