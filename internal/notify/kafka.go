package notify

import (
	"context"
	"strings"

	"unievent-ticketing/internal/kafka"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v interface{}) error
}

// KafkaSink hands deliveries to downstream push and mail workers through
// Kafka topics.
type KafkaSink struct {
	producer Publisher
}

func NewKafkaSink(producer Publisher) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) SendNotification(ctx context.Context, n Notification) error {
	return s.producer.PublishJSON(ctx, kafka.TopicNotifications, strings.Join(n.UserIDs, ","), n)
}

func (s *KafkaSink) SendEmail(ctx context.Context, e Email) error {
	return s.producer.PublishJSON(ctx, kafka.TopicEmails, e.UserID, e)
}

func (s *KafkaSink) PublishLifecycle(ctx context.Context, e LifecycleEvent) error {
	return s.producer.PublishJSON(ctx, kafka.TopicTicketEvents, e.TicketID, e)
}
