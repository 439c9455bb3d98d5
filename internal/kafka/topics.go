package kafka

import (
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"unievent-ticketing/internal/logger"
)

// Topics used by the ticketing service.
const (
	TopicNotifications  = "ticketing.notifications"
	TopicEmails         = "ticketing.emails"
	TopicTicketEvents   = "ticketing.tickets.events"
	TopicPaymentResults = "ticketing.payments.results"
)

func AllTopics() []string {
	return []string{TopicNotifications, TopicEmails, TopicTicketEvents, TopicPaymentResults}
}

// EnsureTopicsExist creates Kafka topics if they don't already exist
func EnsureTopicsExist(brokers []string, topics []string, log *logger.Logger) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	for _, topic := range topics {
		err = controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     3,
			ReplicationFactor: 1,
		})
		switch {
		case err == nil:
			log.Info("KAFKA", fmt.Sprintf("Created topic: %s", topic))
		case errors.Is(err, kafka.TopicAlreadyExists):
			log.Debug("KAFKA", fmt.Sprintf("Topic %s already exists", topic))
		default:
			// Keep going; a missing topic is auto-created on first write.
			log.Error("KAFKA", fmt.Sprintf("Error creating topic %s: %v", topic, err))
		}
	}
	return nil
}
