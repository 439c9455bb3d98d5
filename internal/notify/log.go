package notify

import (
	"context"
	"fmt"
	"strings"

	"unievent-ticketing/internal/logger"
)

// LogSink only records deliveries. Used when Kafka is disabled.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) SendNotification(_ context.Context, n Notification) error {
	s.log.Info("NOTIFY", fmt.Sprintf("push %s to [%s]: %s", n.Type, strings.Join(n.UserIDs, ","), n.Title))
	return nil
}

func (s *LogSink) SendEmail(_ context.Context, e Email) error {
	s.log.Info("NOTIFY", fmt.Sprintf("email %s to %s: %s", e.Template, e.To, e.Subject))
	return nil
}

func (s *LogSink) PublishLifecycle(_ context.Context, e LifecycleEvent) error {
	s.log.Debug("NOTIFY", fmt.Sprintf("ticket %s %s", e.TicketID, e.Type))
	return nil
}
