// Package notify delivers best-effort side effects of ticket operations:
// push notifications, emails and lifecycle events. Delivery happens off the
// caller's goroutine and failures never reach the caller.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"unievent-ticketing/internal/logger"
	"unievent-ticketing/internal/metrics"
)

// Notification types shown to users.
const (
	TypeTicketBooking  = "ticket_booking"
	TypeTicketCancel   = "ticket_cancel"
	TypeTicketTransfer = "ticket_transfer"
	TypeCheckIn        = "check_in"
	TypePaymentSuccess = "payment_success"
)

// Email templates.
const (
	TemplateBookingConfirmation = "booking_confirmation"
	TemplatePaymentSuccess      = "payment_success"
	TemplateEventReminder       = "event_reminder"
)

type Notification struct {
	UserIDs []string          `json:"user_ids"`
	Type    string            `json:"type"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data,omitempty"`
}

type Email struct {
	UserID   string            `json:"user_id"`
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data,omitempty"`
}

// Lifecycle event types.
const (
	LifecycleBooked         = "booked"
	LifecycleCancelled      = "cancelled"
	LifecycleTransferring   = "transferring"
	LifecycleTransferred    = "transferred"
	LifecycleTransferClosed = "transfer_closed"
	LifecycleCheckedIn      = "checked_in"
	LifecyclePaymentUpdated = "payment_updated"
	// LifecycleRefundRequired marks money captured for a ticket that was
	// already cancelled. Finance consumers refund it.
	LifecycleRefundRequired = "refund_required"
)

// LifecycleEvent records one committed ticket state change.
type LifecycleEvent struct {
	Type          string    `json:"type"`
	TicketID      string    `json:"ticket_id"`
	EventID       string    `json:"event_id"`
	UserID        string    `json:"user_id"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	At            time.Time `json:"at"`
}

// Sink performs the actual delivery.
type Sink interface {
	SendNotification(ctx context.Context, n Notification) error
	SendEmail(ctx context.Context, e Email) error
	PublishLifecycle(ctx context.Context, e LifecycleEvent) error
}

type Dispatcher struct {
	sink    Sink
	log     *logger.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(sink Sink, log *logger.Logger) *Dispatcher {
	return &Dispatcher{sink: sink, log: log, timeout: 10 * time.Second}
}

func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	d.dispatch(ctx, "push", n.Type, func(ctx context.Context) error {
		return d.sink.SendNotification(ctx, n)
	})
}

func (d *Dispatcher) Email(ctx context.Context, e Email) {
	d.dispatch(ctx, "email", e.Template, func(ctx context.Context) error {
		return d.sink.SendEmail(ctx, e)
	})
}

func (d *Dispatcher) Publish(ctx context.Context, e LifecycleEvent) {
	d.dispatch(ctx, "lifecycle", e.Type, func(ctx context.Context) error {
		return d.sink.PublishLifecycle(ctx, e)
	})
}

// Wait blocks until every dispatched delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, channel, what string, send func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := send(ctx); err != nil {
			metrics.NotificationFailures.WithLabelValues(channel).Inc()
			d.log.Error("NOTIFY", fmt.Sprintf("%s %s delivery failed: %v", channel, what, err))
		}
	}()
}
