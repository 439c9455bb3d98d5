package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"unievent-ticketing/internal/logger"
	"unievent-ticketing/internal/metrics"
	"unievent-ticketing/internal/models"
	"unievent-ticketing/internal/notify"
	"unievent-ticketing/internal/payment"
	"unievent-ticketing/internal/tickets/db"
)

// ApplyPaymentResult records a gateway result against the ticket carrying
// orderID. Success moves payment to paid, any other code to failed.
// Repeating a result changes nothing and fires no side effects; the payment
// notification and email go out only on the transition into paid.
//
// A success arriving after the ticket was cancelled (typically by the
// sweeper) is still recorded, since the money was captured, but the slot is
// not restored. Instead of the success notice a refund_required event is
// published for the order.
func (s *TicketService) ApplyPaymentResult(ctx context.Context, orderID string, resultCode int) (*models.Ticket, error) {
	const op = "Payment.ApplyPaymentResult"

	to := models.PaymentFailed
	if resultCode == payment.ResultSuccess {
		to = models.PaymentPaid
	}

	var ticket *models.Ticket
	err := s.DB.RunInTx(ctx, func(ctx context.Context, q *db.Queries, after func(db.AfterCommit)) error {
		var err error
		ticket, err = q.TicketByPaymentOrderID(ctx, orderID)
		if err != nil {
			return err
		}

		now := s.now()
		changed, err := q.SetPaymentStatus(ctx, orderID, to, now)
		if err != nil || !changed {
			return err
		}
		ticket.PaymentStatus = to
		ticket.UpdatedAt = now

		refund := to == models.PaymentPaid && ticket.Status == models.TicketCancelled

		var email string
		if to == models.PaymentPaid && !refund {
			buyer, err := q.UserByID(ctx, ticket.BuyerID)
			if err != nil {
				return err
			}
			email = buyer.Email
		}

		paid := *ticket
		after(func(ctx context.Context) {
			metrics.PaymentTransitions.WithLabelValues(string(paid.PaymentStatus)).Inc()
			s.lifecycle(ctx, notify.LifecyclePaymentUpdated, &paid)
			if refund {
				s.Logger.With(logger.ERROR, "PAYMENT", "payment captured for cancelled ticket, refund required", logger.Fields{
					"ticket_id": paid.ID,
					"order_id":  paid.PaymentOrderID,
					"amount":    paid.PaymentAmount.StringFixed(2),
				})
				s.lifecycle(ctx, notify.LifecycleRefundRequired, &paid)
				return
			}
			if paid.PaymentStatus != models.PaymentPaid {
				return
			}
			s.Notifier.Notify(ctx, notify.Notification{
				UserIDs: []string{paid.BuyerID},
				Type:    notify.TypePaymentSuccess,
				Title:   "Payment received",
				Body:    fmt.Sprintf("Payment for ticket %s succeeded.", paid.BookingCode),
				Data:    map[string]string{"ticket_id": paid.ID, "order_id": paid.PaymentOrderID},
			})
			s.Notifier.Email(ctx, notify.Email{
				UserID:   paid.BuyerID,
				To:       email,
				Subject:  "Payment confirmation",
				Template: notify.TemplatePaymentSuccess,
				Data: map[string]string{
					"booking_code": paid.BookingCode,
					"amount":       paid.PaymentAmount.StringFixed(2),
				},
			})
		})
		return nil
	})
	if err != nil {
		err = fromStore(op, err, ErrTicketNotFound)
		metrics.Observe("payment_result", string(KindOf(err)))
		return nil, err
	}

	metrics.Observe("payment_result", "")
	s.Logger.LogTicket("PAYMENT", ticket.ID, fmt.Sprintf("order %s result %d, payment %s", orderID, resultCode, ticket.PaymentStatus))
	return ticket, nil
}

// ReconcilePayment polls the gateway for orderID on behalf of actorID and
// applies the result once the gateway reports a final outcome. Only the
// ticket holder may reconcile; the gateway is not contacted for anyone else.
// In-progress results leave the ticket as it is.
func (s *TicketService) ReconcilePayment(ctx context.Context, orderID, actorID string) (*models.Ticket, error) {
	const op = "Payment.ReconcilePayment"

	ticket, err := s.DB.Queries().TicketByPaymentOrderID(ctx, orderID)
	if err != nil {
		return nil, fromStore(op, err, ErrTicketNotFound)
	}
	if ticket.BuyerID != actorID {
		s.Logger.LogSecurity("RECONCILE_DENIED", fmt.Sprintf("user %s polled order %s", actorID, orderID))
		return nil, fail(op, ErrForbidden, "ticket belongs to another user", nil)
	}
	if s.Gateway == nil {
		return nil, fail(op, ErrUpstreamFailure, "no payment gateway configured", nil)
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
	defer cancel()

	start := time.Now()
	status, err := s.Gateway.QueryStatus(gctx, orderID)
	metrics.ObserveGateway("query", start)
	if err != nil {
		s.Logger.Error("PAYMENT", fmt.Sprintf("query order %s: %v", orderID, err))
		return nil, fail(op, ErrUpstreamFailure, "", err)
	}
	if status == nil {
		return nil, fail(op, ErrUpstreamFailure, "gateway returned no status", errors.New("nil status"))
	}

	if !status.Final() {
		s.Logger.Debug("PAYMENT", fmt.Sprintf("order %s still in progress (%d)", orderID, status.ResultCode))
		return ticket, nil
	}
	return s.ApplyPaymentResult(ctx, orderID, status.ResultCode)
}
