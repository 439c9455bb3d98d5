package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"unievent-ticketing/internal/metrics"
	"unievent-ticketing/internal/models"
	"unievent-ticketing/internal/notify"
	"unievent-ticketing/internal/payment"
	"unievent-ticketing/internal/tickets/db"
	"unievent-ticketing/internal/utils"
)

// bookingCodeAttempts bounds how often a booking is retried after a
// booking code collision.
const bookingCodeAttempts = 3

// BookTicket reserves one slot on the event for the buyer. Free events
// produce a paid ticket straight away. For paid events the ticket stays
// pending and the gateway is asked for a payment handle after the slot is
// committed; a gateway failure returns the pending ticket together with an
// UpstreamFailure error.
func (s *TicketService) BookTicket(ctx context.Context, eventID, buyerID string) (*models.Ticket, error) {
	const op = "Booking.BookTicket"

	ticket, event, err := s.reserveTicket(ctx, op, eventID, buyerID)
	if err != nil {
		metrics.Observe("book", string(KindOf(err)))
		s.Logger.Warn("BOOKING", fmt.Sprintf("event %s buyer %s: %v", eventID, buyerID, err))
		return nil, err
	}

	if event.IsFree() {
		metrics.Observe("book", "")
		s.Logger.LogTicket("BOOKED", ticket.ID, fmt.Sprintf("free ticket %s for event %s", ticket.BookingCode, event.ID))
		return ticket, nil
	}

	if err := s.requestPayment(ctx, op, ticket, event); err != nil {
		metrics.Observe("book", string(KindOf(err)))
		return ticket, err
	}

	metrics.Observe("book", "")
	s.Logger.LogTicket("BOOKED", ticket.ID, fmt.Sprintf("ticket %s awaiting payment order %s", ticket.BookingCode, ticket.PaymentOrderID))
	return ticket, nil
}

func (s *TicketService) reserveTicket(ctx context.Context, op, eventID, buyerID string) (*models.Ticket, *models.Event, error) {
	var (
		ticket *models.Ticket
		event  *models.Event
		err    error
	)
	for attempt := 1; attempt <= bookingCodeAttempts; attempt++ {
		ticket, event, err = s.insertTicket(ctx, op, eventID, buyerID)
		if err == nil || !errors.Is(err, db.ErrConflict) {
			break
		}
		s.Logger.Warn("BOOKING", fmt.Sprintf("booking attempt %d for event %s collided: %v", attempt, eventID, err))
	}
	if err != nil {
		return nil, nil, fromStore(op, err, nil)
	}
	return ticket, event, nil
}

func (s *TicketService) insertTicket(ctx context.Context, op, eventID, buyerID string) (*models.Ticket, *models.Event, error) {
	var (
		ticket *models.Ticket
		event  *models.Event
	)

	err := s.DB.RunInTx(ctx, func(ctx context.Context, q *db.Queries, after func(db.AfterCommit)) error {
		var err error
		event, err = q.EventByID(ctx, eventID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return fail(op, ErrNotFound, "event not found", err)
			}
			return err
		}
		if event.Status != models.EventActive {
			return fail(op, ErrInvalidState, fmt.Sprintf("event is %s", event.Status), nil)
		}

		buyer, err := q.UserByID(ctx, buyerID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return fail(op, ErrNotFound, "buyer not found", err)
			}
			return err
		}

		code, err := utils.GenerateBookingCode(s.cfg.CodePrefix)
		if err != nil {
			return err
		}

		now := s.now()
		paymentStatus := models.PaymentPending
		if event.IsFree() {
			paymentStatus = models.PaymentPaid
		}
		ticket = &models.Ticket{
			ID:            uuid.NewString(),
			EventID:       event.ID,
			BuyerID:       buyer.ID,
			BookingCode:   code,
			QRPayload:     s.QR.Payload(code),
			Status:        models.TicketBooked,
			PaymentStatus: paymentStatus,
			PaymentAmount: event.Price,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		if err := q.ReserveSlot(ctx, event.ID); err != nil {
			return err
		}
		if err := q.InsertTicket(ctx, ticket); err != nil {
			return err
		}
		if err := q.AddHolding(ctx, buyer.ID, ticket.ID, now); err != nil {
			return err
		}

		booked, ev, email := *ticket, *event, buyer.Email
		after(func(ctx context.Context) {
			s.lifecycle(ctx, notify.LifecycleBooked, &booked)
			if !ev.IsFree() {
				return
			}
			s.Notifier.Notify(ctx, notify.Notification{
				UserIDs: []string{booked.BuyerID},
				Type:    notify.TypeTicketBooking,
				Title:   "Ticket booked",
				Body:    fmt.Sprintf("Your ticket for %s is confirmed.", ev.Name),
				Data:    map[string]string{"ticket_id": booked.ID, "event_id": ev.ID},
			})
			s.Notifier.Email(ctx, notify.Email{
				UserID:   booked.BuyerID,
				To:       email,
				Subject:  "Booking confirmation: " + ev.Name,
				Template: notify.TemplateBookingConfirmation,
				Data: map[string]string{
					"event_name":   ev.Name,
					"booking_code": booked.BookingCode,
					"starts_at":    ev.StartsAt.Format(time.RFC3339),
				},
			})
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return ticket, event, nil
}

// requestPayment asks the gateway for a payment handle and stores it on the
// ticket. The reserved slot is kept when this fails; the sweeper releases
// it once the ticket has waited longer than the pending-payment TTL.
func (s *TicketService) requestPayment(ctx context.Context, op string, ticket *models.Ticket, event *models.Event) error {
	if s.Gateway == nil {
		return fail(op, ErrUpstreamFailure, "no payment gateway configured", nil)
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.Gateway.CreatePayment(gctx, payment.CreateRequest{
		Amount:      ticket.PaymentAmount,
		OrderInfo:   fmt.Sprintf("Ticket %s for %s", ticket.BookingCode, event.Name),
		RedirectURL: s.cfg.RedirectURL,
		Reference:   ticket.ID,
	})
	metrics.ObserveGateway("create", start)
	if err != nil {
		s.Logger.Error("PAYMENT", fmt.Sprintf("create payment for ticket %s: %v", ticket.ID, err))
		return fail(op, ErrUpstreamFailure, "", err)
	}
	if res == nil || res.OrderID == "" {
		s.Logger.Error("PAYMENT", fmt.Sprintf("create payment for ticket %s: empty order id", ticket.ID))
		return fail(op, ErrUpstreamFailure, "gateway returned no order id", nil)
	}

	now := s.now()
	err = s.DB.Queries().SetPaymentHandle(ctx, ticket.ID, res.OrderID, res.RedirectURL, ticket.PaymentAmount, res.Data, now)
	if err != nil {
		return fromStore(op, err, ErrTicketNotFound)
	}

	ticket.PaymentOrderID = res.OrderID
	ticket.PaymentRedirectURL = res.RedirectURL
	ticket.PaymentData = res.Data
	ticket.UpdatedAt = now
	return nil
}
