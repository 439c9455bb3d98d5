package tickets

import (
	"context"
	"fmt"
	"time"

	"unievent-ticketing/internal/metrics"
	"unievent-ticketing/internal/models"
	"unievent-ticketing/internal/notify"
	"unievent-ticketing/internal/tickets/db"
)

// CancelTicket cancels the requester's ticket and gives its slot back to the
// event. Payments are not reversed.
func (s *TicketService) CancelTicket(ctx context.Context, ticketID, requesterID, reason string) (*models.Ticket, error) {
	const op = "Cancellation.CancelTicket"

	unlock, err := s.lock(ctx, op, ticketID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var ticket *models.Ticket
	err = s.DB.RunInTx(ctx, func(ctx context.Context, q *db.Queries, after func(db.AfterCommit)) error {
		var err error
		ticket, err = q.TicketByID(ctx, ticketID)
		if err != nil {
			return err
		}
		if ticket.BuyerID != requesterID {
			return fail(op, ErrForbidden, "only the ticket owner can cancel it", nil)
		}
		if ticket.Status == models.TicketCancelled {
			return fail(op, ErrAlreadyCancelled, "", nil)
		}

		if err := s.cancelInTx(ctx, q, ticket, reason, s.now()); err != nil {
			return err
		}

		cancelled := *ticket
		after(func(ctx context.Context) {
			s.lifecycle(ctx, notify.LifecycleCancelled, &cancelled)
			s.Notifier.Notify(ctx, notify.Notification{
				UserIDs: []string{cancelled.BuyerID},
				Type:    notify.TypeTicketCancel,
				Title:   "Ticket cancelled",
				Body:    fmt.Sprintf("Ticket %s has been cancelled.", cancelled.BookingCode),
				Data:    map[string]string{"ticket_id": cancelled.ID, "reason": cancelled.CancelReason},
			})
		})
		return nil
	})
	if err != nil {
		err = fromStore(op, err, ErrTicketNotFound)
		metrics.Observe("cancel", string(KindOf(err)))
		return nil, err
	}

	metrics.Observe("cancel", "")
	s.Logger.LogTicket("CANCELLED", ticket.ID, "reason: "+reason)
	return ticket, nil
}

// cancelInTx closes any pending transfer, cancels the ticket and releases
// its slot. ticket is updated in place.
func (s *TicketService) cancelInTx(ctx context.Context, q *db.Queries, ticket *models.Ticket, reason string, now time.Time) error {
	if ticket.Status == models.TicketTransferring {
		if _, err := q.CancelPendingTransfers(ctx, ticket.ID, now); err != nil {
			return err
		}
	}
	if err := q.CancelTicket(ctx, ticket.ID, ticket.Status, reason, now); err != nil {
		return err
	}
	if err := q.ReleaseSlot(ctx, ticket.EventID); err != nil {
		return err
	}

	ticket.Status = models.TicketCancelled
	ticket.CancelReason = reason
	ticket.UpdatedAt = now
	return nil
}
