package tickets

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"unievent-ticketing/internal/metrics"
	"unievent-ticketing/internal/models"
	"unievent-ticketing/internal/notify"
	"unievent-ticketing/internal/tickets/db"
)

// ProposeTransfer offers a booked ticket to another user. The ticket moves
// to transferring until the recipient confirms or rejects, or the owner
// withdraws the offer.
func (s *TicketService) ProposeTransfer(ctx context.Context, ticketID, fromUserID, toUserID string) (*models.TransferRequest, error) {
	const op = "Transfer.ProposeTransfer"

	if fromUserID == toUserID {
		return nil, fail(op, ErrInvalidState, "cannot transfer a ticket to its owner", nil)
	}

	unlock, err := s.lock(ctx, op, ticketID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var request *models.TransferRequest
	err = s.DB.RunInTx(ctx, func(ctx context.Context, q *db.Queries, after func(db.AfterCommit)) error {
		ticket, err := q.TicketByID(ctx, ticketID)
		if err != nil {
			return err
		}
		if ticket.BuyerID != fromUserID {
			return fail(op, ErrForbidden, "only the ticket owner can transfer it", nil)
		}
		if ticket.Status != models.TicketBooked {
			return fail(op, ErrInvalidState, fmt.Sprintf("ticket is %s", ticket.Status), nil)
		}

		exists, err := q.UserExists(ctx, toUserID)
		if err != nil {
			return err
		}
		if !exists {
			return fail(op, ErrNotFound, "recipient not found", nil)
		}

		now := s.now()
		if err := q.TransitionTicket(ctx, ticket.ID, models.TicketBooked, models.TicketTransferring, now); err != nil {
			return err
		}
		request = &models.TransferRequest{
			ID:         uuid.NewString(),
			TicketID:   ticket.ID,
			FromUserID: fromUserID,
			ToUserID:   toUserID,
			Status:     models.TransferPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := q.InsertTransfer(ctx, request); err != nil {
			if errors.Is(err, db.ErrConflict) {
				return fail(op, ErrConflict, "ticket already has a pending transfer", err)
			}
			return err
		}

		ticket.Status = models.TicketTransferring
		ticket.UpdatedAt = now
		moved, proposed := *ticket, *request
		after(func(ctx context.Context) {
			s.lifecycle(ctx, notify.LifecycleTransferring, &moved)
			s.Notifier.Notify(ctx, notify.Notification{
				UserIDs: []string{proposed.ToUserID},
				Type:    notify.TypeTicketTransfer,
				Title:   "Ticket transfer offer",
				Body:    fmt.Sprintf("You have been offered ticket %s.", moved.BookingCode),
				Data:    map[string]string{"ticket_id": moved.ID, "transfer_id": proposed.ID, "from": proposed.FromUserID},
			})
		})
		return nil
	})
	if err != nil {
		err = fromStore(op, err, ErrTicketNotFound)
		metrics.Observe("transfer_propose", string(KindOf(err)))
		return nil, err
	}

	metrics.Observe("transfer_propose", "")
	s.Logger.LogTicket("TRANSFER", ticketID, fmt.Sprintf("proposed %s -> %s", fromUserID, toUserID))
	return request, nil
}

// ConfirmTransfer hands the ticket to the recipient of its pending request.
// Holdings, ownership, ticket status and request status change in one
// transaction.
func (s *TicketService) ConfirmTransfer(ctx context.Context, ticketID, toUserID string) (*models.Ticket, error) {
	const op = "Transfer.ConfirmTransfer"

	unlock, err := s.lock(ctx, op, ticketID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var ticket *models.Ticket
	err = s.DB.RunInTx(ctx, func(ctx context.Context, q *db.Queries, after func(db.AfterCommit)) error {
		var (
			request *models.TransferRequest
			err     error
		)
		ticket, request, err = s.pendingRequest(ctx, q, op, ticketID)
		if err != nil {
			return err
		}
		if request.ToUserID != toUserID {
			return fail(op, ErrForbidden, "transfer is addressed to another user", nil)
		}

		now := s.now()
		if err := q.RemoveHolding(ctx, request.FromUserID, ticket.ID); err != nil {
			return err
		}
		if err := q.AddHolding(ctx, request.ToUserID, ticket.ID, now); err != nil {
			return err
		}
		if err := q.MoveTicketOwner(ctx, ticket.ID, request.ToUserID, now); err != nil {
			return err
		}
		if err := q.CloseTransfer(ctx, request.ID, models.TransferSuccess, now); err != nil {
			return err
		}

		ticket.BuyerID = request.ToUserID
		ticket.Status = models.TicketTransferred
		ticket.UpdatedAt = now
		moved, from := *ticket, request.FromUserID
		after(func(ctx context.Context) {
			s.lifecycle(ctx, notify.LifecycleTransferred, &moved)
			s.Notifier.Notify(ctx, notify.Notification{
				UserIDs: []string{from},
				Type:    notify.TypeTicketTransfer,
				Title:   "Ticket transferred",
				Body:    fmt.Sprintf("Ticket %s now belongs to its new owner.", moved.BookingCode),
				Data:    map[string]string{"ticket_id": moved.ID, "to": moved.BuyerID},
			})
		})
		return nil
	})
	if err != nil {
		err = fromStore(op, err, ErrTicketNotFound)
		metrics.Observe("transfer_confirm", string(KindOf(err)))
		return nil, err
	}

	metrics.Observe("transfer_confirm", "")
	s.Logger.LogTicket("TRANSFER", ticketID, "confirmed by "+toUserID)
	return ticket, nil
}

// RejectTransfer is the recipient declining the offer. The ticket returns to
// booked and the source owner is told.
func (s *TicketService) RejectTransfer(ctx context.Context, ticketID, byUserID string) (*models.TransferRequest, error) {
	const op = "Transfer.RejectTransfer"
	return s.closeTransfer(ctx, op, ticketID, func(r *models.TransferRequest) (string, error) {
		if r.ToUserID != byUserID {
			return "", fail(op, ErrForbidden, "transfer is addressed to another user", nil)
		}
		return r.FromUserID, nil
	})
}

// CancelTransfer withdraws the owner's pending offer. The recipient is told.
func (s *TicketService) CancelTransfer(ctx context.Context, ticketID, fromUserID string) (*models.TransferRequest, error) {
	const op = "Transfer.CancelTransfer"
	return s.closeTransfer(ctx, op, ticketID, func(r *models.TransferRequest) (string, error) {
		if r.FromUserID != fromUserID {
			return "", fail(op, ErrForbidden, "only the ticket owner can withdraw a transfer", nil)
		}
		return r.ToUserID, nil
	})
}

// closeTransfer returns the ticket to booked and cancels its pending
// request. authorize returns the user to notify.
func (s *TicketService) closeTransfer(
	ctx context.Context,
	op, ticketID string,
	authorize func(*models.TransferRequest) (string, error),
) (*models.TransferRequest, error) {
	unlock, err := s.lock(ctx, op, ticketID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var request *models.TransferRequest
	err = s.DB.RunInTx(ctx, func(ctx context.Context, q *db.Queries, after func(db.AfterCommit)) error {
		var (
			ticket *models.Ticket
			err    error
		)
		ticket, request, err = s.pendingRequest(ctx, q, op, ticketID)
		if err != nil {
			return err
		}
		notifyUser, err := authorize(request)
		if err != nil {
			return err
		}

		now := s.now()
		if err := q.TransitionTicket(ctx, ticket.ID, models.TicketTransferring, models.TicketBooked, now); err != nil {
			return err
		}
		if err := q.CloseTransfer(ctx, request.ID, models.TransferCancelled, now); err != nil {
			return err
		}

		ticket.Status = models.TicketBooked
		ticket.UpdatedAt = now
		request.Status = models.TransferCancelled
		request.UpdatedAt = now
		back := *ticket
		after(func(ctx context.Context) {
			s.lifecycle(ctx, notify.LifecycleTransferClosed, &back)
			s.Notifier.Notify(ctx, notify.Notification{
				UserIDs: []string{notifyUser},
				Type:    notify.TypeTicketTransfer,
				Title:   "Ticket transfer cancelled",
				Body:    fmt.Sprintf("The transfer of ticket %s did not go ahead.", back.BookingCode),
				Data:    map[string]string{"ticket_id": back.ID},
			})
		})
		return nil
	})
	if err != nil {
		err = fromStore(op, err, ErrTicketNotFound)
		metrics.Observe("transfer_close", string(KindOf(err)))
		return nil, err
	}

	metrics.Observe("transfer_close", "")
	s.Logger.LogTicket("TRANSFER", ticketID, "request "+request.ID+" cancelled")
	return request, nil
}

// pendingRequest loads the ticket and its pending transfer request. A
// ticket with no pending request reports ErrTransferNotFound.
func (s *TicketService) pendingRequest(ctx context.Context, q *db.Queries, op, ticketID string) (*models.Ticket, *models.TransferRequest, error) {
	ticket, err := q.TicketByID(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	request, err := q.PendingTransfer(ctx, ticketID, "")
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil, fail(op, ErrTransferNotFound, "", err)
		}
		return nil, nil, err
	}
	return ticket, request, nil
}
