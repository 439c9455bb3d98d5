package db

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"unievent-ticketing/internal/models"
)

func (q *Queries) InsertTicket(ctx context.Context, ticket *models.Ticket) error {
	_, err := q.db.NewInsert().Model(ticket).Exec(ctx)
	return translateDBErr(err)
}

func (q *Queries) TicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	return q.ticketBy(ctx, "id", id)
}

func (q *Queries) TicketByBookingCode(ctx context.Context, code string) (*models.Ticket, error) {
	return q.ticketBy(ctx, "booking_code", code)
}

func (q *Queries) TicketByQRPayload(ctx context.Context, payload string) (*models.Ticket, error) {
	return q.ticketBy(ctx, "qr_payload", payload)
}

func (q *Queries) TicketByPaymentOrderID(ctx context.Context, orderID string) (*models.Ticket, error) {
	return q.ticketBy(ctx, "payment_order_id", orderID)
}

func (q *Queries) ticketBy(ctx context.Context, column, value string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := q.db.NewSelect().
		Model(&ticket).
		Where("? = ?", bun.Ident(column), value).
		Where("is_deleted = ?", false).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ticket %s=%s: %w", column, value, translateDBErr(err))
	}
	return &ticket, nil
}

// guardedTicketUpdate applies set to the ticket only while it is still in
// status from. A miss means another writer moved the ticket first.
func (q *Queries) guardedTicketUpdate(
	ctx context.Context,
	id string,
	from, to models.TicketStatus,
	now time.Time,
	set func(*bun.UpdateQuery) *bun.UpdateQuery,
) error {
	if err := models.CheckTicketTransition(from, to); err != nil {
		return err
	}

	query := q.db.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", from)
	if set != nil {
		query = set(query)
	}

	res, err := query.Exec(ctx)
	if err != nil {
		return translateDBErr(err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("ticket %s left status %s: %w", id, from, ErrRetryable)
	}
	return nil
}

// TransitionTicket moves a ticket between two statuses without touching any
// other column.
func (q *Queries) TransitionTicket(ctx context.Context, id string, from, to models.TicketStatus, now time.Time) error {
	return q.guardedTicketUpdate(ctx, id, from, to, now, nil)
}

func (q *Queries) CancelTicket(ctx context.Context, id string, from models.TicketStatus, reason string, now time.Time) error {
	return q.guardedTicketUpdate(ctx, id, from, models.TicketCancelled, now, func(uq *bun.UpdateQuery) *bun.UpdateQuery {
		return uq.Set("cancel_reason = ?", reason)
	})
}

// CheckInTicket records attendance. Payment must already be settled.
func (q *Queries) CheckInTicket(ctx context.Context, id string, from models.TicketStatus, staffID string, at time.Time) error {
	return q.guardedTicketUpdate(ctx, id, from, models.TicketCheckedIn, at, func(uq *bun.UpdateQuery) *bun.UpdateQuery {
		return uq.
			Set("checked_in_at = ?", at).
			Set("checked_in_by = ?", staffID).
			Where("payment_status = ?", models.PaymentPaid)
	})
}

// MoveTicketOwner is the terminal step of a transfer.
func (q *Queries) MoveTicketOwner(ctx context.Context, id, toUserID string, now time.Time) error {
	return q.guardedTicketUpdate(ctx, id, models.TicketTransferring, models.TicketTransferred, now, func(uq *bun.UpdateQuery) *bun.UpdateQuery {
		return uq.Set("buyer_id = ?", toUserID)
	})
}

// SetPaymentHandle stores what the gateway returned when the payment was
// created.
func (q *Queries) SetPaymentHandle(
	ctx context.Context,
	ticketID, orderID, redirectURL string,
	amount decimal.Decimal,
	data map[string]string,
	now time.Time,
) error {
	res, err := q.db.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("payment_order_id = ?", orderID).
		Set("payment_redirect_url = ?", redirectURL).
		Set("payment_amount = ?", amount).
		Set("payment_data = ?", data).
		Set("updated_at = ?", now).
		Where("id = ?", ticketID).
		Exec(ctx)
	if err != nil {
		return translateDBErr(err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("ticket %s: %w", ticketID, ErrNotFound)
	}
	return nil
}

// SetPaymentStatus moves the ticket holding orderID to status to when the
// payment transition table allows it. It reports whether a row changed, so
// repeating a result is a no-op the caller can detect.
func (q *Queries) SetPaymentStatus(ctx context.Context, orderID string, to models.PaymentStatus, now time.Time) (bool, error) {
	return q.setPaymentStatus(ctx, "payment_order_id", orderID, to, now)
}

func (q *Queries) SetTicketPaymentStatus(ctx context.Context, ticketID string, to models.PaymentStatus, now time.Time) (bool, error) {
	return q.setPaymentStatus(ctx, "id", ticketID, to, now)
}

func (q *Queries) setPaymentStatus(ctx context.Context, column, value string, to models.PaymentStatus, now time.Time) (bool, error) {
	from := models.PaymentStatusesFrom(to)
	if len(from) == 0 {
		return false, fmt.Errorf("%w: payment -> %s", models.ErrInvalidTransition, to)
	}

	res, err := q.db.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("payment_status = ?", to).
		Set("updated_at = ?", now).
		Where("? = ?", bun.Ident(column), value).
		Where("payment_status IN (?)", bun.In(from)).
		Exec(ctx)
	if err != nil {
		return false, translateDBErr(err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// StalePendingTickets returns live tickets still waiting for payment that
// were created before cutoff, oldest first.
func (q *Queries) StalePendingTickets(ctx context.Context, cutoff time.Time, limit int) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := q.db.NewSelect().
		Model(&tickets).
		Where("payment_status = ?", models.PaymentPending).
		Where("status IN (?)", bun.In([]models.TicketStatus{models.TicketBooked, models.TicketTransferring})).
		Where("is_deleted = ?", false).
		Where("created_at < ?", cutoff).
		OrderExpr("created_at ASC").
		Limit(limit).
		Scan(ctx)
	return tickets, translateDBErr(err)
}

// TicketsHeldBy lists the tickets in the user's holdings, newest first.
func (q *Queries) TicketsHeldBy(ctx context.Context, userID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := q.db.NewSelect().
		Model(&tickets).
		Relation("Event").
		Join("JOIN user_tickets AS h ON h.ticket_id = ticket.id").
		Where("h.user_id = ?", userID).
		Where("ticket.is_deleted = ?", false).
		OrderExpr("ticket.created_at DESC").
		Scan(ctx)
	return tickets, translateDBErr(err)
}

// AttendableTicketsHeldBy lists the user's paid tickets that can still be
// checked in, for active events, with the event loaded.
func (q *Queries) AttendableTicketsHeldBy(ctx context.Context, userID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := q.db.NewSelect().
		Model(&tickets).
		Relation("Event").
		Join("JOIN user_tickets AS h ON h.ticket_id = ticket.id").
		Where("h.user_id = ?", userID).
		Where("ticket.is_deleted = ?", false).
		Where("ticket.payment_status = ?", models.PaymentPaid).
		Where("ticket.status IN (?)", bun.In([]models.TicketStatus{models.TicketBooked, models.TicketTransferred})).
		Where("event.status = ?", models.EventActive).
		Where("event.is_deleted = ?", false).
		Scan(ctx)
	return tickets, translateDBErr(err)
}

// PaidTicketsForEvent lists paid, non-cancelled tickets of one event.
func (q *Queries) PaidTicketsForEvent(ctx context.Context, eventID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := q.db.NewSelect().
		Model(&tickets).
		Where("event_id = ?", eventID).
		Where("payment_status = ?", models.PaymentPaid).
		Where("status <> ?", models.TicketCancelled).
		Where("is_deleted = ?", false).
		Scan(ctx)
	return tickets, translateDBErr(err)
}
