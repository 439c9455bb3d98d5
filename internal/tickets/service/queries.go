package tickets

import (
	"context"

	"unievent-ticketing/internal/models"
	"unievent-ticketing/internal/tickets/db"
)

// GetTicket returns a ticket to its owner or to staff of its event.
func (s *TicketService) GetTicket(ctx context.Context, ticketID, actorID string) (*models.Ticket, error) {
	const op = "Query.GetTicket"
	q := s.DB.Queries()

	ticket, err := q.TicketByID(ctx, ticketID)
	if err != nil {
		return nil, fromStore(op, err, ErrTicketNotFound)
	}
	if ticket.BuyerID == actorID {
		return ticket, nil
	}

	staff, err := q.IsEventStaff(ctx, ticket.EventID, actorID)
	if err != nil {
		return nil, fromStore(op, err, nil)
	}
	if !staff {
		return nil, fail(op, ErrForbidden, "ticket belongs to another user", nil)
	}
	return ticket, nil
}

func (s *TicketService) ListMyTickets(ctx context.Context, userID string) ([]models.Ticket, error) {
	tickets, err := s.DB.Queries().TicketsHeldBy(ctx, userID)
	if err != nil {
		return nil, fromStore("Query.ListMyTickets", err, nil)
	}
	return tickets, nil
}

// ListIncomingTransfers returns pending offers addressed to userID.
func (s *TicketService) ListIncomingTransfers(ctx context.Context, userID string) ([]models.TransferRequest, error) {
	transfers, err := s.DB.Queries().IncomingTransfers(ctx, userID)
	if err != nil {
		return nil, fromStore("Query.ListIncomingTransfers", err, nil)
	}
	return transfers, nil
}

// TicketQRCode renders the ticket's QR payload as a PNG for its owner.
func (s *TicketService) TicketQRCode(ctx context.Context, ticketID, actorID string, size int) ([]byte, error) {
	const op = "Query.TicketQRCode"

	ticket, err := s.DB.Queries().TicketByID(ctx, ticketID)
	if err != nil {
		return nil, fromStore(op, err, ErrTicketNotFound)
	}
	if ticket.BuyerID != actorID {
		return nil, fail(op, ErrForbidden, "ticket belongs to another user", nil)
	}
	if ticket.Status == models.TicketCancelled {
		return nil, fail(op, ErrAlreadyCancelled, "", nil)
	}

	png, err := s.QR.PNG(ticket.QRPayload, size)
	if err != nil {
		return nil, fromStore(op, err, nil)
	}
	return png, nil
}

// EventCapacity reports the capacity ledger of one event.
func (s *TicketService) EventCapacity(ctx context.Context, eventID string) (db.Capacity, error) {
	c, err := s.DB.Queries().Capacity(ctx, eventID)
	if err != nil {
		return db.Capacity{}, fromStore("Query.EventCapacity", err, nil)
	}
	return c, nil
}

// AuthorizeEventStaff succeeds when actorID organizes or staffs eventID.
func (s *TicketService) AuthorizeEventStaff(ctx context.Context, eventID, actorID string) error {
	const op = "Query.AuthorizeEventStaff"
	q := s.DB.Queries()

	if _, err := q.EventByID(ctx, eventID); err != nil {
		return fromStore(op, err, nil)
	}
	staff, err := q.IsEventStaff(ctx, eventID, actorID)
	if err != nil {
		return fromStore(op, err, nil)
	}
	if !staff {
		return fail(op, ErrForbidden, "not staff of this event", nil)
	}
	return nil
}
