package analytics

import (
	"context"
	"strings"

	"github.com/uptrace/bun"

	"unievent-ticketing/internal/models"
)

// DB runs the read-only analytics queries.
type DB struct {
	bun bun.IDB
}

func NewDB(db bun.IDB) *DB {
	return &DB{bun: db}
}

func (db *DB) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	var event models.Event
	err := db.bun.NewSelect().
		Model(&event).
		Where("id = ?", eventID).
		Where("is_deleted = ?", false).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// GetTicketFacts loads the columns the stats are computed from.
func (db *DB) GetTicketFacts(ctx context.Context, eventID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := db.bun.NewSelect().
		Model(&tickets).
		Column("id", "status", "payment_status", "payment_amount", "checked_in_at", "created_at").
		Where("event_id = ?", eventID).
		Where("is_deleted = ?", false).
		Order("created_at ASC").
		Scan(ctx)
	return tickets, err
}

// TicketSortField defines the valid fields for sorting attendees.
type TicketSortField string

const (
	TicketSortByCreatedAt   TicketSortField = "created_at"
	TicketSortByCheckedInAt TicketSortField = "checked_in_at"
	TicketSortByAmount      TicketSortField = "payment_amount"
)

// AttendeeOptions filters the staff attendee listing.
type AttendeeOptions struct {
	Status        string
	PaymentStatus string
	SortBy        string
	SortDesc      bool
	Limit         int
	Offset        int
}

func (db *DB) GetEventTickets(ctx context.Context, eventID string, opts AttendeeOptions) ([]models.Ticket, error) {
	var tickets []models.Ticket
	q := db.bun.NewSelect().
		Model(&tickets).
		Where("event_id = ?", eventID).
		Where("is_deleted = ?", false)

	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	if opts.PaymentStatus != "" {
		q = q.Where("payment_status = ?", opts.PaymentStatus)
	}

	direction := "ASC"
	if opts.SortDesc {
		direction = "DESC"
	}
	switch TicketSortField(strings.ToLower(opts.SortBy)) {
	case TicketSortByCheckedInAt:
		q = q.Order("checked_in_at " + direction)
	case TicketSortByAmount:
		q = q.Order("payment_amount " + direction)
	default:
		q = q.Order("created_at " + direction)
	}
	// stable pages
	q = q.Order("id ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	err := q.Scan(ctx)
	return tickets, err
}
