// Package analytics summarises ticket sales and attendance for event staff.
package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"unievent-ticketing/internal/models"
)

var ErrEventNotFound = errors.New("event not found")

// maxPageSize caps one attendee page.
const maxPageSize = 500

type Service struct {
	db *DB
}

func NewService(db bun.IDB) *Service {
	return &Service{db: NewDB(db)}
}

// EventStats is the aggregated view of one event's tickets.
type EventStats struct {
	EventID      string `json:"event_id"`
	MaxAttendees *int   `json:"max_attendees,omitempty"`
	TicketsSold  int    `json:"tickets_sold"`

	ByStatus        map[models.TicketStatus]int  `json:"by_status"`
	ByPaymentStatus map[models.PaymentStatus]int `json:"by_payment_status"`

	// Revenue sums the amounts of paid tickets, including ones cancelled
	// later.
	Revenue decimal.Decimal `json:"revenue"`
	// CheckInRate is checked-in tickets over tickets that were not
	// cancelled.
	CheckInRate float64      `json:"check_in_rate"`
	DailySales  []DailySales `json:"daily_sales"`
}

// DailySales buckets bookings by UTC day.
type DailySales struct {
	Date    string          `json:"date"`
	Booked  int             `json:"booked"`
	Revenue decimal.Decimal `json:"revenue"`
}

func (s *Service) GetEventStats(ctx context.Context, eventID string) (*EventStats, error) {
	event, err := s.db.GetEvent(ctx, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", eventID, err)
	}

	tickets, err := s.db.GetTicketFacts(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load tickets for %s: %w", eventID, err)
	}

	stats := &EventStats{
		EventID:         event.ID,
		MaxAttendees:    event.MaxAttendees,
		TicketsSold:     event.TicketsSold,
		ByStatus:        make(map[models.TicketStatus]int),
		ByPaymentStatus: make(map[models.PaymentStatus]int),
		Revenue:         decimal.Zero,
		DailySales:      []DailySales{},
	}

	active := 0
	for _, t := range tickets {
		stats.ByStatus[t.Status]++
		stats.ByPaymentStatus[t.PaymentStatus]++
		if t.Status != models.TicketCancelled {
			active++
		}

		day := t.CreatedAt.UTC().Format("2006-01-02")
		if n := len(stats.DailySales); n == 0 || stats.DailySales[n-1].Date != day {
			stats.DailySales = append(stats.DailySales, DailySales{Date: day, Revenue: decimal.Zero})
		}
		bucket := &stats.DailySales[len(stats.DailySales)-1]
		bucket.Booked++

		if t.PaymentStatus == models.PaymentPaid {
			stats.Revenue = stats.Revenue.Add(t.PaymentAmount)
			bucket.Revenue = bucket.Revenue.Add(t.PaymentAmount)
		}
	}
	if active > 0 {
		stats.CheckInRate = float64(stats.ByStatus[models.TicketCheckedIn]) / float64(active)
	}
	return stats, nil
}

// ListAttendees pages through an event's tickets for staff.
func (s *Service) ListAttendees(ctx context.Context, eventID string, opts AttendeeOptions) ([]models.Ticket, error) {
	if opts.Limit <= 0 || opts.Limit > maxPageSize {
		opts.Limit = maxPageSize
	}
	tickets, err := s.db.GetEventTickets(ctx, eventID, opts)
	if err != nil {
		return nil, fmt.Errorf("list attendees for %s: %w", eventID, err)
	}
	return tickets, nil
}
