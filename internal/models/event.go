package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Event carries the capacity ledger (MaxAttendees, TicketsSold) next to the
// directory fields the ticketing engine reads.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID           string          `bun:"id,pk" json:"id"`
	Name         string          `bun:"name,notnull" json:"name"`
	OrganizerID  string          `bun:"organizer_id,notnull" json:"organizer_id"`
	Location     string          `bun:"location" json:"location,omitempty"`
	Price        decimal.Decimal `bun:"price,type:numeric(12,2),notnull" json:"price"`
	MaxAttendees *int            `bun:"max_attendees" json:"max_attendees,omitempty"`
	TicketsSold  int             `bun:"tickets_sold,notnull,default:0" json:"tickets_sold"`
	StartsAt     time.Time       `bun:"starts_at,notnull" json:"starts_at"`
	Status       EventStatus     `bun:"status,notnull" json:"status"`
	IsDeleted    bool            `bun:"is_deleted,notnull,default:false" json:"-"`
	CreatedAt    time.Time       `bun:"created_at,notnull" json:"created_at"`
}

// IsFree reports whether booking skips the payment gateway.
func (e *Event) IsFree() bool {
	return e.Price.LessThanOrEqual(decimal.Zero)
}

// EventStaff lists collaborators allowed to check attendees in.
type EventStaff struct {
	bun.BaseModel `bun:"table:event_staff"`

	EventID string `bun:"event_id,pk"`
	UserID  string `bun:"user_id,pk"`
}
