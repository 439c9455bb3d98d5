package db

import (
	"context"
	"fmt"
	"time"

	"unievent-ticketing/internal/models"
)

// Capacity is a snapshot of one event's ledger. Max is nil when the event
// has no attendee limit.
type Capacity struct {
	EventID string `bun:"id" json:"event_id"`
	Max     *int   `bun:"max_attendees" json:"max_attendees"`
	Sold    int    `bun:"tickets_sold" json:"tickets_sold"`
}

// Remaining returns -1 for unlimited events.
func (c Capacity) Remaining() int {
	if c.Max == nil {
		return -1
	}
	if left := *c.Max - c.Sold; left > 0 {
		return left
	}
	return 0
}

func (q *Queries) InsertEvent(ctx context.Context, event *models.Event) error {
	_, err := q.db.NewInsert().Model(event).Exec(ctx)
	return translateDBErr(err)
}

func (q *Queries) EventByID(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := q.db.NewSelect().
		Model(&event).
		Where("id = ?", id).
		Where("is_deleted = ?", false).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, translateDBErr(err)
	}
	return &event, nil
}

// ReserveSlot increments the sold count only while it stays within the
// event's maximum.
func (q *Queries) ReserveSlot(ctx context.Context, eventID string) error {
	res, err := q.db.NewUpdate().
		Model((*models.Event)(nil)).
		Set("tickets_sold = tickets_sold + 1").
		Where("id = ?", eventID).
		Where("is_deleted = ?", false).
		Where("(max_attendees IS NULL OR tickets_sold < max_attendees)").
		Exec(ctx)
	if err != nil {
		return translateDBErr(err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	exists, err := q.db.NewSelect().
		Model((*models.Event)(nil)).
		Where("id = ?", eventID).
		Where("is_deleted = ?", false).
		Exists(ctx)
	if err != nil {
		return translateDBErr(err)
	}
	if !exists {
		return fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	return fmt.Errorf("event %s: %w", eventID, ErrCapacityExceeded)
}

// ReleaseSlot decrements the sold count, never below zero.
func (q *Queries) ReleaseSlot(ctx context.Context, eventID string) error {
	_, err := q.db.NewUpdate().
		Model((*models.Event)(nil)).
		Set("tickets_sold = tickets_sold - 1").
		Where("id = ?", eventID).
		Where("tickets_sold > 0").
		Exec(ctx)
	return translateDBErr(err)
}

func (q *Queries) Capacity(ctx context.Context, eventID string) (Capacity, error) {
	var c Capacity
	err := q.db.NewSelect().
		Model((*models.Event)(nil)).
		Column("id", "max_attendees", "tickets_sold").
		Where("id = ?", eventID).
		Where("is_deleted = ?", false).
		Limit(1).
		Scan(ctx, &c)
	if err != nil {
		return Capacity{}, translateDBErr(err)
	}
	return c, nil
}

// IsEventStaff reports whether userID organizes the event or is listed as a
// collaborator on it.
func (q *Queries) IsEventStaff(ctx context.Context, eventID, userID string) (bool, error) {
	organizer, err := q.db.NewSelect().
		Model((*models.Event)(nil)).
		Where("id = ?", eventID).
		Where("organizer_id = ?", userID).
		Exists(ctx)
	if err != nil {
		return false, translateDBErr(err)
	}
	if organizer {
		return true, nil
	}

	collaborator, err := q.db.NewSelect().
		Model((*models.EventStaff)(nil)).
		Where("event_id = ?", eventID).
		Where("user_id = ?", userID).
		Exists(ctx)
	return collaborator, translateDBErr(err)
}

func (q *Queries) AddEventStaff(ctx context.Context, eventID, userID string) error {
	_, err := q.db.NewInsert().
		Model(&models.EventStaff{EventID: eventID, UserID: userID}).
		Exec(ctx)
	return translateDBErr(err)
}

// EventsStartingBetween lists active events with from <= starts_at < to.
func (q *Queries) EventsStartingBetween(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	var events []models.Event
	err := q.db.NewSelect().
		Model(&events).
		Where("status = ?", models.EventActive).
		Where("is_deleted = ?", false).
		Where("starts_at >= ?", from).
		Where("starts_at < ?", to).
		OrderExpr("starts_at ASC").
		Scan(ctx)
	return events, translateDBErr(err)
}

