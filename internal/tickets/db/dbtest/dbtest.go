// Package dbtest opens throwaway SQLite-backed stores for tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"unievent-ticketing/internal/models"
	"unievent-ticketing/internal/tickets/db"
)

// New returns an in-memory store with the schema applied. A single
// connection makes concurrent transactions queue behind each other.
func New(t testing.TB) *db.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = bunDB.Close() })

	if err := db.CreateSchema(context.Background(), bunDB); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	return db.New(bunDB, 5)
}

// SeedUser inserts a student with the given id.
func SeedUser(t testing.TB, store *db.DB, id, studentID string) *models.User {
	t.Helper()
	user := &models.User{
		ID:        id,
		Email:     id + "@uni.test",
		FullName:  "User " + id,
		StudentID: studentID,
		Role:      models.RoleStudent,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Queries().InsertUser(context.Background(), user); err != nil {
		t.Fatalf("Failed to seed user %s: %v", id, err)
	}
	return user
}

// EventOption adjusts a seeded event.
type EventOption func(*models.Event)

func WithCapacity(n int) EventOption {
	return func(e *models.Event) { e.MaxAttendees = &n }
}

func WithPrice(p string) EventOption {
	return func(e *models.Event) { e.Price = decimal.RequireFromString(p) }
}

func StartingAt(at time.Time) EventOption {
	return func(e *models.Event) { e.StartsAt = at }
}

func WithStatus(s models.EventStatus) EventOption {
	return func(e *models.Event) { e.Status = s }
}

// SeedEvent inserts a free, unlimited, active event organized by organizerID.
func SeedEvent(t testing.TB, store *db.DB, id, organizerID string, opts ...EventOption) *models.Event {
	t.Helper()
	event := &models.Event{
		ID:          id,
		Name:        "Event " + id,
		OrganizerID: organizerID,
		Price:       decimal.Zero,
		StartsAt:    time.Now().UTC().Add(time.Hour),
		Status:      models.EventActive,
		CreatedAt:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(event)
	}
	if err := store.Queries().InsertEvent(context.Background(), event); err != nil {
		t.Fatalf("Failed to seed event %s: %v", id, err)
	}
	return event
}
