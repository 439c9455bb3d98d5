package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unievent-ticketing/internal/models"
	"unievent-ticketing/internal/tickets/db"
	"unievent-ticketing/internal/tickets/db/dbtest"
)

var day1 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func seedTicket(t *testing.T, store *db.DB, id string, status models.TicketStatus, pay models.PaymentStatus, amount string, at time.Time) {
	t.Helper()
	ticket := &models.Ticket{
		ID:            id,
		EventID:       "E1",
		BuyerID:       "buyer-" + id,
		BookingCode:   "TICKET-" + id,
		QRPayload:     "qr-" + id,
		Status:        status,
		PaymentStatus: pay,
		PaymentAmount: decimal.RequireFromString(amount),
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	if status == models.TicketCheckedIn {
		checked := at.Add(time.Hour)
		ticket.CheckedInAt = &checked
	}
	require.NoError(t, store.Queries().InsertTicket(context.Background(), ticket))
}

func setup(t *testing.T) *Service {
	store := dbtest.New(t)
	dbtest.SeedEvent(t, store, "E1", "org", dbtest.WithCapacity(10), dbtest.WithPrice("50"))

	seedTicket(t, store, "t1", models.TicketCheckedIn, models.PaymentPaid, "50", day1)
	seedTicket(t, store, "t2", models.TicketBooked, models.PaymentPaid, "50", day1.Add(time.Hour))
	seedTicket(t, store, "t3", models.TicketBooked, models.PaymentPending, "50", day1.Add(24*time.Hour))
	seedTicket(t, store, "t4", models.TicketCancelled, models.PaymentPaid, "50", day1.Add(25*time.Hour))
	seedTicket(t, store, "t5", models.TicketCancelled, models.PaymentFailed, "50", day1.Add(26*time.Hour))

	return NewService(store.Bun)
}

func TestGetEventStats(t *testing.T) {
	svc := setup(t)

	stats, err := svc.GetEventStats(context.Background(), "E1")
	require.NoError(t, err)

	require.NotNil(t, stats.MaxAttendees)
	assert.Equal(t, 10, *stats.MaxAttendees)
	assert.Equal(t, 2, stats.ByStatus[models.TicketBooked])
	assert.Equal(t, 2, stats.ByStatus[models.TicketCancelled])
	assert.Equal(t, 1, stats.ByStatus[models.TicketCheckedIn])
	assert.Equal(t, 3, stats.ByPaymentStatus[models.PaymentPaid])
	assert.True(t, decimal.NewFromInt(150).Equal(stats.Revenue), stats.Revenue.String())
	assert.InDelta(t, 1.0/3.0, stats.CheckInRate, 1e-9)

	require.Len(t, stats.DailySales, 2)
	assert.Equal(t, "2026-03-10", stats.DailySales[0].Date)
	assert.Equal(t, 2, stats.DailySales[0].Booked)
	assert.True(t, decimal.NewFromInt(100).Equal(stats.DailySales[0].Revenue))
	assert.Equal(t, 3, stats.DailySales[1].Booked)
	assert.True(t, decimal.NewFromInt(50).Equal(stats.DailySales[1].Revenue))
}

func TestGetEventStats_UnknownEvent(t *testing.T) {
	svc := setup(t)
	_, err := svc.GetEventStats(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestListAttendees(t *testing.T) {
	svc := setup(t)
	ctx := context.Background()

	paid, err := svc.ListAttendees(ctx, "E1", AttendeeOptions{PaymentStatus: "paid", SortDesc: true})
	require.NoError(t, err)
	require.Len(t, paid, 3)
	assert.Equal(t, "t4", paid[0].ID)

	page, err := svc.ListAttendees(ctx, "E1", AttendeeOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "t3", page[0].ID)

	booked, err := svc.ListAttendees(ctx, "E1", AttendeeOptions{Status: "booked"})
	require.NoError(t, err)
	assert.Len(t, booked, 2)
}
