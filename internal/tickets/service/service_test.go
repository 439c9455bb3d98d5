package tickets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"unievent-ticketing/internal/logger"
	"unievent-ticketing/internal/models"
	"unievent-ticketing/internal/notify"
	"unievent-ticketing/internal/payment"
	"unievent-ticketing/internal/tickets/db"
	"unievent-ticketing/internal/tickets/db/dbtest"
	"unievent-ticketing/internal/tickets/qr"
)

// Whole seconds keep SQLite's textual timestamps comparable.
var baseTime = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type RecordingNotifier struct {
	mu            sync.Mutex
	Notifications []notify.Notification
	Emails        []notify.Email
	Events        []notify.LifecycleEvent
}

func (r *RecordingNotifier) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notifications = append(r.Notifications, n)
}

func (r *RecordingNotifier) Email(_ context.Context, e notify.Email) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Emails = append(r.Emails, e)
}

func (r *RecordingNotifier) Publish(_ context.Context, e notify.LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, e)
}

func (r *RecordingNotifier) CountType(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.Notifications {
		if item.Type == kind {
			n++
		}
	}
	return n
}

func (r *RecordingNotifier) CountTemplate(template string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.Emails {
		if item.Template == template {
			n++
		}
	}
	return n
}

func (r *RecordingNotifier) CountEvent(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.Events {
		if item.Type == kind {
			n++
		}
	}
	return n
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreatePayment(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	args := m.Called(ctx, req)
	if res := args.Get(0); res != nil {
		return res.(*payment.CreateResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) QueryStatus(ctx context.Context, orderID string) (*payment.StatusResult, error) {
	args := m.Called(ctx, orderID)
	if res := args.Get(0); res != nil {
		return res.(*payment.StatusResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc      *TicketService
	store    *db.DB
	notifier *RecordingNotifier
	gateway  *MockGateway
	clock    *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    dbtest.New(t),
		notifier: &RecordingNotifier{},
		gateway:  &MockGateway{},
		clock:    &clock{now: baseTime},
	}
	f.svc = NewTicketService(f.store, f.gateway, f.notifier, qr.NewGenerator("test-secret"), logger.Discard(), Config{
		RedirectURL: "https://unievent.test/payments/return",
	}).WithClock(f.clock.Now)
	return f
}

func (f *fixture) sold(t *testing.T, eventID string) int {
	t.Helper()
	c, err := f.store.Queries().Capacity(context.Background(), eventID)
	require.NoError(t, err)
	return c.Sold
}

func (f *fixture) ticket(t *testing.T, id string) *models.Ticket {
	t.Helper()
	ticket, err := f.store.Queries().TicketByID(context.Background(), id)
	require.NoError(t, err)
	return ticket
}

func (f *fixture) holdings(t *testing.T, userID string) []string {
	t.Helper()
	ids, err := f.store.Queries().HoldingIDs(context.Background(), userID)
	require.NoError(t, err)
	return ids
}

// bookFree seeds nothing; the event must already exist and be free.
func (f *fixture) bookFree(t *testing.T, eventID, buyerID string) *models.Ticket {
	t.Helper()
	ticket, err := f.svc.BookTicket(context.Background(), eventID, buyerID)
	require.NoError(t, err)
	return ticket
}

func (f *fixture) expectCreate(orderID string) {
	f.gateway.On("CreatePayment", mock.Anything, mock.AnythingOfType("payment.CreateRequest")).
		Return(&payment.CreateResult{
			OrderID:     orderID,
			RedirectURL: "https://pay.test/" + orderID,
			Data:        map[string]string{"requestId": orderID},
		}, nil).Once()
}

func TestBookTicket_FreeEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "S1")
	dbtest.SeedEvent(t, f.store, "E1", "org", dbtest.WithCapacity(10))

	ticket, err := f.svc.BookTicket(ctx, "E1", "alice")
	require.NoError(t, err)

	assert.Equal(t, models.TicketBooked, ticket.Status)
	assert.Equal(t, models.PaymentPaid, ticket.PaymentStatus)
	assert.Regexp(t, `^TICKET-[A-Z0-9]{9}$`, ticket.BookingCode)
	assert.Equal(t, f.svc.QR.Payload(ticket.BookingCode), ticket.QRPayload)
	assert.Equal(t, 1, f.sold(t, "E1"))
	assert.Equal(t, []string{ticket.ID}, f.holdings(t, "alice"))

	assert.Equal(t, 1, f.notifier.CountType(notify.TypeTicketBooking))
	assert.Equal(t, 1, f.notifier.CountTemplate(notify.TemplateBookingConfirmation))
	f.gateway.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
}

func TestBookTicket_LastSlotScenario(t *testing.T) {
	f := newFixture(t)
	dbtest.SeedUser(t, f.store, "userA", "")
	dbtest.SeedUser(t, f.store, "userB", "")
	dbtest.SeedEvent(t, f.store, "E", "org", dbtest.WithCapacity(1))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		booked  []*models.Ticket
		refused []error
	)
	for _, buyer := range []string{"userA", "userB"} {
		wg.Add(1)
		go func(buyer string) {
			defer wg.Done()
			ticket, err := f.svc.BookTicket(context.Background(), "E", buyer)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				refused = append(refused, err)
				return
			}
			booked = append(booked, ticket)
		}(buyer)
	}
	wg.Wait()

	require.Len(t, booked, 1)
	require.Len(t, refused, 1)
	assert.Equal(t, models.TicketBooked, booked[0].Status)
	assert.Equal(t, models.PaymentPaid, booked[0].PaymentStatus)
	assert.ErrorIs(t, refused[0], ErrCapacityExceeded)
	assert.Equal(t, KindCapacityExceeded, KindOf(refused[0]))
	assert.Equal(t, 1, f.sold(t, "E"))
}

func TestBookTicket_ConcurrentCapacity(t *testing.T) {
	f := newFixture(t)
	const capacity, extra = 3, 4
	dbtest.SeedEvent(t, f.store, "E", "org", dbtest.WithCapacity(capacity))
	for i := 0; i < capacity+extra; i++ {
		dbtest.SeedUser(t, f.store, fmt.Sprintf("u%d", i), "")
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		full      int
	)
	for i := 0; i < capacity+extra; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.BookTicket(context.Background(), "E", fmt.Sprintf("u%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrCapacityExceeded):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, capacity, successes)
	assert.Equal(t, extra, full)
	assert.Equal(t, capacity, f.sold(t, "E"))
}

func TestBookTicket_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedEvent(t, f.store, "E1", "org")
	dbtest.SeedEvent(t, f.store, "closed", "org", dbtest.WithStatus(models.EventCancelled))

	_, err := f.svc.BookTicket(ctx, "missing", "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.BookTicket(ctx, "E1", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.BookTicket(ctx, "closed", "alice")
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Equal(t, 0, f.sold(t, "E1"))
}

func TestBookTicket_PaidEvent(t *testing.T) {
	f := newFixture(t)
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedEvent(t, f.store, "E1", "org", dbtest.WithPrice("150000"))
	f.expectCreate("ORDER-1")

	ticket, err := f.svc.BookTicket(context.Background(), "E1", "alice")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentPending, ticket.PaymentStatus)
	assert.Equal(t, "ORDER-1", ticket.PaymentOrderID)
	assert.Equal(t, "https://pay.test/ORDER-1", ticket.PaymentRedirectURL)

	stored := f.ticket(t, ticket.ID)
	assert.Equal(t, "ORDER-1", stored.PaymentOrderID)
	assert.Equal(t, "150000.00", stored.PaymentAmount.StringFixed(2))
	assert.Equal(t, 1, f.sold(t, "E1"))
	assert.Zero(t, f.notifier.CountType(notify.TypeTicketBooking))

	f.gateway.AssertCalled(t, "CreatePayment", mock.Anything, mock.MatchedBy(func(req payment.CreateRequest) bool {
		return req.Reference == ticket.ID && req.RedirectURL == "https://unievent.test/payments/return"
	}))
}

func TestBookTicket_GatewayFailureKeepsSlot(t *testing.T) {
	f := newFixture(t)
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedEvent(t, f.store, "E1", "org", dbtest.WithPrice("50"), dbtest.WithCapacity(5))
	f.gateway.On("CreatePayment", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused")).Once()

	ticket, err := f.svc.BookTicket(context.Background(), "E1", "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamFailure)
	require.NotNil(t, ticket)

	stored := f.ticket(t, ticket.ID)
	assert.Equal(t, models.TicketBooked, stored.Status)
	assert.Equal(t, models.PaymentPending, stored.PaymentStatus)
	assert.Empty(t, stored.PaymentOrderID)
	assert.Equal(t, 1, f.sold(t, "E1"))
}

func TestBookTicket_NoGateway(t *testing.T) {
	f := newFixture(t)
	f.svc.Gateway = nil
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedEvent(t, f.store, "E1", "org", dbtest.WithPrice("50"))

	ticket, err := f.svc.BookTicket(context.Background(), "E1", "alice")
	assert.ErrorIs(t, err, ErrUpstreamFailure)
	assert.NotNil(t, ticket)
}

func TestApplyPaymentResult_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedEvent(t, f.store, "E1", "org", dbtest.WithPrice("20"))
	f.expectCreate("ORDER-7")
	booked, err := f.svc.BookTicket(ctx, "E1", "alice")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		ticket, err := f.svc.ApplyPaymentResult(ctx, "ORDER-7", payment.ResultSuccess)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentPaid, ticket.PaymentStatus)
		assert.Equal(t, models.PaymentPaid, f.ticket(t, booked.ID).PaymentStatus)
	}

	assert.Equal(t, 1, f.notifier.CountType(notify.TypePaymentSuccess))
	assert.Equal(t, 1, f.notifier.CountTemplate(notify.TemplatePaymentSuccess))

	// A late failure cannot undo a settled payment.
	ticket, err := f.svc.ApplyPaymentResult(ctx, "ORDER-7", payment.ResultFailed)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, ticket.PaymentStatus)
}

func TestApplyPaymentResult_FailedThenPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedEvent(t, f.store, "E1", "org", dbtest.WithPrice("20"))
	f.expectCreate("ORDER-9")
	_, err := f.svc.BookTicket(ctx, "E1", "alice")
	require.NoError(t, err)

	ticket, err := f.svc.ApplyPaymentResult(ctx, "ORDER-9", payment.ResultCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, ticket.PaymentStatus)
	assert.Zero(t, f.notifier.CountType(notify.TypePaymentSuccess))

	ticket, err = f.svc.ApplyPaymentResult(ctx, "ORDER-9", payment.ResultSuccess)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, ticket.PaymentStatus)
	assert.Equal(t, 1, f.notifier.CountType(notify.TypePaymentSuccess))
}

func TestApplyPaymentResult_UnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ApplyPaymentResult(context.Background(), "nope", payment.ResultSuccess)
	assert.ErrorIs(t, err, ErrTicketNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestReconcilePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedEvent(t, f.store, "E1", "org", dbtest.WithPrice("20"))
	f.expectCreate("ORDER-3")
	booked, err := f.svc.BookTicket(ctx, "E1", "alice")
	require.NoError(t, err)

	f.gateway.On("QueryStatus", mock.Anything, "ORDER-3").
		Return(&payment.StatusResult{OrderID: "ORDER-3", ResultCode: payment.ResultPending}, nil).Once()
	ticket, err := f.svc.ReconcilePayment(ctx, "ORDER-3", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, ticket.PaymentStatus)

	f.gateway.On("QueryStatus", mock.Anything, "ORDER-3").
		Return(&payment.StatusResult{OrderID: "ORDER-3", ResultCode: payment.ResultSuccess}, nil).Once()
	ticket, err = f.svc.ReconcilePayment(ctx, "ORDER-3", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, ticket.PaymentStatus)
	assert.Equal(t, models.PaymentPaid, f.ticket(t, booked.ID).PaymentStatus)

	f.gateway.On("QueryStatus", mock.Anything, "ORDER-3").
		Return(nil, errors.New("timeout")).Once()
	_, err = f.svc.ReconcilePayment(ctx, "ORDER-3", "alice")
	assert.ErrorIs(t, err, ErrUpstreamFailure)

	_, err = f.svc.ReconcilePayment(ctx, "missing", "alice")
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestReconcilePayment_OtherUserNeverReachesGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedUser(t, f.store, "bob", "")
	dbtest.SeedEvent(t, f.store, "E1", "org", dbtest.WithPrice("20"))
	f.expectCreate("ORDER-4")
	booked, err := f.svc.BookTicket(ctx, "E1", "alice")
	require.NoError(t, err)

	_, err = f.svc.ReconcilePayment(ctx, "ORDER-4", "bob")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, KindForbidden, KindOf(err))

	f.gateway.AssertNotCalled(t, "QueryStatus", mock.Anything, mock.Anything)
	assert.Equal(t, models.PaymentPending, f.ticket(t, booked.ID).PaymentStatus)
	assert.Zero(t, f.notifier.CountType(notify.TypePaymentSuccess))
}

func TestApplyPaymentResult_LateSuccessAfterSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedUser(t, f.store, "bob", "")
	dbtest.SeedEvent(t, f.store, "E1", "org", dbtest.WithPrice("20"), dbtest.WithCapacity(1))
	f.expectCreate("ORDER-LATE")
	booked, err := f.svc.BookTicket(ctx, "E1", "alice")
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	released, err := f.svc.ReleaseStalePendingPayments(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, released)
	require.Zero(t, f.sold(t, "E1"))

	ticket, err := f.svc.ApplyPaymentResult(ctx, "ORDER-LATE", payment.ResultSuccess)
	require.NoError(t, err)
	assert.Equal(t, models.TicketCancelled, ticket.Status)
	assert.Equal(t, models.PaymentPaid, ticket.PaymentStatus)

	stored := f.ticket(t, booked.ID)
	assert.Equal(t, models.TicketCancelled, stored.Status)
	assert.Equal(t, models.PaymentPaid, stored.PaymentStatus)
	assert.Zero(t, f.sold(t, "E1"))

	assert.Zero(t, f.notifier.CountType(notify.TypePaymentSuccess))
	assert.Zero(t, f.notifier.CountTemplate(notify.TemplatePaymentSuccess))
	assert.Equal(t, 1, f.notifier.CountEvent(notify.LifecycleRefundRequired))

	// Repeating the callback does not ask for a second refund.
	_, err = f.svc.ApplyPaymentResult(ctx, "ORDER-LATE", payment.ResultSuccess)
	require.NoError(t, err)
	assert.Equal(t, 1, f.notifier.CountEvent(notify.LifecycleRefundRequired))

	// The released slot is still available to someone else.
	f.expectCreate("ORDER-NEXT")
	_, err = f.svc.BookTicket(ctx, "E1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, f.sold(t, "E1"))
}

func TestCancelTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedUser(t, f.store, "bob", "")
	dbtest.SeedEvent(t, f.store, "E1", "org", dbtest.WithCapacity(2))
	ticket := f.bookFree(t, "E1", "alice")
	f.bookFree(t, "E1", "bob")
	require.Equal(t, 2, f.sold(t, "E1"))

	_, err := f.svc.CancelTicket(ctx, ticket.ID, "bob", "changed my mind")
	assert.ErrorIs(t, err, ErrForbidden)

	cancelled, err := f.svc.CancelTicket(ctx, ticket.ID, "alice", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, models.TicketCancelled, cancelled.Status)
	assert.Equal(t, "changed my mind", f.ticket(t, ticket.ID).CancelReason)
	assert.Equal(t, 1, f.sold(t, "E1"))

	_, err = f.svc.CancelTicket(ctx, ticket.ID, "alice", "again")
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, f.sold(t, "E1"))

	_, err = f.svc.CancelTicket(ctx, "missing", "alice", "")
	assert.ErrorIs(t, err, ErrTicketNotFound)

	assert.Equal(t, 1, f.notifier.CountType(notify.TypeTicketCancel))
}

func TestCancelTicket_ClosesPendingTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedUser(t, f.store, "bob", "")
	dbtest.SeedEvent(t, f.store, "E1", "org")
	ticket := f.bookFree(t, "E1", "alice")

	_, err := f.svc.ProposeTransfer(ctx, ticket.ID, "alice", "bob")
	require.NoError(t, err)

	_, err = f.svc.CancelTicket(ctx, ticket.ID, "alice", "")
	require.NoError(t, err)

	incoming, err := f.svc.ListIncomingTransfers(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, incoming)

	_, err = f.svc.ConfirmTransfer(ctx, ticket.ID, "bob")
	assert.ErrorIs(t, err, ErrTransferNotFound)
	assert.Equal(t, 0, f.sold(t, "E1"))
}

func TestTransfer_ConfirmScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, u := range []string{"userA", "userB", "userC"} {
		dbtest.SeedUser(t, f.store, u, "")
	}
	dbtest.SeedEvent(t, f.store, "E1", "org")
	ticket := f.bookFree(t, "E1", "userA")

	request, err := f.svc.ProposeTransfer(ctx, ticket.ID, "userA", "userB")
	require.NoError(t, err)
	assert.Equal(t, models.TransferPending, request.Status)
	assert.Equal(t, models.TicketTransferring, f.ticket(t, ticket.ID).Status)
	assert.Equal(t, 1, f.notifier.CountType(notify.TypeTicketTransfer))

	incoming, err := f.svc.ListIncomingTransfers(ctx, "userB")
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, request.ID, incoming[0].ID)

	moved, err := f.svc.ConfirmTransfer(ctx, ticket.ID, "userB")
	require.NoError(t, err)
	assert.Equal(t, "userB", moved.BuyerID)
	assert.Equal(t, models.TicketTransferred, moved.Status)

	stored := f.ticket(t, ticket.ID)
	assert.Equal(t, "userB", stored.BuyerID)
	assert.Equal(t, models.TicketTransferred, stored.Status)
	assert.Empty(t, f.holdings(t, "userA"))
	assert.Equal(t, []string{ticket.ID}, f.holdings(t, "userB"))
	_, err = f.store.Queries().PendingTransfer(ctx, ticket.ID, "")
	assert.ErrorIs(t, err, db.ErrNotFound)

	_, err = f.svc.ProposeTransfer(ctx, ticket.ID, "userA", "userC")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.ProposeTransfer(ctx, ticket.ID, "userB", "userC")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestTransfer_RejectThenRepropose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedUser(t, f.store, "bob", "")
	dbtest.SeedEvent(t, f.store, "E1", "org")
	ticket := f.bookFree(t, "E1", "alice")

	_, err := f.svc.ProposeTransfer(ctx, ticket.ID, "alice", "bob")
	require.NoError(t, err)

	_, err = f.svc.RejectTransfer(ctx, ticket.ID, "alice")
	assert.ErrorIs(t, err, ErrForbidden)

	rejected, err := f.svc.RejectTransfer(ctx, ticket.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.TransferCancelled, rejected.Status)
	assert.Equal(t, models.TicketBooked, f.ticket(t, ticket.ID).Status)
	assert.Equal(t, []string{ticket.ID}, f.holdings(t, "alice"))

	again, err := f.svc.ProposeTransfer(ctx, ticket.ID, "alice", "bob")
	require.NoError(t, err)
	assert.NotEqual(t, rejected.ID, again.ID)
}

func TestTransfer_OwnerWithdraws(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedUser(t, f.store, "bob", "")
	dbtest.SeedEvent(t, f.store, "E1", "org")
	ticket := f.bookFree(t, "E1", "alice")

	_, err := f.svc.ProposeTransfer(ctx, ticket.ID, "alice", "bob")
	require.NoError(t, err)

	_, err = f.svc.CancelTransfer(ctx, ticket.ID, "bob")
	assert.ErrorIs(t, err, ErrForbidden)

	withdrawn, err := f.svc.CancelTransfer(ctx, ticket.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.TransferCancelled, withdrawn.Status)
	assert.Equal(t, models.TicketBooked, f.ticket(t, ticket.ID).Status)

	_, err = f.svc.CancelTransfer(ctx, ticket.ID, "alice")
	assert.ErrorIs(t, err, ErrTransferNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = f.svc.RejectTransfer(ctx, ticket.ID, "bob")
	assert.ErrorIs(t, err, ErrTransferNotFound)
}

func TestTransfer_ConcurrentProposals(t *testing.T) {
	f := newFixture(t)
	for _, u := range []string{"alice", "bob", "carol"} {
		dbtest.SeedUser(t, f.store, u, "")
	}
	dbtest.SeedEvent(t, f.store, "E1", "org")
	ticket := f.bookFree(t, "E1", "alice")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, to := range []string{"bob", "carol"} {
		wg.Add(1)
		go func(to string) {
			defer wg.Done()
			_, err := f.svc.ProposeTransfer(context.Background(), ticket.ID, "alice", to)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(to)
	}
	wg.Wait()

	var ok, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConflict):
			refused++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, refused)
}

func TestTransfer_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedUser(t, f.store, "bob", "")
	dbtest.SeedUser(t, f.store, "carol", "")
	dbtest.SeedEvent(t, f.store, "E1", "org")
	ticket := f.bookFree(t, "E1", "alice")

	_, err := f.svc.ProposeTransfer(ctx, ticket.ID, "alice", "alice")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.ProposeTransfer(ctx, ticket.ID, "alice", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, models.TicketBooked, f.ticket(t, ticket.ID).Status)

	_, err = f.svc.ProposeTransfer(ctx, "missing", "alice", "bob")
	assert.ErrorIs(t, err, ErrTicketNotFound)

	_, err = f.svc.ConfirmTransfer(ctx, ticket.ID, "bob")
	assert.ErrorIs(t, err, ErrTransferNotFound)
	assert.NotErrorIs(t, err, ErrTicketNotFound)

	_, err = f.svc.ProposeTransfer(ctx, ticket.ID, "alice", "bob")
	require.NoError(t, err)

	_, err = f.svc.ConfirmTransfer(ctx, ticket.ID, "carol")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, "alice", f.ticket(t, ticket.ID).BuyerID)

	_, err = f.svc.ProposeTransfer(ctx, ticket.ID, "alice", "carol")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCheckInByBookingCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedUser(t, f.store, "bob", "")
	dbtest.SeedEvent(t, f.store, "paid", "org", dbtest.WithPrice("10"))
	dbtest.SeedEvent(t, f.store, "free", "org")
	require.NoError(t, f.store.Queries().AddEventStaff(ctx, "free", "helper"))

	f.expectCreate("ORDER-1")
	pending, err := f.svc.BookTicket(ctx, "paid", "alice")
	require.NoError(t, err)
	_, err = f.svc.CheckInByBookingCode(ctx, pending.BookingCode, "org")
	assert.ErrorIs(t, err, ErrNotPaid)

	ticket := f.bookFree(t, "free", "bob")

	_, err = f.svc.CheckInByBookingCode(ctx, ticket.BookingCode, "stranger")
	assert.ErrorIs(t, err, ErrForbidden)

	f.clock.Advance(45 * time.Minute)
	checked, err := f.svc.CheckInByBookingCode(ctx, ticket.BookingCode, "helper")
	require.NoError(t, err)
	assert.Equal(t, models.TicketCheckedIn, checked.Status)

	stored := f.ticket(t, ticket.ID)
	require.NotNil(t, stored.CheckedInAt)
	assert.True(t, stored.CheckedInAt.Equal(baseTime.Add(45*time.Minute)))
	assert.Equal(t, "helper", stored.CheckedInBy)

	_, err = f.svc.CheckInByBookingCode(ctx, ticket.BookingCode, "helper")
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)
	assert.Equal(t, 1, f.notifier.CountType(notify.TypeCheckIn))

	_, err = f.svc.CheckInByBookingCode(ctx, "TICKET-NOPE", "org")
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestCheckIn_TicketMidTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedUser(t, f.store, "bob", "")
	dbtest.SeedEvent(t, f.store, "E1", "org")
	ticket := f.bookFree(t, "E1", "alice")
	_, err := f.svc.ProposeTransfer(ctx, ticket.ID, "alice", "bob")
	require.NoError(t, err)

	_, err = f.svc.CheckInByBookingCode(ctx, ticket.BookingCode, "org")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.ConfirmTransfer(ctx, ticket.ID, "bob")
	require.NoError(t, err)

	checked, err := f.svc.CheckInByBookingCode(ctx, ticket.BookingCode, "org")
	require.NoError(t, err)
	assert.Equal(t, "bob", checked.BuyerID)
}

func TestCheckInByQR(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedEvent(t, f.store, "E1", "org")
	ticket := f.bookFree(t, "E1", "alice")

	_, err := f.svc.CheckInByQR(ctx, ticket.QRPayload+"x", "org")
	assert.ErrorIs(t, err, ErrTicketNotFound)

	forged := qr.NewGenerator("other-secret").Payload(ticket.BookingCode)
	_, err = f.svc.CheckInByQR(ctx, forged, "org")
	assert.ErrorIs(t, err, ErrTicketNotFound)

	checked, err := f.svc.CheckInByQR(ctx, ticket.QRPayload, "org")
	require.NoError(t, err)
	assert.Equal(t, models.TicketCheckedIn, checked.Status)
}

func TestCheckInByStudentID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "S100")
	dbtest.SeedEvent(t, f.store, "soon", "org", dbtest.StartingAt(baseTime.Add(30*time.Minute)))
	dbtest.SeedEvent(t, f.store, "later", "org", dbtest.StartingAt(baseTime.Add(90*time.Minute)))
	dbtest.SeedEvent(t, f.store, "tomorrow", "org", dbtest.StartingAt(baseTime.Add(26*time.Hour)))
	dbtest.SeedEvent(t, f.store, "elsewhere", "other-org", dbtest.StartingAt(baseTime.Add(5*time.Minute)))

	soon := f.bookFree(t, "soon", "alice")
	f.bookFree(t, "later", "alice")
	f.bookFree(t, "tomorrow", "alice")
	f.bookFree(t, "elsewhere", "alice")

	checked, err := f.svc.CheckInByStudentID(ctx, "S100", "org")
	require.NoError(t, err)
	assert.Equal(t, soon.ID, checked.ID)

	f.clock.Advance(80 * time.Minute)
	checked, err = f.svc.CheckInByStudentID(ctx, "S100", "org")
	require.NoError(t, err)
	assert.Equal(t, "later", checked.EventID)

	_, err = f.svc.CheckInByStudentID(ctx, "S100", "org")
	assert.ErrorIs(t, err, ErrNoEligibleTicket)

	_, err = f.svc.CheckInByStudentID(ctx, "S999", "org")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClosestTicket(t *testing.T) {
	now := baseTime
	at := func(id string, offset time.Duration) models.Ticket {
		return models.Ticket{ID: id, Event: &models.Event{StartsAt: now.Add(offset)}}
	}

	tests := []struct {
		name       string
		candidates []models.Ticket
		want       string
	}{
		{"empty", nil, ""},
		{"outside window", []models.Ticket{at("a", 3 * time.Hour), at("b", -150 * time.Minute)}, ""},
		{"nearest wins", []models.Ticket{at("a", 90 * time.Minute), at("b", -20 * time.Minute)}, "b"},
		{"window edge", []models.Ticket{at("a", 2 * time.Hour)}, "a"},
		{"tie goes to earlier event", []models.Ticket{at("a", 30 * time.Minute), at("b", -30 * time.Minute)}, "b"},
		{"tie on same start goes to lower id", []models.Ticket{at("z", time.Hour), at("m", time.Hour)}, "m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := closestTicket(tt.candidates, now, 2*time.Hour)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestReleaseStalePendingPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedUser(t, f.store, "bob", "")
	dbtest.SeedEvent(t, f.store, "E1", "org", dbtest.WithPrice("10"), dbtest.WithCapacity(5))

	f.expectCreate("ORDER-OLD")
	stale, err := f.svc.BookTicket(ctx, "E1", "alice")
	require.NoError(t, err)
	_, err = f.svc.ProposeTransfer(ctx, stale.ID, "alice", "bob")
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)
	f.expectCreate("ORDER-PAID")
	paid, err := f.svc.BookTicket(ctx, "E1", "bob")
	require.NoError(t, err)
	_, err = f.svc.ApplyPaymentResult(ctx, "ORDER-PAID", payment.ResultSuccess)
	require.NoError(t, err)

	f.expectCreate("ORDER-FRESH")
	fresh, err := f.svc.BookTicket(ctx, "E1", "bob")
	require.NoError(t, err)
	require.Equal(t, 3, f.sold(t, "E1"))

	f.clock.Advance(15 * time.Minute)
	released, err := f.svc.ReleaseStalePendingPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	swept := f.ticket(t, stale.ID)
	assert.Equal(t, models.TicketCancelled, swept.Status)
	assert.Equal(t, models.PaymentFailed, swept.PaymentStatus)
	assert.Equal(t, ReasonPaymentTimeout, swept.CancelReason)
	_, err = f.store.Queries().PendingTransfer(ctx, stale.ID, "")
	assert.ErrorIs(t, err, db.ErrNotFound)

	assert.Equal(t, models.TicketBooked, f.ticket(t, paid.ID).Status)
	assert.Equal(t, models.TicketBooked, f.ticket(t, fresh.ID).Status)
	assert.Equal(t, 2, f.sold(t, "E1"))

	released, err = f.svc.ReleaseStalePendingPayments(ctx)
	require.NoError(t, err)
	assert.Zero(t, released)
}

func TestSendEventReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedUser(t, f.store, "bob", "")
	dbtest.SeedEvent(t, f.store, "soon", "org", dbtest.StartingAt(baseTime.Add(5*time.Hour)))
	dbtest.SeedEvent(t, f.store, "next-week", "org", dbtest.StartingAt(baseTime.Add(7*24*time.Hour)))

	f.bookFree(t, "soon", "alice")
	cancelled := f.bookFree(t, "soon", "bob")
	f.bookFree(t, "next-week", "bob")
	_, err := f.svc.CancelTicket(ctx, cancelled.ID, "bob", "")
	require.NoError(t, err)

	sent, err := f.svc.SendEventReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, f.notifier.CountTemplate(notify.TemplateEventReminder))
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.store, "alice", "")
	dbtest.SeedUser(t, f.store, "bob", "")
	dbtest.SeedEvent(t, f.store, "E1", "org", dbtest.WithCapacity(4))
	ticket := f.bookFree(t, "E1", "alice")

	got, err := f.svc.GetTicket(ctx, ticket.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, ticket.BookingCode, got.BookingCode)

	_, err = f.svc.GetTicket(ctx, ticket.ID, "org")
	require.NoError(t, err)

	_, err = f.svc.GetTicket(ctx, ticket.ID, "bob")
	assert.ErrorIs(t, err, ErrForbidden)

	mine, err := f.svc.ListMyTickets(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.NotNil(t, mine[0].Event)
	assert.Equal(t, "E1", mine[0].Event.ID)

	png, err := f.svc.TicketQRCode(ctx, ticket.ID, "alice", 128)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])

	_, err = f.svc.TicketQRCode(ctx, ticket.ID, "bob", 128)
	assert.ErrorIs(t, err, ErrForbidden)

	capacity, err := f.svc.EventCapacity(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, 1, capacity.Sold)
	assert.Equal(t, 3, capacity.Remaining())

	_, err = f.svc.EventCapacity(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.svc.AuthorizeEventStaff(ctx, "E1", "org"))
	assert.ErrorIs(t, f.svc.AuthorizeEventStaff(ctx, "E1", "alice"), ErrForbidden)
	assert.ErrorIs(t, f.svc.AuthorizeEventStaff(ctx, "missing", "org"), ErrNotFound)
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", fail("op", ErrNotPaid, "", nil))

	assert.ErrorIs(t, err, ErrNotPaid)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.NotErrorIs(t, err, ErrAlreadyCheckedIn)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindInvalidState, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Contains(t, err.Error(), "op: ticket has not been paid")

	assert.ErrorIs(t, fromStore("op", db.ErrConflict, nil), ErrConflict)
	assert.ErrorIs(t, fromStore("op", fmt.Errorf("x: %w", db.ErrNotFound), ErrTicketNotFound), ErrTicketNotFound)
	assert.ErrorIs(t, fromStore("op", models.ErrInvalidTransition, nil), ErrInvalidState)
}
