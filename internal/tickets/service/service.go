package tickets

import (
	"context"
	"fmt"
	"time"

	"unievent-ticketing/internal/logger"
	"unievent-ticketing/internal/models"
	"unievent-ticketing/internal/notify"
	"unievent-ticketing/internal/payment"
	"unievent-ticketing/internal/tickets/db"
	"unievent-ticketing/internal/tickets/qr"
)

// TicketDBLayer is the store the engine runs its transactions against.
type TicketDBLayer interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, q *db.Queries, after func(db.AfterCommit)) error) error
	Queries() *db.Queries
}

// PaymentGateway creates and queries payments on an external provider.
type PaymentGateway interface {
	CreatePayment(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error)
	QueryStatus(ctx context.Context, orderID string) (*payment.StatusResult, error)
}

// Notifier delivers side effects after commit. Implementations must not
// block and must swallow their own failures.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification)
	Email(ctx context.Context, e notify.Email)
	Publish(ctx context.Context, e notify.LifecycleEvent)
}

// Locker serialises operations on one ticket id.
type Locker interface {
	Lock(ctx context.Context, ticketID string) (func(), error)
}

type Config struct {
	CodePrefix        string
	PaymentTimeout    time.Duration
	RedirectURL       string
	CheckInWindow     time.Duration
	PendingPaymentTTL time.Duration
	SweepBatchSize    int
	ReminderLead      time.Duration
}

func (c *Config) setDefaults() {
	if c.CodePrefix == "" {
		c.CodePrefix = "TICKET-"
	}
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = 10 * time.Second
	}
	if c.CheckInWindow <= 0 {
		c.CheckInWindow = 2 * time.Hour
	}
	if c.PendingPaymentTTL <= 0 {
		c.PendingPaymentTTL = 30 * time.Minute
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = 100
	}
	if c.ReminderLead <= 0 {
		c.ReminderLead = 24 * time.Hour
	}
}

type TicketService struct {
	DB       TicketDBLayer
	Gateway  PaymentGateway
	Notifier Notifier
	Locker   Locker
	QR       *qr.Generator
	Logger   *logger.Logger

	cfg Config
	now func() time.Time
}

func NewTicketService(
	store TicketDBLayer,
	gateway PaymentGateway,
	notifier Notifier,
	qrGen *qr.Generator,
	log *logger.Logger,
	cfg Config,
) *TicketService {
	cfg.setDefaults()
	return &TicketService{
		DB:       store,
		Gateway:  gateway,
		Notifier: notifier,
		QR:       qrGen,
		Logger:   log,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the wall clock. Used by tests and the sweeper.
func (s *TicketService) WithClock(now func() time.Time) *TicketService {
	s.now = now
	return s
}

func (s *TicketService) WithLocker(l Locker) *TicketService {
	s.Locker = l
	return s
}

// lock takes the per-ticket lock when one is configured.
func (s *TicketService) lock(ctx context.Context, op, ticketID string) (func(), error) {
	if s.Locker == nil {
		return func() {}, nil
	}
	release, err := s.Locker.Lock(ctx, ticketID)
	if err != nil {
		s.Logger.Warn("REDIS", fmt.Sprintf("%s: %v", op, err))
		return nil, fromStore(op, err, nil)
	}
	return release, nil
}

func (s *TicketService) lifecycle(ctx context.Context, kind string, t *models.Ticket) {
	s.Notifier.Publish(ctx, notify.LifecycleEvent{
		Type:          kind,
		TicketID:      t.ID,
		EventID:       t.EventID,
		UserID:        t.BuyerID,
		Status:        string(t.Status),
		PaymentStatus: string(t.PaymentStatus),
		At:            t.UpdatedAt,
	})
}
