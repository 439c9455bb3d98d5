package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"unievent-ticketing/internal/metrics"
	"unievent-ticketing/internal/models"
	"unievent-ticketing/internal/notify"
	"unievent-ticketing/internal/tickets/db"
)

// ReasonPaymentTimeout is recorded on tickets the sweeper cancels.
const ReasonPaymentTimeout = "payment timeout"

// ReleaseStalePendingPayments cancels live tickets whose payment has stayed
// pending longer than the pending-payment TTL, marks the payment failed and
// returns the slot to the event. It processes at most one batch and reports
// how many tickets it released.
func (s *TicketService) ReleaseStalePendingPayments(ctx context.Context) (int, error) {
	const op = "Sweeper.ReleaseStalePendingPayments"

	cutoff := s.now().Add(-s.cfg.PendingPaymentTTL)
	stale, err := s.DB.Queries().StalePendingTickets(ctx, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, fromStore(op, err, nil)
	}

	released := 0
	for _, t := range stale {
		ok, err := s.releaseStale(ctx, t.ID, cutoff)
		if err != nil {
			s.Logger.Error("SWEEPER", fmt.Sprintf("release ticket %s: %v", t.ID, err))
			continue
		}
		if ok {
			released++
		}
	}

	if released > 0 {
		metrics.SweptTickets.Add(float64(released))
		s.Logger.LogProcess("SWEEPER", fmt.Sprintf("released %d stale pending tickets", released))
	}
	return released, nil
}

// releaseStale re-checks one ticket under its lock. A ticket paid or
// cancelled since it was listed is left alone.
func (s *TicketService) releaseStale(ctx context.Context, ticketID string, cutoff time.Time) (bool, error) {
	const op = "Sweeper.releaseStale"

	unlock, err := s.lock(ctx, op, ticketID)
	if err != nil {
		return false, err
	}
	defer unlock()

	released := false
	err = s.DB.RunInTx(ctx, func(ctx context.Context, q *db.Queries, after func(db.AfterCommit)) error {
		released = false
		ticket, err := q.TicketByID(ctx, ticketID)
		if err != nil {
			return err
		}
		if ticket.PaymentStatus != models.PaymentPending || !ticket.CreatedAt.Before(cutoff) {
			return nil
		}
		if ticket.Status != models.TicketBooked && ticket.Status != models.TicketTransferring {
			return nil
		}

		now := s.now()
		if err := s.cancelInTx(ctx, q, ticket, ReasonPaymentTimeout, now); err != nil {
			return err
		}
		changed, err := q.SetTicketPaymentStatus(ctx, ticket.ID, models.PaymentFailed, now)
		if err != nil {
			return err
		}
		if !changed {
			return fmt.Errorf("ticket %s payment moved during sweep: %w", ticket.ID, db.ErrRetryable)
		}
		ticket.PaymentStatus = models.PaymentFailed

		released = true
		swept := *ticket
		after(func(ctx context.Context) {
			s.lifecycle(ctx, notify.LifecycleCancelled, &swept)
			s.Notifier.Notify(ctx, notify.Notification{
				UserIDs: []string{swept.BuyerID},
				Type:    notify.TypeTicketCancel,
				Title:   "Ticket released",
				Body:    fmt.Sprintf("Ticket %s was cancelled because payment was not completed in time.", swept.BookingCode),
				Data:    map[string]string{"ticket_id": swept.ID, "reason": ReasonPaymentTimeout},
			})
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return false, nil
		}
		return false, fromStore(op, err, ErrTicketNotFound)
	}
	return released, nil
}

// RunSweeper calls ReleaseStalePendingPayments every interval until ctx is
// done.
func (s *TicketService) RunSweeper(ctx context.Context, interval time.Duration) error {
	s.Logger.LogProcess("SWEEPER", fmt.Sprintf("started, interval %s, ttl %s", interval, s.cfg.PendingPaymentTTL))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Logger.LogProcess("SWEEPER", "stopped")
			return nil
		case <-ticker.C:
			if _, err := s.ReleaseStalePendingPayments(ctx); err != nil {
				s.Logger.Error("SWEEPER", err.Error())
			}
		}
	}
}
