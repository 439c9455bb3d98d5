package tickets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"unievent-ticketing/internal/metrics"
	"unievent-ticketing/internal/models"
	"unievent-ticketing/internal/notify"
	"unievent-ticketing/internal/tickets/db"
)

func (s *TicketService) CheckInByBookingCode(ctx context.Context, code, staffID string) (*models.Ticket, error) {
	const op = "CheckIn.CheckInByBookingCode"

	ticket, err := s.DB.Queries().TicketByBookingCode(ctx, code)
	if err != nil {
		err = fromStore(op, err, ErrTicketNotFound)
		metrics.Observe("checkin", string(KindOf(err)))
		return nil, err
	}
	return s.checkIn(ctx, op, ticket.ID, staffID)
}

// CheckInByQR accepts a scanned QR payload. Payloads with a bad signature
// are reported as unknown tickets.
func (s *TicketService) CheckInByQR(ctx context.Context, payload, staffID string) (*models.Ticket, error) {
	const op = "CheckIn.CheckInByQR"

	if _, err := s.QR.Verify(payload); err != nil {
		s.Logger.LogSecurity("QR_REJECTED", fmt.Sprintf("staff %s scanned an invalid payload", staffID))
		metrics.Observe("checkin", string(KindNotFound))
		return nil, fail(op, ErrTicketNotFound, "", err)
	}

	ticket, err := s.DB.Queries().TicketByQRPayload(ctx, payload)
	if err != nil {
		err = fromStore(op, err, ErrTicketNotFound)
		metrics.Observe("checkin", string(KindOf(err)))
		return nil, err
	}
	return s.checkIn(ctx, op, ticket.ID, staffID)
}

// CheckInByStudentID picks, among the student's attendable tickets for
// events staffID may run, the one whose start is closest to now and within
// the check-in window.
func (s *TicketService) CheckInByStudentID(ctx context.Context, studentID, staffID string) (*models.Ticket, error) {
	const op = "CheckIn.CheckInByStudentID"

	ticket, err := s.selectStudentTicket(ctx, op, studentID, staffID)
	if err != nil {
		metrics.Observe("checkin", string(KindOf(err)))
		return nil, err
	}
	return s.checkIn(ctx, op, ticket.ID, staffID)
}

func (s *TicketService) selectStudentTicket(ctx context.Context, op, studentID, staffID string) (*models.Ticket, error) {
	q := s.DB.Queries()

	student, err := q.UserByStudentID(ctx, studentID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fail(op, ErrNotFound, "student not found", err)
		}
		return nil, fromStore(op, err, nil)
	}

	held, err := q.AttendableTicketsHeldBy(ctx, student.ID)
	if err != nil {
		return nil, fromStore(op, err, nil)
	}

	authority := make(map[string]bool)
	candidates := make([]models.Ticket, 0, len(held))
	for _, t := range held {
		if t.BuyerID != student.ID || t.Event == nil {
			continue
		}
		allowed, seen := authority[t.EventID]
		if !seen {
			allowed, err = q.IsEventStaff(ctx, t.EventID, staffID)
			if err != nil {
				return nil, fromStore(op, err, nil)
			}
			authority[t.EventID] = allowed
		}
		if allowed {
			candidates = append(candidates, t)
		}
	}

	best := closestTicket(candidates, s.now(), s.cfg.CheckInWindow)
	if best == nil {
		return nil, fail(op, ErrNoEligibleTicket, "", nil)
	}
	return best, nil
}

// closestTicket returns the candidate whose event starts nearest to now,
// within window on either side. Ties go to the earliest event, then the
// lowest ticket id.
func closestTicket(candidates []models.Ticket, now time.Time, window time.Duration) *models.Ticket {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.Event.StartsAt.Equal(b.Event.StartsAt) {
			return a.Event.StartsAt.Before(b.Event.StartsAt)
		}
		return a.ID < b.ID
	})

	var (
		best      *models.Ticket
		bestDelta time.Duration
	)
	for i := range candidates {
		delta := absDuration(candidates[i].Event.StartsAt.Sub(now))
		if delta > window {
			continue
		}
		if best == nil || delta < bestDelta {
			best, bestDelta = &candidates[i], delta
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// checkIn applies the shared check-in rules to a resolved ticket.
func (s *TicketService) checkIn(ctx context.Context, op, ticketID, staffID string) (*models.Ticket, error) {
	unlock, err := s.lock(ctx, op, ticketID)
	if err != nil {
		metrics.Observe("checkin", string(KindOf(err)))
		return nil, err
	}
	defer unlock()

	var ticket *models.Ticket
	err = s.DB.RunInTx(ctx, func(ctx context.Context, q *db.Queries, after func(db.AfterCommit)) error {
		var err error
		ticket, err = q.TicketByID(ctx, ticketID)
		if err != nil {
			return err
		}

		switch {
		case ticket.Status == models.TicketCheckedIn:
			return fail(op, ErrAlreadyCheckedIn, "", nil)
		case !ticket.Status.Attendable():
			return fail(op, ErrInvalidState, fmt.Sprintf("ticket is %s", ticket.Status), nil)
		case ticket.PaymentStatus != models.PaymentPaid:
			return fail(op, ErrNotPaid, "", nil)
		}

		staff, err := q.IsEventStaff(ctx, ticket.EventID, staffID)
		if err != nil {
			return err
		}
		if !staff {
			return fail(op, ErrForbidden, "staff member cannot check in attendees for this event", nil)
		}

		now := s.now()
		if err := q.CheckInTicket(ctx, ticket.ID, ticket.Status, staffID, now); err != nil {
			return err
		}
		ticket.Status = models.TicketCheckedIn
		ticket.CheckedInAt = &now
		ticket.CheckedInBy = staffID
		ticket.UpdatedAt = now

		attended := *ticket
		after(func(ctx context.Context) {
			s.lifecycle(ctx, notify.LifecycleCheckedIn, &attended)
			s.Notifier.Notify(ctx, notify.Notification{
				UserIDs: []string{attended.BuyerID},
				Type:    notify.TypeCheckIn,
				Title:   "Checked in",
				Body:    fmt.Sprintf("Ticket %s has been checked in. Enjoy the event!", attended.BookingCode),
				Data:    map[string]string{"ticket_id": attended.ID, "event_id": attended.EventID},
			})
		})
		return nil
	})
	if err != nil {
		err = fromStore(op, err, ErrTicketNotFound)
		metrics.Observe("checkin", string(KindOf(err)))
		return nil, err
	}

	metrics.Observe("checkin", "")
	s.Logger.LogTicket("CHECKIN", ticket.ID, "checked in by "+staffID)
	return ticket, nil
}
