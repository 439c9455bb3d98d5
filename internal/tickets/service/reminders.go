package tickets

import (
	"context"
	"fmt"
	"time"

	"unievent-ticketing/internal/models"
	"unievent-ticketing/internal/notify"
	"unievent-ticketing/internal/utils"
)

// SendEventReminders emails every paid holder of a live ticket for active
// events starting within the reminder lead time. It returns the number of
// emails queued.
func (s *TicketService) SendEventReminders(ctx context.Context) (int, error) {
	const op = "Reminders.SendEventReminders"
	q := s.DB.Queries()

	now := s.now()
	events, err := q.EventsStartingBetween(ctx, now, now.Add(s.cfg.ReminderLead))
	if err != nil {
		return 0, fromStore(op, err, nil)
	}

	sent := 0
	for _, event := range events {
		tickets, err := q.PaidTicketsForEvent(ctx, event.ID)
		if err != nil {
			return sent, fromStore(op, err, nil)
		}
		if len(tickets) == 0 {
			continue
		}

		ids := make([]string, 0, len(tickets))
		for _, t := range tickets {
			ids = append(ids, t.BuyerID)
		}
		users, err := q.UsersByIDs(ctx, ids)
		if err != nil {
			return sent, fromStore(op, err, nil)
		}
		byID := make(map[string]models.User, len(users))
		for _, u := range users {
			byID[u.ID] = u
		}

		for _, t := range tickets {
			holder, ok := byID[t.BuyerID]
			if !ok {
				continue
			}
			s.Notifier.Email(ctx, notify.Email{
				UserID:   holder.ID,
				To:       holder.Email,
				Subject:  "Reminder: " + event.Name,
				Template: notify.TemplateEventReminder,
				Data: map[string]string{
					"event_name":   event.Name,
					"location":     event.Location,
					"starts_at":    event.StartsAt.Format(time.RFC3339),
					"booking_code": t.BookingCode,
				},
			})
			sent++
		}
	}

	s.Logger.LogProcess("REMINDERS", fmt.Sprintf("queued %d reminders for %d events", sent, len(events)))
	return sent, nil
}

// RunReminders sends reminders once a day at hour until ctx is done.
func (s *TicketService) RunReminders(ctx context.Context, hour int) error {
	for {
		next := utils.NextDailyRun(time.Now(), hour)
		s.Logger.LogProcess("REMINDERS", "next run at "+next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			if _, err := s.SendEventReminders(ctx); err != nil {
				s.Logger.Error("REMINDERS", err.Error())
			}
		}
	}
}
