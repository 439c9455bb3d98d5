package ticket_api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"unievent-ticketing/internal/analytics"
	"unievent-ticketing/internal/auth"
	"unievent-ticketing/internal/utils"
)

// GetEventStats returns sales and attendance figures to event staff.
func (h *Handler) GetEventStats(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	if err := h.TicketService.AuthorizeEventStaff(r.Context(), eventID, auth.UserID(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}

	stats, err := h.Stats.GetEventStats(r.Context(), eventID)
	if errors.Is(err, analytics.ErrEventNotFound) {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Not Found", err.Error()))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Event stats retrieved", stats))
}

// ListAttendees pages through an event's tickets. Query parameters: status,
// payment_status, sort_by, sort_order (asc|desc), limit, offset.
func (h *Handler) ListAttendees(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	if err := h.TicketService.AuthorizeEventStaff(r.Context(), eventID, auth.UserID(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}

	q := r.URL.Query()
	opts := analytics.AttendeeOptions{
		Status:        q.Get("status"),
		PaymentStatus: q.Get("payment_status"),
		SortBy:        q.Get("sort_by"),
		SortDesc:      q.Get("sort_order") == "desc",
	}
	for name, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.badRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	list, err := h.Stats.ListAttendees(r.Context(), eventID, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Attendees retrieved", list))
}
