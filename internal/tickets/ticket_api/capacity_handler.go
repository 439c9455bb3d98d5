package ticket_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"unievent-ticketing/internal/utils"
)

// CapacityResponse reports an event's capacity ledger. Remaining is -1 for
// events without a maximum.
type CapacityResponse struct {
	EventID      string `json:"event_id"`
	MaxAttendees *int   `json:"max_attendees"`
	TicketsSold  int    `json:"tickets_sold"`
	Remaining    int    `json:"remaining"`
}

func (h *Handler) GetEventCapacity(w http.ResponseWriter, r *http.Request) {
	c, err := h.TicketService.EventCapacity(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Capacity retrieved", CapacityResponse{
		EventID:      c.EventID,
		MaxAttendees: c.Max,
		TicketsSold:  c.Sold,
		Remaining:    c.Remaining(),
	}))
}
