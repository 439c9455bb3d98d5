package ticket_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"unievent-ticketing/internal/auth"
)

// keepAliveInterval spaces comment frames so proxies keep idle streams open.
const keepAliveInterval = 25 * time.Second

// StreamEventActivity streams lifecycle events of one event to its staff as
// Server-Sent Events.
func (h *Handler) StreamEventActivity(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	if err := h.TicketService.AuthorizeEventStaff(r.Context(), eventID, auth.UserID(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// the server write timeout would cut long-lived streams
	_ = rc.SetWriteDeadline(time.Time{})

	setupSSEHeaders(w)
	ctx := r.Context()
	events := h.Activity.Subscribe(ctx, eventID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"event_id\":%q}\n\n", eventID)
	if err := rc.Flush(); err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("Streaming unsupported: %v", err))
		return
	}
	h.Logger.Info("SSE", fmt.Sprintf("Client connected to activity of event %s", eventID))

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize lifecycle event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			if err := rc.Flush(); err != nil {
				return
			}
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from activity of event %s", eventID))
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
