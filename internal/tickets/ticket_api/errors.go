package ticket_api

import (
	"fmt"
	"net/http"

	tickets "unievent-ticketing/internal/tickets/service"
	"unievent-ticketing/internal/utils"
)

// statusFor maps an engine failure kind to an HTTP status.
func statusFor(kind tickets.Kind) int {
	switch kind {
	case tickets.KindNotFound:
		return http.StatusNotFound
	case tickets.KindForbidden:
		return http.StatusForbidden
	case tickets.KindInvalidState, tickets.KindCapacityExceeded, tickets.KindConflict:
		return http.StatusConflict
	case tickets.KindUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := tickets.KindOf(err)
	status := statusFor(kind)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.Logger.Error("HTTP", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
		msg = "internal error"
	}

	resp := utils.ErrorResponse(http.StatusText(status), msg)
	resp.Kind = string(kind)
	utils.WriteJSON(w, status, resp)
}
