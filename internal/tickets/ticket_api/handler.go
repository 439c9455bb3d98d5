package ticket_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"unievent-ticketing/internal/analytics"
	"unievent-ticketing/internal/auth"
	"unievent-ticketing/internal/logger"
	"unievent-ticketing/internal/payment"
	"unievent-ticketing/internal/sse"
	tickets "unievent-ticketing/internal/tickets/service"
	"unievent-ticketing/internal/utils"
)

// maxBodyBytes caps request and callback bodies.
const maxBodyBytes = 1 << 20

type Handler struct {
	TicketService *tickets.TicketService
	// Callbacks verifies inbound gateway callbacks. Nil disables the
	// callback route.
	Callbacks payment.CallbackParser
	// Stats and Activity are optional staff views.
	Stats    *analytics.Service
	Activity *sse.ActivityEmitter
	Logger   *logger.Logger
}

func NewHandler(svc *tickets.TicketService, callbacks payment.CallbackParser, log *logger.Logger) *Handler {
	return &Handler{TicketService: svc, Callbacks: callbacks, Logger: log}
}

func (h *Handler) WithAnalytics(stats *analytics.Service) *Handler {
	h.Stats = stats
	return h
}

func (h *Handler) WithActivity(emitter *sse.ActivityEmitter) *Handler {
	h.Activity = emitter
	return h
}

// RegisterPublicRoutes mounts the routes that do not need an actor.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/api/events/{eventId}/capacity", h.GetEventCapacity)
	r.Post("/api/payments/callback", h.PaymentCallback)
}

// RegisterRoutes mounts the authenticated routes. auth.Middleware must run
// before them.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/tickets", func(r chi.Router) {
		r.Post("/", h.BookTicket)
		r.Get("/", h.ListMyTickets)
		r.Get("/{ticketId}", h.GetTicket)
		r.Get("/{ticketId}/qr", h.GetTicketQR)
		r.Post("/{ticketId}/cancel", h.CancelTicket)
		r.Post("/{ticketId}/transfer", h.ProposeTransfer)
		r.Post("/{ticketId}/transfer/confirm", h.ConfirmTransfer)
		r.Post("/{ticketId}/transfer/reject", h.RejectTransfer)
		r.Post("/{ticketId}/transfer/cancel", h.CancelTransfer)
	})
	r.Get("/api/transfers/incoming", h.ListIncomingTransfers)
	r.Route("/api/checkin", func(r chi.Router) {
		r.Post("/booking-code", h.CheckInByBookingCode)
		r.Post("/qr", h.CheckInByQR)
		r.Post("/student", h.CheckInByStudentID)
	})
	r.Post("/api/payments/{orderId}/status", h.ReconcilePayment)

	if h.Stats != nil {
		r.Get("/api/events/{eventId}/stats", h.GetEventStats)
		r.Get("/api/events/{eventId}/attendees", h.ListAttendees)
	}
	if h.Activity != nil {
		r.Get("/api/events/{eventId}/activity", h.StreamEventActivity)
	}
}

type bookRequest struct {
	EventID string `json:"event_id"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type transferRequest struct {
	ToUserID string `json:"to_user_id"`
}

type checkInRequest struct {
	BookingCode string `json:"booking_code"`
	QRPayload   string `json:"qr_payload"`
	StudentID   string `json:"student_id"`
}

func (h *Handler) BookTicket(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.EventID == "" {
		h.badRequest(w, "event_id is required")
		return
	}

	ticket, err := h.TicketService.BookTicket(r.Context(), req.EventID, auth.UserID(r.Context()))
	if err != nil && ticket == nil {
		h.fail(w, r, err)
		return
	}
	if err != nil {
		// The slot is held and the ticket exists, but no payment handle
		// could be obtained.
		resp := utils.ErrorResponse("Ticket reserved but payment could not be started", err.Error())
		resp.Kind = string(tickets.KindOf(err))
		resp.Data = ticket
		utils.WriteJSON(w, http.StatusBadGateway, resp)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Ticket booked", ticket))
}

func (h *Handler) ListMyTickets(w http.ResponseWriter, r *http.Request) {
	list, err := h.TicketService.ListMyTickets(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Tickets retrieved", list))
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.TicketService.GetTicket(r.Context(), chi.URLParam(r, "ticketId"), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket retrieved", ticket))
}

// GetTicketQR returns the ticket's QR code as a PNG. ?size= sets the edge
// length in pixels.
func (h *Handler) GetTicketQR(w http.ResponseWriter, r *http.Request) {
	size := 256
	if s := r.URL.Query().Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 64 || n > 1024 {
			h.badRequest(w, "size must be between 64 and 1024")
			return
		}
		size = n
	}

	png, err := h.TicketService.TicketQRCode(r.Context(), chi.URLParam(r, "ticketId"), auth.UserID(r.Context()), size)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) CancelTicket(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	ticket, err := h.TicketService.CancelTicket(r.Context(), chi.URLParam(r, "ticketId"), auth.UserID(r.Context()), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket cancelled", ticket))
}

func (h *Handler) ProposeTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ToUserID == "" {
		h.badRequest(w, "to_user_id is required")
		return
	}
	tr, err := h.TicketService.ProposeTransfer(r.Context(), chi.URLParam(r, "ticketId"), auth.UserID(r.Context()), req.ToUserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Transfer proposed", tr))
}

func (h *Handler) ConfirmTransfer(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.TicketService.ConfirmTransfer(r.Context(), chi.URLParam(r, "ticketId"), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Transfer confirmed", ticket))
}

func (h *Handler) RejectTransfer(w http.ResponseWriter, r *http.Request) {
	tr, err := h.TicketService.RejectTransfer(r.Context(), chi.URLParam(r, "ticketId"), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Transfer rejected", tr))
}

func (h *Handler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	tr, err := h.TicketService.CancelTransfer(r.Context(), chi.URLParam(r, "ticketId"), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Transfer withdrawn", tr))
}

func (h *Handler) ListIncomingTransfers(w http.ResponseWriter, r *http.Request) {
	list, err := h.TicketService.ListIncomingTransfers(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Incoming transfers retrieved", list))
}

func (h *Handler) CheckInByBookingCode(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.BookingCode == "" {
		h.badRequest(w, "booking_code is required")
		return
	}
	ticket, err := h.TicketService.CheckInByBookingCode(r.Context(), req.BookingCode, auth.UserID(r.Context()))
	h.checkedIn(w, r, ticket, err)
}

func (h *Handler) CheckInByQR(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.QRPayload == "" {
		h.badRequest(w, "qr_payload is required")
		return
	}
	ticket, err := h.TicketService.CheckInByQR(r.Context(), req.QRPayload, auth.UserID(r.Context()))
	h.checkedIn(w, r, ticket, err)
}

func (h *Handler) CheckInByStudentID(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.StudentID == "" {
		h.badRequest(w, "student_id is required")
		return
	}
	ticket, err := h.TicketService.CheckInByStudentID(r.Context(), req.StudentID, auth.UserID(r.Context()))
	h.checkedIn(w, r, ticket, err)
}

func (h *Handler) checkedIn(w http.ResponseWriter, r *http.Request, ticket interface{}, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Check-in successful", ticket))
}

// PaymentCallback receives asynchronous results from the gateway. The
// gateway retries on non-2xx responses, so duplicates are expected.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	if h.Callbacks == nil {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Payment callbacks are disabled", "no gateway configured"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.badRequest(w, "failed to read body")
		return
	}

	cb, err := h.Callbacks.ParseCallback(r.Header, body)
	switch {
	case errors.Is(err, payment.ErrIgnoredCallback):
		w.WriteHeader(http.StatusNoContent)
		return
	case errors.Is(err, payment.ErrInvalidSignature):
		h.Logger.LogSecurity("PAYMENT_CALLBACK", fmt.Sprintf("rejected callback from %s: %v", r.RemoteAddr, err))
		utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Invalid signature", err.Error()))
		return
	case err != nil:
		h.badRequest(w, err.Error())
		return
	}

	if _, err := h.TicketService.ApplyPaymentResult(r.Context(), cb.OrderID, cb.ResultCode); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ReconcilePayment(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.TicketService.ReconcilePayment(r.Context(), chi.URLParam(r, "orderId"), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payment status refreshed", ticket))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		h.badRequest(w, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(w, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Bad request", msg))
}
