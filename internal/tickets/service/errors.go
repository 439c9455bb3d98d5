package tickets

import (
	"errors"
	"fmt"

	"unievent-ticketing/internal/models"
	"unievent-ticketing/internal/tickets/db"
	ticketlock "unievent-ticketing/internal/tickets/redis"
)

// Kind classifies engine failures. Transport layers map kinds to status
// codes.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindForbidden        Kind = "forbidden"
	KindInvalidState     Kind = "invalid_state"
	KindCapacityExceeded Kind = "capacity_exceeded"
	KindConflict         Kind = "conflict"
	KindUpstreamFailure  Kind = "upstream_failure"
	KindInternal         Kind = "internal"
)

// Error is the typed failure every engine operation returns.
type Error struct {
	Kind    Kind
	Code    string
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code when the target carries one and on Kind otherwise, so
// errors.Is(err, ErrInvalidState) holds for ErrNotPaid as well.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return e.Kind == t.Kind
}

var (
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden        = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrInvalidState     = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrCapacityExceeded = &Error{Kind: KindCapacityExceeded, Code: "capacity_exceeded", Message: "event is sold out"}
	ErrConflict         = &Error{Kind: KindConflict, Message: "conflict"}
	ErrUpstreamFailure  = &Error{Kind: KindUpstreamFailure, Message: "payment gateway failure"}

	ErrTicketNotFound   = &Error{Kind: KindNotFound, Code: "ticket_not_found", Message: "ticket not found"}
	ErrTransferNotFound = &Error{Kind: KindNotFound, Code: "transfer_not_found", Message: "transfer request not found"}
	ErrAlreadyCancelled = &Error{Kind: KindInvalidState, Code: "already_cancelled", Message: "ticket is already cancelled"}
	ErrAlreadyCheckedIn = &Error{Kind: KindInvalidState, Code: "already_checked_in", Message: "ticket is already checked in"}
	ErrNotPaid          = &Error{Kind: KindInvalidState, Code: "not_paid", Message: "ticket has not been paid"}
	ErrNoEligibleTicket = &Error{Kind: KindNotFound, Code: "no_eligible_ticket", Message: "no eligible ticket for check-in"}
)

// fail builds an error of base's kind and code for op. An empty message
// keeps the base message.
func fail(op string, base *Error, message string, err error) *Error {
	if message == "" {
		message = base.Message
	}
	return &Error{Kind: base.Kind, Code: base.Code, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of err, KindInternal for untyped errors and ""
// for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// fromStore turns store and lock errors into engine errors. notFound is
// used for db.ErrNotFound.
func fromStore(op string, err error, notFound *Error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	switch {
	case errors.Is(err, db.ErrNotFound):
		if notFound == nil {
			notFound = ErrNotFound
		}
		return fail(op, notFound, "", err)
	case errors.Is(err, db.ErrCapacityExceeded):
		return fail(op, ErrCapacityExceeded, "", err)
	case errors.Is(err, db.ErrConflict), errors.Is(err, ticketlock.ErrLockTimeout):
		return fail(op, ErrConflict, "concurrent update, try again", err)
	case errors.Is(err, models.ErrInvalidTransition):
		return fail(op, ErrInvalidState, "", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
