package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a status change is not listed in the
// transition tables below.
var ErrInvalidTransition = errors.New("invalid status transition")

// CheckTicketTransition returns ErrInvalidTransition unless from may move to to.
func CheckTicketTransition(from, to TicketStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: ticket %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketBooked       TicketStatus = "booked"
	TicketTransferring TicketStatus = "transferring"
	TicketTransferred  TicketStatus = "transferred"
	TicketCheckedIn    TicketStatus = "checked-in"
	TicketCancelled    TicketStatus = "cancelled"
)

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketBooked:       {TicketTransferring, TicketCancelled, TicketCheckedIn},
	TicketTransferring: {TicketBooked, TicketTransferred, TicketCancelled},
	TicketTransferred:  {TicketCheckedIn, TicketCancelled},
	TicketCheckedIn:    {TicketCancelled},
	TicketCancelled:    nil,
}

func (s TicketStatus) Valid() bool {
	_, ok := ticketTransitions[s]
	return ok
}

// CanTransitionTo reports whether next is a listed successor of s.
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	for _, allowed := range ticketTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Attendable reports whether a ticket in this status may be checked in.
func (s TicketStatus) Attendable() bool {
	return s == TicketBooked || s == TicketTransferred
}

// TicketStatusesFrom returns every status that may move to next.
func TicketStatusesFrom(next TicketStatus) []TicketStatus {
	var from []TicketStatus
	for _, s := range []TicketStatus{TicketBooked, TicketTransferring, TicketTransferred, TicketCheckedIn, TicketCancelled} {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentPaid, PaymentFailed},
	PaymentFailed:  {PaymentPaid},
	PaymentPaid:    nil,
}

func (s PaymentStatus) Valid() bool {
	_, ok := paymentTransitions[s]
	return ok
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentStatusesFrom returns every payment status that may move to next.
func PaymentStatusesFrom(next PaymentStatus) []PaymentStatus {
	var from []PaymentStatus
	for _, s := range []PaymentStatus{PaymentPending, PaymentPaid, PaymentFailed} {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferSuccess   TransferStatus = "success"
	TransferCancelled TransferStatus = "cancelled"
)

func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	return s == TransferPending && (next == TransferSuccess || next == TransferCancelled)
}

type EventStatus string

const (
	EventActive    EventStatus = "active"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

type Role string

const (
	RoleStudent   Role = "student"
	RoleOrganizer Role = "organizer"
	RoleAdmin     Role = "admin"
)
