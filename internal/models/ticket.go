package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID                 string            `bun:"id,pk" json:"id"`
	EventID            string            `bun:"event_id,notnull" json:"event_id"`
	BuyerID            string            `bun:"buyer_id,notnull" json:"buyer_id"`
	BookingCode        string            `bun:"booking_code,unique,notnull" json:"booking_code"`
	QRPayload          string            `bun:"qr_payload,unique,notnull" json:"-"`
	Status             TicketStatus      `bun:"status,notnull" json:"status"`
	PaymentStatus      PaymentStatus     `bun:"payment_status,notnull" json:"payment_status"`
	PaymentOrderID     string            `bun:"payment_order_id,nullzero,unique" json:"payment_order_id,omitempty"`
	PaymentAmount      decimal.Decimal   `bun:"payment_amount,type:numeric(12,2),notnull" json:"payment_amount"`
	PaymentRedirectURL string            `bun:"payment_redirect_url,nullzero" json:"payment_redirect_url,omitempty"`
	PaymentData        map[string]string `bun:"payment_data" json:"-"`
	CancelReason       string            `bun:"cancel_reason,nullzero" json:"cancel_reason,omitempty"`
	CheckedInAt        *time.Time        `bun:"checked_in_at" json:"checked_in_at,omitempty"`
	CheckedInBy        string            `bun:"checked_in_by,nullzero" json:"checked_in_by,omitempty"`
	IsDeleted          bool              `bun:"is_deleted,notnull,default:false" json:"-"`
	CreatedAt          time.Time         `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt          time.Time         `bun:"updated_at,notnull" json:"updated_at"`

	Event *Event `bun:"rel:belongs-to,join:event_id=id" json:"event,omitempty"`
}

// Holding links a user to a ticket they currently own.
type Holding struct {
	bun.BaseModel `bun:"table:user_tickets"`

	UserID    string    `bun:"user_id,pk"`
	TicketID  string    `bun:"ticket_id,pk"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type TransferRequest struct {
	bun.BaseModel `bun:"table:transfer_requests"`

	ID         string         `bun:"id,pk" json:"id"`
	TicketID   string         `bun:"ticket_id,notnull" json:"ticket_id"`
	FromUserID string         `bun:"from_user_id,notnull" json:"from_user_id"`
	ToUserID   string         `bun:"to_user_id,notnull" json:"to_user_id"`
	Status     TransferStatus `bun:"status,notnull" json:"status"`
	CreatedAt  time.Time      `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt  time.Time      `bun:"updated_at,notnull" json:"updated_at"`
}
