// Package payment holds the gateway contract the ticketing engine delegates
// money movement to, plus the result-code vocabulary shared by adapters.
package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
)

// Result codes follow the MoMo convention; other adapters map onto them.
const (
	ResultSuccess    = 0
	ResultInitiated  = 1000
	ResultFailed     = 1006
	ResultCancelled  = 1003
	ResultProcessing = 7000
	ResultPending    = 7002
	ResultAuthorized = 9000
)

var (
	ErrGateway          = errors.New("payment gateway error")
	ErrInvalidSignature = errors.New("invalid payment callback signature")
	// ErrIgnoredCallback marks a well-formed callback that carries no result.
	ErrIgnoredCallback = errors.New("callback carries no payment result")
)

type CreateRequest struct {
	Amount      decimal.Decimal
	OrderInfo   string
	RedirectURL string
	// Reference ties the gateway order back to a ticket.
	Reference string
}

type CreateResult struct {
	OrderID     string
	RedirectURL string
	Data        map[string]string
}

type StatusResult struct {
	OrderID    string
	ResultCode int
	Message    string
}

// Final reports whether the gateway has settled the payment one way or the
// other.
func (r StatusResult) Final() bool {
	return IsFinal(r.ResultCode)
}

func IsFinal(code int) bool {
	switch code {
	case ResultInitiated, ResultProcessing, ResultPending, ResultAuthorized:
		return false
	}
	return true
}

// Callback is an asynchronous result pushed by the gateway.
type Callback struct {
	OrderID    string `json:"orderId"`
	ResultCode int    `json:"resultCode"`
}

type Gateway interface {
	CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error)
	QueryStatus(ctx context.Context, orderID string) (*StatusResult, error)
}

// CallbackParser is implemented by gateways that sign their callbacks.
type CallbackParser interface {
	ParseCallback(header http.Header, body []byte) (Callback, error)
}
