// Package stripepay adapts Stripe PaymentIntents to the payment.Gateway
// contract.
package stripepay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"unievent-ticketing/internal/logger"
	"unievent-ticketing/internal/payment"
)

var ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")

// Currencies Stripe expects in whole units rather than cents.
var zeroDecimal = map[string]bool{"vnd": true, "jpy": true, "krw": true, "clp": true, "pyg": true}

type Config struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	RedirectURL   string
}

type Gateway struct {
	client *client.API
	cfg    Config
	log    *logger.Logger
}

// New builds a gateway. backends may be nil to talk to the live API.
func New(cfg Config, backends *stripe.Backends, log *logger.Logger) (*Gateway, error) {
	if cfg.SecretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY not set")
		return nil, ErrStripeClientInitFailed
	}
	if cfg.Currency == "" {
		cfg.Currency = "vnd"
	}

	sc := client.New(cfg.SecretKey, backends)
	if sc == nil {
		return nil, ErrStripeClientInitFailed
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &Gateway{client: sc, cfg: cfg, log: log}, nil
}

func (g *Gateway) CreatePayment(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	currency := strings.ToLower(g.cfg.Currency)
	amount := req.Amount
	if !zeroDecimal[currency] {
		amount = amount.Shift(2)
	}

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(amount.Round(0).IntPart()),
		Currency:    stripe.String(currency),
		Description: stripe.String(req.OrderInfo),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("ticket_id", req.Reference)

	intent, err := g.client.PaymentIntents.New(params)
	if err != nil {
		g.log.Error("STRIPE", fmt.Sprintf("Failed to create payment intent for ticket %s: %v", req.Reference, err))
		return nil, fmt.Errorf("%w: stripe: %v", payment.ErrGateway, err)
	}

	redirect := req.RedirectURL
	if redirect == "" {
		redirect = g.cfg.RedirectURL
	}
	if redirect != "" {
		redirect += "?payment_intent=" + intent.ID
	}

	g.log.Info("STRIPE", fmt.Sprintf("Created payment intent %s for ticket %s", intent.ID, req.Reference))
	return &payment.CreateResult{
		OrderID:     intent.ID,
		RedirectURL: redirect,
		Data: map[string]string{
			"client_secret": intent.ClientSecret,
			"status":        string(intent.Status),
		},
	}, nil
}

func (g *Gateway) QueryStatus(ctx context.Context, orderID string) (*payment.StatusResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := g.client.PaymentIntents.Get(orderID, params)
	if err != nil {
		return nil, fmt.Errorf("%w: stripe: %v", payment.ErrGateway, err)
	}
	return &payment.StatusResult{
		OrderID:    orderID,
		ResultCode: resultCode(intent.Status),
		Message:    string(intent.Status),
	}, nil
}

func resultCode(status stripe.PaymentIntentStatus) int {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return payment.ResultSuccess
	case stripe.PaymentIntentStatusCanceled:
		return payment.ResultCancelled
	case stripe.PaymentIntentStatusProcessing:
		return payment.ResultProcessing
	case stripe.PaymentIntentStatusRequiresCapture:
		return payment.ResultAuthorized
	default:
		return payment.ResultInitiated
	}
}

// ParseCallback verifies a Stripe webhook and extracts the intent outcome.
func (g *Gateway) ParseCallback(header http.Header, body []byte) (payment.Callback, error) {
	if g.cfg.WebhookSecret == "" {
		return payment.Callback{}, fmt.Errorf("%w: webhook secret not configured", payment.ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(body, header.Get("Stripe-Signature"), g.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return payment.Callback{}, fmt.Errorf("%w: %v", payment.ErrInvalidSignature, err)
	}

	var code int
	switch string(event.Type) {
	case "payment_intent.succeeded":
		code = payment.ResultSuccess
	case "payment_intent.payment_failed":
		code = payment.ResultFailed
	case "payment_intent.canceled":
		code = payment.ResultCancelled
	default:
		return payment.Callback{}, payment.ErrIgnoredCallback
	}

	id, _ := event.Data.Object["id"].(string)
	if id == "" {
		return payment.Callback{}, fmt.Errorf("stripe event %s has no intent id", event.ID)
	}
	return payment.Callback{OrderID: id, ResultCode: code}, nil
}
