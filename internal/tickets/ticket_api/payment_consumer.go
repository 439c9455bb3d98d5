package ticket_api

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"unievent-ticketing/internal/payment"
	tickets "unievent-ticketing/internal/tickets/service"
)

// HandlePaymentResult applies a payment result relayed over Kafka by the
// payment service. Malformed messages and unknown orders are logged and
// committed; anything else is returned so the group redelivers it.
func (h *Handler) HandlePaymentResult(ctx context.Context, msg kafkago.Message) error {
	var cb payment.Callback
	if err := json.Unmarshal(msg.Value, &cb); err != nil || cb.OrderID == "" {
		h.Logger.Warn("KAFKA", fmt.Sprintf("Dropping malformed payment result at offset %d", msg.Offset))
		return nil
	}

	_, err := h.TicketService.ApplyPaymentResult(ctx, cb.OrderID, cb.ResultCode)
	switch {
	case err == nil:
		return nil
	case tickets.KindOf(err) == tickets.KindNotFound:
		h.Logger.Warn("KAFKA", fmt.Sprintf("Payment result for unknown order %s", cb.OrderID))
		return nil
	default:
		return err
	}
}
