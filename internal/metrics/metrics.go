package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicketOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_operations_total",
			Help: "Ticket engine operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	PaymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_payment_transitions_total",
			Help: "Payment status changes applied to tickets",
		},
		[]string{"status"},
	)

	SweptTickets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_stale_pending_released_total",
			Help: "Pending-payment tickets cancelled by the sweeper",
		},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_notification_failures_total",
			Help: "Fire-and-forget deliveries that failed",
		},
		[]string{"channel"},
	)

	GatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketing_gateway_request_seconds",
			Help:    "Payment gateway call latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"call"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)
)

// Observe records an operation outcome. kind is empty on success.
func Observe(operation, kind string) {
	outcome := kind
	if outcome == "" {
		outcome = "ok"
	}
	TicketOperations.WithLabelValues(operation, outcome).Inc()
}

// ObserveGateway records the duration of a gateway call started at start.
func ObserveGateway(call string, start time.Time) {
	GatewayLatency.WithLabelValues(call).Observe(time.Since(start).Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
