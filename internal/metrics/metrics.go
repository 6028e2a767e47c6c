// Package metrics holds the Prometheus collectors exported on /metrics
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "path"})

	PaymentIntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_intents_total",
		Help: "Payment intent creation attempts by outcome",
	}, []string{"outcome"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Processor webhook events by type and outcome",
	}, []string{"type", "outcome"})

	ReservationAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_attempts_total",
		Help: "Downstream reservation creation attempts by outcome",
	}, []string{"outcome"})

	ManualReviewTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_manual_review_total",
		Help: "Bookings moved to manual review by reason",
	}, []string{"reason"})

	FallbackPricingTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fallback_pricing_total",
		Help: "Quotes or bookings priced with the fallback nightly rate",
	})

	OperatorAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "operator_alerts_total",
		Help: "Operator alerts by severity and delivery outcome",
	}, []string{"severity", "outcome"})
)
