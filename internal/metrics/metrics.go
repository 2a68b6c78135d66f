package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fandry"

var (
	CheckoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_total",
		Help:      "Checkout attempts by payment method and outcome.",
	}, []string{"method", "outcome"})

	CheckoutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "checkout_duration_seconds",
		Help:      "Latency of the synchronous checkout call.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	// CompensationFailures is the operator alert: every increment is money that needs a human.
	CompensationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compensation_failures_total",
		Help:      "Points reservations whose refund failed.",
	})

	Discrepancies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_discrepancies_total",
		Help:      "Discrepancies recorded for manual reconciliation.",
	}, []string{"kind"})

	LedgerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_mutations_total",
		Help:      "Ledger rows appended by transaction type.",
	}, []string{"type"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Processor webhook deliveries by event type and result.",
	}, []string{"type", "result"})

	ReconcileActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_actions_total",
		Help:      "Orders settled by the reconciliation sweep.",
	}, []string{"action"})

	OutboxMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_messages_total",
		Help:      "Outbox publish attempts by result.",
	}, []string{"result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)
