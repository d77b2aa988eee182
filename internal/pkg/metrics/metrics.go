// Package metrics exposes the Prometheus collectors of the credits service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LedgerDeltas counts committed balance mutations by transaction kind.
	LedgerDeltas = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eficia",
		Subsystem: "ledger",
		Name:      "deltas_total",
		Help:      "Committed ledger deltas by kind.",
	}, []string{"kind"})

	// LedgerCredits sums the signed credit amounts moved by kind.
	LedgerCredits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eficia",
		Subsystem: "ledger",
		Name:      "credits_moved_total",
		Help:      "Absolute credits moved by kind.",
	}, []string{"kind"})

	// LedgerFailures counts rejected or rolled back mutations.
	LedgerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eficia",
		Subsystem: "ledger",
		Name:      "failures_total",
		Help:      "Ledger mutations that did not commit, by reason.",
	}, []string{"reason"})

	// LedgerRetries counts retries caused by concurrent updates on the same account.
	LedgerRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eficia",
		Subsystem: "ledger",
		Name:      "conflict_retries_total",
		Help:      "Retries after a concurrency conflict.",
	})

	// WebhookEvents counts payment webhook deliveries by outcome.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eficia",
		Subsystem: "payments",
		Name:      "webhook_events_total",
		Help:      "Payment webhook deliveries by outcome.",
	}, []string{"outcome"})

	// JobTransitions counts job status changes.
	JobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eficia",
		Subsystem: "jobs",
		Name:      "transitions_total",
		Help:      "Enrichment job status transitions.",
	}, []string{"from", "to"})

	// NotificationFailures counts best-effort notifications that could not be delivered.
	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eficia",
		Subsystem: "notifications",
		Name:      "failures_total",
		Help:      "Failed notifications by type.",
	}, []string{"type"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
