package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsTotal counts reconciled events by provider and outcome.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rentals",
			Subsystem: "reconcile",
			Name:      "events_total",
			Help:      "Reconciled payment events by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// ApplyDuration observes end-to-end reconciliation latency.
	ApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rentals",
			Subsystem: "reconcile",
			Name:      "apply_duration_seconds",
			Help:      "Reconciliation duration per event in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"provider"},
	)

	// SweptInvoicesTotal counts invoices the expiration sweep marked EXPIRED.
	SweptInvoicesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rentals",
			Subsystem: "reconcile",
			Name:      "swept_invoices_total",
			Help:      "PENDING invoices marked EXPIRED by the sweep.",
		},
	)
)

func init() {
	prometheus.MustRegister(EventsTotal, ApplyDuration, SweptInvoicesTotal)
}

func observeApply(provider, outcome string, start time.Time) {
	EventsTotal.WithLabelValues(provider, outcome).Inc()
	ApplyDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}
