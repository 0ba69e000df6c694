package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LedgerOpsTotal counts ledger store operations by name.
	LedgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rentals",
			Subsystem: "ledger",
			Name:      "ops_total",
			Help:      "Total ledger store operations by op name.",
		},
		[]string{"op"},
	)

	// LedgerOpDuration observes ledger store operation latency.
	LedgerOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rentals",
			Subsystem: "ledger",
			Name:      "op_duration_seconds",
			Help:      "Ledger store operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(LedgerOpsTotal, LedgerOpDuration)
}

// observeOp records one store operation. Call the returned func when done.
func observeOp(op string) func() {
	start := time.Now()
	return func() {
		LedgerOpsTotal.WithLabelValues(op).Inc()
		LedgerOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
