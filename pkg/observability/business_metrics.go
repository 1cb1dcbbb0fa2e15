package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transaction lifecycle metrics
	transactionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transaction_transitions_total",
		Help: "Total number of transaction state transitions",
	}, []string{
		"from",  // source state
		"to",    // destination state
		"event", // transition cause
	})

	transactionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transactions_created_total",
		Help: "Total number of transactions created",
	}, []string{
		"currency",
	})

	// Callback ingestion metrics
	callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Total number of gateway callbacks ingested",
	}, []string{
		"result", // applied, duplicate_suppressed, invalid_signature, unknown_transaction, malformed
	})

	// Status reconciliation metrics
	requeriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_status_requeries_total",
		Help: "Total number of active gateway re-queries for stale transactions",
	}, []string{
		"result", // resolved, still_pending, lost_race, gateway_error
	})

	// Refund metrics
	refundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_refunds_total",
		Help: "Total number of refund attempts",
	}, []string{
		"result", // success, gateway_failure
	})

	// Gateway boundary metrics
	gatewayCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_calls_total",
		Help: "Total number of calls to the payment gateway",
	}, []string{
		"operation", // capture, confirm_3ds, query, refund, cancel
		"result",    // ok, rejected, timeout, error
	})

	gatewayCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "payment_gateway_call_duration_seconds",
		Help: "Duration of payment gateway calls",
		// 100ms to 30s covers the gateway's SLA plus our timeout ceiling
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{
		"operation",
	})

	// 3DS session metrics
	threedsSessionsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_threeds_sessions_expired_total",
		Help: "Total number of 3DS challenges abandoned until expiry",
	})
)

// RecordTransition records one state machine edge being applied.
func RecordTransition(from, to, event string) {
	transactionTransitionsTotal.WithLabelValues(from, to, event).Inc()
}

// RecordTransactionCreated records a new ledger entry.
func RecordTransactionCreated(currency string) {
	transactionsCreatedTotal.WithLabelValues(currency).Inc()
}

// RecordCallback records a callback ingestion result.
func RecordCallback(result string) {
	callbacksTotal.WithLabelValues(result).Inc()
}

// RecordRequery records an active status re-query result.
func RecordRequery(result string) {
	requeriesTotal.WithLabelValues(result).Inc()
}

// RecordRefund records a refund attempt result.
func RecordRefund(result string) {
	refundsTotal.WithLabelValues(result).Inc()
}

// RecordGatewayCall records one call across the gateway boundary.
func RecordGatewayCall(operation, result string, durationSeconds float64) {
	gatewayCallsTotal.WithLabelValues(operation, result).Inc()
	gatewayCallDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordSessionExpired records a 3DS challenge that ran out the clock.
func RecordSessionExpired() {
	threedsSessionsExpiredTotal.Inc()
}
