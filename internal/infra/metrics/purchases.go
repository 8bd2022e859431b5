package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		checkoutsTotal,
		transitionsTotal,
		confirmationsTotal,
		conflictsTotal,
		staleEvidenceTotal,
		pollCutoffsTotal,
		revenueTotal,
		purchasesExpiredTotal,
	)
}

var (
	checkoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkouts_total",
			Help: "Checkout sessions begun, by gateway and checkout type.",
		},
		[]string{"gateway", "type"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_transitions_total",
			Help: "Purchase status transitions, by target status.",
		},
		[]string{"to"},
	)

	confirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confirmations_total",
			Help: "Confirmation evidence applied, by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	conflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "confirmation_conflicts_total",
			Help: "Evidence rejected as conflicting and left for manual reconciliation.",
		},
	)

	staleEvidenceTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stale_evidence_total",
			Help: "Duplicate evidence safely ignored by the idempotency rule.",
		},
	)

	pollCutoffsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "status_poll_cutoffs_total",
			Help: "Confirmation views that hit the maximum refresh count.",
		},
	)

	revenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_revenue_total",
			Help: "Total monetary value of activated purchases, by gateway.",
		},
		[]string{"gateway"},
	)

	purchasesExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "purchases_expired_total",
			Help: "Active purchases moved to expired by the sweep.",
		},
	)
)

func IncCheckout(gateway, checkoutType string) {
	checkoutsTotal.WithLabelValues(gateway, checkoutType).Inc()
}

func IncTransition(to string) { transitionsTotal.WithLabelValues(to).Inc() }

func IncConfirmation(source, outcome string) {
	confirmationsTotal.WithLabelValues(source, outcome).Inc()
}

func IncConflict() { conflictsTotal.Inc() }

func IncStaleEvidence() { staleEvidenceTotal.Inc() }

func IncPollCutoff() { pollCutoffsTotal.Inc() }

func AddRevenue(gateway string, amount int64) { revenueTotal.WithLabelValues(gateway).Add(float64(amount)) }

func IncPurchasesExpired(n int) { purchasesExpiredTotal.Add(float64(n)) }
