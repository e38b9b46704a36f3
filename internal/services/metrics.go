package services

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_outcomes_total",
			Help: "Provider outcomes handled by the ledger reconciler, by result.",
		},
		[]string{"result"},
	)
	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Payout sweeper runs, by result.",
		},
		[]string{"result"},
	)
	sweepItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_items_total",
			Help: "Withdrawals examined by the payout sweeper, by status.",
		},
		[]string{"status"},
	)
	webhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Provider callbacks handled, by kind and result.",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(reconcileOutcomes, sweepRuns, sweepItems, webhookRequests)
}
