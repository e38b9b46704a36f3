package idempotency

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// idemRuns counts RunExclusive calls by how they resolved.
var idemRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "idempotency_runs_total",
		Help: "RunExclusive calls by result (executed, replayed, in_flight, failed).",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(idemRuns)
}

func observeRun(res Result, err error) {
	switch {
	case errors.Is(err, ErrInFlight):
		idemRuns.WithLabelValues("in_flight").Inc()
	case err != nil:
		idemRuns.WithLabelValues("failed").Inc()
	case res.Replayed:
		idemRuns.WithLabelValues("replayed").Inc()
	default:
		idemRuns.WithLabelValues("executed").Inc()
	}
}
