package gateway

import "github.com/prometheus/client_golang/prometheus"

// tokenFetches counts auth grant attempts by grant type and result.
var tokenFetches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_token_fetch_total",
		Help: "Auth grant calls to the payout provider by grant and result.",
	},
	[]string{"grant", "result"},
)

func init() {
	prometheus.MustRegister(tokenFetches)
}

func observeGrant(grant string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	tokenFetches.WithLabelValues(grant, result).Inc()
}
