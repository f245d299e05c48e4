package tokencache

import "github.com/prometheus/client_golang/prometheus"

var refreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{Namespace: "grc", Name: "token_refresh_total", Help: "Access token refreshes by outcome"},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(refreshTotal)
}
