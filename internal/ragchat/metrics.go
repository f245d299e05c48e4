package ragchat

import "github.com/prometheus/client_golang/prometheus"

var (
	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "grc",
			Name:      "chat_upstream_duration_seconds",
			Help:      "Duration of calls to the RAG chat API",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"outcome"},
	)
	upstreamTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "grc", Name: "chat_upstream_total", Help: "Calls to the RAG chat API by outcome"},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(upstreamDuration, upstreamTotal)
}
