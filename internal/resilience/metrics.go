package resilience

import "github.com/prometheus/client_golang/prometheus"

// Breaker collectors, labelled by gateway target.
var (
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_breaker_state",
		Help: "Breaker state per gateway (0 closed, 1 open, 2 half open).",
	}, []string{"target"})

	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_breaker_transition_total",
		Help: "Breaker state changes per gateway.",
	}, []string{"target", "from", "to"})

	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_breaker_open_total",
		Help: "Times a gateway breaker opened.",
	}, []string{"target"})
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal)
}
