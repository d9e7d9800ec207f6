package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	emittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalmesh",
		Subsystem: "hub",
		Name:      "events_emitted_total",
		Help:      "Events emitted on the bus.",
	}, []string{"type", "priority"})

	dispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalmesh",
		Subsystem: "hub",
		Name:      "events_dispatched_total",
		Help:      "Events delivered to subscribers.",
	}, []string{"type"})
)
