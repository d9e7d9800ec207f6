package route

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalmesh_route_executions_total",
		Help: "Adapter calls by platform, action, and outcome.",
	}, []string{"platform", "action", "outcome"})

	executionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signalmesh_route_execution_duration_seconds",
		Help:    "Adapter call duration by platform.",
		Buckets: prometheus.DefBuckets,
	}, []string{"platform"})
)
