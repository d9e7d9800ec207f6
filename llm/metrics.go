package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalmesh_llm_requests_total",
		Help: "LLM requests by provider and outcome (ok or error class).",
	}, []string{"provider", "outcome"})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalmesh_llm_tokens_total",
		Help: "Total tokens consumed by provider.",
	}, []string{"provider"})
)
