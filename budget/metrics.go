package budget

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "signalmesh_budget_tokens_used_total",
	Help: "Tokens recorded against the daily budget, by provider.",
}, []string{"provider"})
