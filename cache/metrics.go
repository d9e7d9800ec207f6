package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalmesh_cache_hits_total",
		Help: "Cache hits by response type.",
	}, []string{"type"})

	missesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signalmesh_cache_misses_total",
		Help: "Cache misses.",
	})

	invalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalmesh_cache_invalidations_total",
		Help: "Entries invalidated, by cause.",
	}, []string{"cause"})
)
