package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routing_cache_hits_total",
		Help: "Total decision cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routing_cache_misses_total",
		Help: "Total decision cache misses",
	})

	degradedDecisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routing_degraded_decisions_total",
		Help: "Decisions served from the last-known-good fallback after a budget overrun",
	})

	safetyVetoes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routing_safety_vetoes_total",
		Help: "Candidate selections vetoed by the safety gate",
	})

	escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routing_cloud_escalations_total",
		Help: "Cloud escalation attempts by result",
	}, []string{"result"})
)
