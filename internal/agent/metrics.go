package agent

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors the scheduler updates over the
// course of a run: round count, tool dispatch latency, cache hit ratio, and
// eviction bytes freed (SPEC_FULL.md §3 "Metrics"). A nil *Metrics on
// Scheduler disables all of this — metrics are an optional observer, never
// a required collaborator.
type Metrics struct {
	Rounds         prometheus.Counter
	ToolLatency    prometheus.Histogram
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	EvictionsFreed prometheus.Counter
}

// NewMetrics registers a fresh set of collectors against reg. Passing a
// dedicated *prometheus.Registry (rather than the global default) keeps
// metrics scoped per-harness-instance, matching the constructor-injection
// discipline the rest of this package follows for its collaborators.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harness_rounds_total",
			Help: "Total scheduler rounds executed.",
		}),
		ToolLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harness_tool_dispatch_seconds",
			Help:    "Tool execution latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harness_tool_cache_hits_total",
			Help: "Tool cache lookups that hit.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harness_tool_cache_misses_total",
			Help: "Tool cache lookups that missed.",
		}),
		EvictionsFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harness_eviction_chars_freed_total",
			Help: "Characters freed by tool-result eviction.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Rounds, m.ToolLatency, m.CacheHits, m.CacheMisses, m.EvictionsFreed)
	}
	return m
}
