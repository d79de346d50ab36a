package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks requests answered from an existing entry by state
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_cache_hits_total",
			Help: "Total number of month requests served from an existing entry",
		},
		[]string{"state"}, // "pending", "completed", "updating"
	)

	// CacheMisses tracks requests that found no entry or a stale one
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calendar_cache_misses_total",
			Help: "Total number of month requests that triggered an update",
		},
	)

	// CacheCoalesced tracks Update calls that joined an in-flight computation
	CacheCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calendar_cache_coalesced_total",
			Help: "Total number of updates that joined an in-flight computation",
		},
	)

	// CacheUpdates tracks finished computations by result
	CacheUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_cache_updates_total",
			Help: "Total number of month computations by result",
		},
		[]string{"result"}, // "success", "failure", "rejected"
	)

	// CacheUpdateDuration tracks how long computations take
	CacheUpdateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "calendar_cache_update_duration_seconds",
			Help:    "Duration of month computations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CacheEntries tracks the number of months held by the engine
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calendar_cache_entries",
			Help: "Current number of months held in the cache",
		},
	)
)
