package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aggregation_cache_total",
		Help: "Aggregation cache lookups by metric and result",
	}, []string{"metric", "result"})

	aggregationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aggregation_duration_seconds",
		Help:    "Time spent fetching and aggregating samples on a cache miss",
		Buckets: prometheus.DefBuckets,
	}, []string{"metric", "strategy"})

	samplesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "samples_processed_total",
		Help: "Total number of samples aggregated",
	})

	upstreamFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upstream_failures_total",
		Help: "Total number of failed reading store calls",
	})
)
