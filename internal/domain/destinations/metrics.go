package destinations

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// refreshTotal counts refresh cycles by outcome
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "destinations_refresh_total",
		Help: "Total hierarchy refreshes by outcome",
	}, []string{"outcome"}) // applied_remote, applied_seed, retained, superseded, cancelled

	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "destinations_refresh_duration_seconds",
		Help:    "Duration of fetch-and-build cycles in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	recordsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "destinations_records_rejected_total",
		Help: "Total store records rejected by the normalizer",
	})

	placesExcluded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "destinations_places_excluded_total",
		Help: "Total places left out of the hierarchy for lacking a state",
	})

	patchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "destinations_patch_total",
		Help: "Total targeted hierarchy patches by operation and result",
	}, []string{"operation", "result"})

	filterCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "destinations_filter_cache_requests_total",
		Help: "Filter memo lookups by result",
	}, []string{"result"}) // hit or miss
)
