package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erpsync",
			Name:      "sync_jobs_total",
			Help:      "Sync jobs by module and outcome.",
		},
		[]string{"module", "outcome"},
	)

	jobsDeadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erpsync",
			Name:      "dead_lettered_jobs_total",
			Help:      "Jobs that exhausted all retry attempts.",
		},
		[]string{"module"},
	)

	cacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erpsync",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result.",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erpsync",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(jobsProcessed, jobsDeadLettered, cacheOps, httpRequests)
	})
}

// IncJobProcessed increments the job counter for a module and outcome.
func IncJobProcessed(module, outcome string) {
	jobsProcessed.WithLabelValues(module, outcome).Inc()
}

// IncJobDeadLettered increments the dead-letter counter for a module.
func IncJobDeadLettered(module string) {
	jobsDeadLettered.WithLabelValues(module).Inc()
}

// IncCacheLookup increments the cache counter for "hit" or "miss".
func IncCacheLookup(result string) {
	cacheOps.WithLabelValues(result).Inc()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
