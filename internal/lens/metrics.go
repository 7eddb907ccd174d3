package lens

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// lensDuration tracks how long each lens ran, successful or not.
	lensDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lensrev_lens_duration_seconds",
		Help:    "Lens run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	}, []string{"lens"})

	// lensOutcomes counts lens runs by result ("ok" or an error code).
	lensOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lensrev_lens_outcomes_total",
		Help: "Total lens runs by lens and result",
	}, []string{"lens", "result"})

	orchestrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lensrev_orchestrations_total",
		Help: "Total orchestration runs by result",
	}, []string{"result"})
)

func observeLens(id string, d time.Duration, result string) {
	lensDuration.WithLabelValues(id).Observe(d.Seconds())
	lensOutcomes.WithLabelValues(id, result).Inc()
}
