package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	StageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finfeat",
			Subsystem: "pipeline",
			Name:      "stage_seconds",
			Help:      "Latency of each feature pipeline stage",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"stage"},
	)

	StageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finfeat",
			Subsystem: "pipeline",
			Name:      "stage_errors_total",
			Help:      "Failures by feature pipeline stage",
		},
		[]string{"stage"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(StageLatency, StageErrors)
	})
}

// ObserveStage matches features.StageObserver.
func ObserveStage(stage string, elapsed time.Duration, err error) {
	StageLatency.WithLabelValues(stage).Observe(elapsed.Seconds())
	if err != nil {
		StageErrors.WithLabelValues(stage).Inc()
	}
}
