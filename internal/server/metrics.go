package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the instrumentation of the fit endpoint.
type metrics struct {
	fits       *prometheus.CounterVec
	duration   prometheus.Histogram
	iterations prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		fits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lmsolve",
			Name:      "fits_total",
			Help:      "Fit requests by model and outcome.",
		}, []string{"model", "status"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lmsolve",
			Name:      "fit_duration_seconds",
			Help:      "Wall time of completed fits.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lmsolve",
			Name:      "fit_iterations",
			Help:      "Outer Levenberg-Marquardt iterations per completed fit.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}
