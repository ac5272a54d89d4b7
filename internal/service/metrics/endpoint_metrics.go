package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	EndpointLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "patternscan",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of engine endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	EndpointErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patternscan",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by engine endpoint and error code",
		},
		[]string{"endpoint", "code"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(EndpointLatency, EndpointErrors)
	})
}
