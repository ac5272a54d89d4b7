package metrics

import (
	"PatternScan/internal/domain/models"
	"PatternScan/internal/domain/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "patternscan"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	classifyDuration prometheus.Histogram
	pruned           prometheus.Counter
	dtwComputations  prometheus.Counter
	abandoned        prometheus.Counter
	scanWindows      *prometheus.CounterVec
	detections       *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	libraryPatterns  prometheus.Gauge
	latency          *prometheus.HistogramVec
}

var _ repository.Metrics = (*Recorder)(nil)

// New creates a recorder registered with the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered with reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		classifyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classify_duration_seconds",
			Help:      "Duration of single-window classification",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		pruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_pruned_total",
			Help:      "Templates skipped by the lower bound without exact DTW",
		}),
		dtwComputations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dtw_computations_total",
			Help:      "Exact DTW computations started",
		}),
		abandoned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dtw_abandoned_total",
			Help:      "Exact DTW computations abandoned early",
		}),
		scanWindows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_windows_total",
			Help:      "Window positions visited by scans",
		}, []string{"result"}),
		detections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Scan results retained above the confidence threshold",
		}, []string{"label"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors encountered",
		}, []string{"kind"}),
		libraryPatterns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "library_patterns",
			Help:      "Templates in the library, mirrors included",
		}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// RecordClassify records one classification and its search work.
func (r *Recorder) RecordClassify(seconds float64, stats models.SearchStats) {
	r.classifyDuration.Observe(seconds)
	r.pruned.Add(float64(stats.Pruned))
	r.dtwComputations.Add(float64(stats.Exact))
	r.abandoned.Add(float64(stats.Abandoned))
}

// RecordScan records evaluated and skipped window counts.
func (r *Recorder) RecordScan(windows, skipped int) {
	r.scanWindows.WithLabelValues("evaluated").Add(float64(windows))
	r.scanWindows.WithLabelValues("skipped").Add(float64(skipped))
}

func (r *Recorder) RecordDetection(label string) {
	r.detections.WithLabelValues(label).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) SetLibrarySize(n int) {
	r.libraryPatterns.Set(float64(n))
}
