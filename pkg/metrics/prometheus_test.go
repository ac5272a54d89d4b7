package metrics

import (
	"testing"

	"PatternScan/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegistry(reg)

	r.RecordClassify(0.002, models.SearchStats{Templates: 10, Exact: 4, Pruned: 6, Abandoned: 1})
	r.RecordClassify(0.003, models.SearchStats{Templates: 10, Exact: 10})
	assert.Equal(t, 6.0, testutil.ToFloat64(r.pruned))
	assert.Equal(t, 14.0, testutil.ToFloat64(r.dtwComputations))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.abandoned))

	r.RecordScan(91, 3)
	assert.Equal(t, 91.0, testutil.ToFloat64(r.scanWindows.WithLabelValues("evaluated")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.scanWindows.WithLabelValues("skipped")))

	r.RecordDetection("double_top")
	r.RecordDetection("double_top")
	assert.Equal(t, 2.0, testutil.ToFloat64(r.detections.WithLabelValues("double_top")))

	r.RecordError("empty_library")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("empty_library")))

	r.SetLibrarySize(12)
	assert.Equal(t, 12.0, testutil.ToFloat64(r.libraryPatterns))

	r.RecordLatency("scan", 0.5)
	assert.Equal(t, 1, testutil.CollectAndCount(r.latency))
}
