package repository

import (
	"context"
	"time"

	"PatternScan/internal/domain/models"
)

// LibraryStore persists the template set as an opaque blob. The index is
// never stored; callers rebuild it after Load.
type LibraryStore interface {
	Save(ctx context.Context, patterns []*models.Pattern) error
	Load(ctx context.Context) ([]*models.Pattern, error)
}

// SeriesStore provides read-only access to OHLCV bars for scans and labeling.
type SeriesStore interface {
	GetBars(ctx context.Context, symbol string, from, to time.Time, tf Timeframe) ([]models.Bar, error)
	GetLatestBars(ctx context.Context, symbol string, n int, tf Timeframe) ([]models.Bar, error)
}

// SeriesWriter stores OHLCV bars so later scans can read them.
type SeriesWriter interface {
	InsertBars(ctx context.Context, symbol string, tf Timeframe, bars []models.Bar) error
}

// DetectionPublisher ships scan detections downstream.
type DetectionPublisher interface {
	PublishDetections(ctx context.Context, detections []models.Detection) error
	Close() error
}

// Metrics receives engine telemetry.
type Metrics interface {
	RecordClassify(seconds float64, stats models.SearchStats)
	RecordScan(windows, skipped int)
	RecordDetection(label string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	SetLibrarySize(n int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordClassify(float64, models.SearchStats) {}
func (NopMetrics) RecordScan(int, int)                        {}
func (NopMetrics) RecordDetection(string)                     {}
func (NopMetrics) RecordError(string)                         {}
func (NopMetrics) RecordLatency(string, float64)              {}
func (NopMetrics) SetLibrarySize(int)                         {}
