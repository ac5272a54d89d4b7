package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"PatternScan/internal/domain/errs"
	applogger "PatternScan/pkg/logger"
	"PatternScan/pkg/queue"
)

// ScanJobType is the queue message type of an asynchronous symbol scan.
const ScanJobType = "patternscan.scan_symbol"

// ScanJob runs queued symbol scans and publishes their detections.
type ScanJob struct {
	engine *PatternEngine
	l      *applogger.Logger
}

var _ queue.Job = (*ScanJob)(nil)

func NewScanJob(engine *PatternEngine, l *applogger.Logger) *ScanJob {
	if l == nil {
		l = applogger.Nop()
	}
	return &ScanJob{engine: engine, l: l}
}

func (j *ScanJob) Name() string { return "scan_symbol" }

func (j *ScanJob) Type() string { return ScanJobType }

// ScanJobResult is the summary stored with a finished job. Detections
// themselves go to the detection publisher.
type ScanJobResult struct {
	ScanID    string `json:"scan_id"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Positions int    `json:"positions"`
	Retained  int    `json:"retained"`
	Published int    `json:"published"`
	Stopped   string `json:"stopped,omitempty"`
}

func (j *ScanJob) Handle(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	p, err := queue.ParsePayload[ScanSymbolParams](payload)
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	p.Publish = true
	res, err := j.engine.ScanSymbol(ctx, *p)
	if err != nil {
		return nil, err
	}
	j.l.Info("scan job finished",
		applogger.String("scan_id", res.ScanID),
		applogger.String("symbol", res.Symbol),
		applogger.Int("retained", res.Report.Retained),
		applogger.Int("published", res.Published),
		applogger.String("stopped", res.Report.Stopped),
	)
	return ScanJobResult{
		ScanID:    res.ScanID,
		Symbol:    res.Symbol,
		Timeframe: res.Timeframe,
		Positions: res.Report.Positions,
		Retained:  res.Report.Retained,
		Published: res.Published,
		Stopped:   res.Report.Stopped,
	}, nil
}

// JobQueue is the queue surface the scheduler needs.
type JobQueue interface {
	queue.Publisher
	queue.Tracker
}

// ScanScheduler enqueues symbol scans for a ScanJob worker and reports
// their progress.
type ScanScheduler struct {
	q JobQueue
}

func NewScanScheduler(q JobQueue) *ScanScheduler {
	return &ScanScheduler{q: q}
}

// Enqueue validates the request shape, queues it and returns the job id.
func (s *ScanScheduler) Enqueue(ctx context.Context, p ScanSymbolParams) (string, error) {
	const op = "engine.enqueue_scan"
	if p.Symbol == "" {
		return "", errs.InvalidWindow(op, "symbol required")
	}
	if p.Params.WindowLength < 2 {
		return "", errs.InvalidWindow(op, "window_length must be at least 2").WithParam("window_length", p.Params.WindowLength)
	}
	if s.q == nil {
		return "", errs.Configuration(op, "scan queue not configured")
	}
	id, err := s.q.Enqueue(ctx, ScanJobType, p)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// Status returns the state of a queued scan.
func (s *ScanScheduler) Status(ctx context.Context, id string) (*queue.Status, error) {
	const op = "engine.scan_status"
	if s.q == nil {
		return nil, errs.Configuration(op, "scan queue not configured")
	}
	missing := errs.Newf(errs.ErrNotFound, op, "scan job %q not found", id).WithParam("id", id)
	st, err := s.q.Status(ctx, id)
	if errors.Is(err, queue.ErrStatusNotFound) {
		return nil, missing
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if st.Type != ScanJobType {
		return nil, missing
	}
	return st, nil
}
