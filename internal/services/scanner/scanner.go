// Package scanner slides a fixed-length window across a series and
// classifies every position.
package scanner

import (
	"context"
	"errors"
	"iter"
	"math"
	"sync"
	"time"

	"PatternScan/internal/domain/errs"
	"PatternScan/internal/domain/models"
	"PatternScan/internal/domain/repository"
	"PatternScan/internal/services/confidence"
	"PatternScan/internal/services/library"
	"PatternScan/internal/services/matcher"
	"PatternScan/internal/services/preprocess"
	applogger "PatternScan/pkg/logger"
)

// Dedupe selects the post-pass applied to overlapping detections.
type Dedupe string

const (
	DedupeNone Dedupe = "none"
	DedupeNMS  Dedupe = "nms"
)

// Stop reasons reported by Collect.
const (
	StopCancelled  = "cancelled"
	StopTimeout    = "timeout"
	StopMaxWindows = "max_windows"
)

// Params describe one scan.
type Params struct {
	WindowLength  int           `json:"window_length"`
	Step          int           `json:"step"`
	MinConfidence float64       `json:"min_confidence"`
	Labels        []string      `json:"labels,omitempty"`
	MaxWindows    int           `json:"max_windows,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	Workers       int           `json:"workers,omitempty"`
	Dedupe        Dedupe        `json:"dedupe,omitempty"`
	MaxOverlap    float64       `json:"max_overlap,omitempty"`
}

// Report is the materialized outcome of a scan.
type Report struct {
	Results   []models.MatchResult `json:"results"`
	Positions int                  `json:"positions"`
	Evaluated int                  `json:"evaluated"`
	Skipped   int                  `json:"skipped"`
	Retained  int                  `json:"retained"`
	Stopped   string               `json:"stopped,omitempty"`
	Duration  time.Duration        `json:"duration"`
}

type Option func(*Scanner)

func WithLogger(l *applogger.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.l = l
		}
	}
}

func WithMetrics(r repository.Metrics) Option {
	return func(s *Scanner) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithClock replaces the wall clock used for scan deadlines and durations.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

// Scanner drives a Matcher and Scorer over series windows.
type Scanner struct {
	m       *matcher.Matcher
	scorer  *confidence.Scorer
	l       *applogger.Logger
	metrics repository.Metrics
	now     func() time.Time
}

func New(m *matcher.Matcher, s *confidence.Scorer, opts ...Option) *Scanner {
	sc := &Scanner{m: m, scorer: s, l: applogger.Nop(), metrics: repository.NopMetrics{}, now: time.Now}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// Scan validates the series and parameters and returns a lazy scan. No
// window is classified until the scan is iterated or collected.
func (sc *Scanner) Scan(series models.Series, p Params) (*Scan, error) {
	const op = "scanner.scan"
	if p.Step == 0 {
		p.Step = 1
	}
	if math.IsNaN(p.MinConfidence) || p.MinConfidence < 0 || p.MinConfidence > 1 {
		return nil, errs.Configuration(op, "min_confidence must be within [0,1]").WithParam("min_confidence", p.MinConfidence)
	}
	if p.MaxWindows < 0 || p.Workers < 0 || p.Timeout < 0 {
		return nil, errs.Configuration(op, "max_windows, workers and timeout must be non-negative")
	}
	switch p.Dedupe {
	case "", DedupeNone, DedupeNMS:
	default:
		return nil, errs.Configurationf(op, "unknown dedupe policy %q", p.Dedupe).WithParam("dedupe", string(p.Dedupe))
	}
	if p.MaxOverlap < 0 || p.MaxOverlap > 1 {
		return nil, errs.Configuration(op, "max_overlap must be within [0,1]").WithParam("max_overlap", p.MaxOverlap)
	}
	offsets, err := preprocess.WindowOffsets(len(series.Bars), p.WindowLength, p.Step)
	if err != nil {
		return nil, err
	}
	if err := preprocess.ValidateBars(op, series.Bars); err != nil {
		return nil, err
	}

	var labels map[string]struct{}
	if len(p.Labels) > 0 {
		labels = make(map[string]struct{}, len(p.Labels))
		for _, l := range p.Labels {
			labels[l] = struct{}{}
		}
	}
	return &Scan{sc: sc, series: series, params: p, offsets: offsets, labels: labels}, nil
}

// Scan is a validated, restartable scan over one series.
type Scan struct {
	sc      *Scanner
	series  models.Series
	params  Params
	offsets []int
	labels  map[string]struct{}
}

// Positions returns the window start offsets in scan order.
func (s *Scan) Positions() []int { return s.offsets }

func (s *Scan) Params() Params { return s.params }

// All yields the retained results in offset order. Each call starts over.
// Degenerate windows are skipped; cancellation, the timeout and MaxWindows
// end the sequence early without an error.
func (s *Scan) All(ctx context.Context) iter.Seq2[models.MatchResult, error] {
	return func(yield func(models.MatchResult, error) bool) {
		snap, err := s.sc.m.Snapshot()
		if err != nil {
			yield(models.MatchResult{}, err)
			return
		}
		deadline := s.deadline()
		for i, off := range s.offsets {
			if s.stopReason(ctx, i, deadline) != "" {
				return
			}
			r, keep, err := s.evaluate(snap, off)
			if err != nil {
				if errors.Is(err, errs.ErrDegenerateWindow) {
					continue
				}
				yield(models.MatchResult{}, err)
				return
			}
			if keep && !yield(r, nil) {
				return
			}
		}
	}
}

// Collect evaluates the scan, in parallel when Workers > 1, and returns the
// retained results ordered by offset. Stopping early is not an error: the
// report carries what was evaluated and why it stopped.
func (s *Scan) Collect(ctx context.Context) (*Report, error) {
	start := s.sc.now()
	snap, err := s.sc.m.Snapshot()
	if err != nil {
		return nil, err
	}

	var outs []outcome
	var stopped string
	if s.params.Workers > 1 {
		outs, stopped = s.collectParallel(ctx, snap)
	} else {
		outs, stopped = s.collectSerial(ctx, snap)
	}

	rep := &Report{Positions: len(s.offsets), Stopped: stopped}
	for _, o := range outs {
		if !o.done {
			continue
		}
		if o.err != nil {
			if errors.Is(o.err, errs.ErrDegenerateWindow) {
				rep.Skipped++
				s.sc.l.Warn("skipping degenerate window",
					applogger.String("symbol", s.series.Symbol),
					applogger.Int("offset", o.offset),
				)
				continue
			}
			return nil, o.err
		}
		rep.Evaluated++
		if o.keep {
			rep.Results = append(rep.Results, o.result)
		}
	}
	if s.params.Dedupe == DedupeNMS {
		rep.Results = Suppress(rep.Results, s.params.MaxOverlap)
	}
	rep.Retained = len(rep.Results)
	rep.Duration = s.sc.now().Sub(start)

	s.sc.metrics.RecordScan(rep.Evaluated, rep.Skipped)
	for _, r := range rep.Results {
		s.sc.metrics.RecordDetection(r.Label)
	}
	s.sc.l.Info("scan finished",
		applogger.String("symbol", s.series.Symbol),
		applogger.Int("positions", rep.Positions),
		applogger.Int("evaluated", rep.Evaluated),
		applogger.Int("skipped", rep.Skipped),
		applogger.Int("retained", rep.Retained),
		applogger.String("stopped", rep.Stopped),
		applogger.Duration("duration_ms", rep.Duration),
	)
	return rep, nil
}

type outcome struct {
	offset int
	result models.MatchResult
	keep   bool
	done   bool
	err    error
}

func (s *Scan) collectSerial(ctx context.Context, snap *library.Snapshot) ([]outcome, string) {
	outs := make([]outcome, len(s.offsets))
	deadline := s.deadline()
	for i, off := range s.offsets {
		if reason := s.stopReason(ctx, i, deadline); reason != "" {
			return outs, reason
		}
		r, keep, err := s.evaluate(snap, off)
		outs[i] = outcome{offset: off, result: r, keep: keep, done: true, err: err}
		if err != nil && !errors.Is(err, errs.ErrDegenerateWindow) {
			return outs, ""
		}
	}
	return outs, ""
}

func (s *Scan) collectParallel(ctx context.Context, snap *library.Snapshot) ([]outcome, string) {
	outs := make([]outcome, len(s.offsets))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < s.params.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				off := s.offsets[i]
				r, keep, err := s.evaluate(snap, off)
				outs[i] = outcome{offset: off, result: r, keep: keep, done: true, err: err}
			}
		}()
	}

	stopped := ""
	deadline := s.deadline()
	for i := range s.offsets {
		if reason := s.stopReason(ctx, i, deadline); reason != "" {
			stopped = reason
			break
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return outs, stopped
}

func (s *Scan) deadline() time.Time {
	if s.params.Timeout <= 0 {
		return time.Time{}
	}
	return s.sc.now().Add(s.params.Timeout)
}

// stopReason is checked before position i is evaluated.
func (s *Scan) stopReason(ctx context.Context, i int, deadline time.Time) string {
	switch {
	case ctx.Err() != nil:
		return StopCancelled
	case !deadline.IsZero() && s.sc.now().After(deadline):
		return StopTimeout
	case s.params.MaxWindows > 0 && i >= s.params.MaxWindows:
		return StopMaxWindows
	}
	return ""
}

// evaluate classifies the window at off and reports whether it passes the
// confidence threshold and label filter.
func (s *Scan) evaluate(snap *library.Snapshot, off int) (models.MatchResult, bool, error) {
	w := s.series.Slice(off, s.params.WindowLength)
	rep, err := s.sc.m.Library().Preprocessor().Transform(w)
	if err != nil {
		return models.MatchResult{}, false, err
	}
	k := s.sc.m.Options().K
	res, err := s.sc.m.ClassifyRepresentation(snap, rep, k)
	if err != nil {
		return models.MatchResult{}, false, err
	}
	r := Result(res, s.sc.scorer, k, s.params.MinConfidence)
	r.Offset = off
	r.Length = len(w)
	r.StartTime = w.Start()
	r.EndTime = w.End()

	keep := r.Passed
	if keep && s.labels != nil {
		_, keep = s.labels[r.Label]
	}
	return r, keep, nil
}

// Result scores a matcher result into a MatchResult against threshold.
func Result(res *matcher.Result, scorer *confidence.Scorer, k int, threshold float64) models.MatchResult {
	sub, c := scorer.Score(res, k)
	return models.MatchResult{
		Label:       res.Label,
		Distance:    res.Nearest,
		AvgDistance: res.AvgDistance(),
		Neighbors:   res.Neighbors,
		Votes:       res.Votes,
		Scores:      sub,
		Confidence:  c,
		Threshold:   threshold,
		Passed:      c >= threshold,
		Stats:       res.Stats,
	}
}
