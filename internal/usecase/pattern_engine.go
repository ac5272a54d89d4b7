package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"PatternScan/internal/domain/errs"
	"PatternScan/internal/domain/models"
	domrepo "PatternScan/internal/domain/repository"
	"PatternScan/internal/services/confidence"
	"PatternScan/internal/services/library"
	"PatternScan/internal/services/matcher"
	"PatternScan/internal/services/preprocess"
	"PatternScan/internal/services/scanner"
	"PatternScan/internal/services/validation"
	applogger "PatternScan/pkg/logger"

	"github.com/google/uuid"
)

// maxSeriesBars caps how much history one scan or labeling request may pull.
const maxSeriesBars = 50000

// EngineDefaults fill request fields the caller leaves unset.
type EngineDefaults struct {
	MinConfidence float64
	Scan          scanner.Params
	Thresholds    []float64
	Objective     validation.Objective
}

// PatternEngine is the owned context every engine operation runs against.
type PatternEngine struct {
	lib     *library.Library
	m       *matcher.Matcher
	scorer  *confidence.Scorer
	sc      *scanner.Scanner
	v       *validation.Validator
	store   domrepo.LibraryStore
	series  domrepo.SeriesStore
	writer  domrepo.SeriesWriter
	pub     domrepo.DetectionPublisher
	metrics domrepo.Metrics
	l       *applogger.Logger
	def     EngineDefaults
}

// EngineDeps are the collaborators of a PatternEngine. Series, Writer and
// Publisher may be nil when the deployment has no market data store or
// downstream topic.
type EngineDeps struct {
	Library   *library.Library
	Matcher   *matcher.Matcher
	Scorer    *confidence.Scorer
	Scanner   *scanner.Scanner
	Validator *validation.Validator
	Store     domrepo.LibraryStore
	Series    domrepo.SeriesStore
	Writer    domrepo.SeriesWriter
	Publisher domrepo.DetectionPublisher
	Metrics   domrepo.Metrics
	Logger    *applogger.Logger
}

func NewPatternEngine(d EngineDeps, def EngineDefaults) *PatternEngine {
	e := &PatternEngine{
		lib:     d.Library,
		m:       d.Matcher,
		scorer:  d.Scorer,
		sc:      d.Scanner,
		v:       d.Validator,
		store:   d.Store,
		series:  d.Series,
		writer:  d.Writer,
		pub:     d.Publisher,
		metrics: d.Metrics,
		l:       d.Logger,
		def:     def,
	}
	if e.metrics == nil {
		e.metrics = domrepo.NopMetrics{}
	}
	if e.l == nil {
		e.l = applogger.Nop()
	}
	if len(e.def.Thresholds) == 0 {
		e.def.Thresholds = validation.DefaultThresholds
	}
	if e.def.Objective == "" {
		e.def.Objective = validation.F1
	}
	return e
}

// Library exposes the owned library.
func (e *PatternEngine) Library() *library.Library { return e.lib }

// Defaults returns the request defaults.
func (e *PatternEngine) Defaults() EngineDefaults { return e.def }

// AddPatternParams describe a labeled window. The bars come either from the
// request or from the series store (Symbol, Timeframe, From, To); Offset and
// Length then cut the template out of the fetched history.
type AddPatternParams struct {
	ID        string
	Label     string
	Bars      []models.Bar
	Symbol    string
	Timeframe domrepo.Timeframe
	From      time.Time
	To        time.Time
	Offset    int
	Length    int
}

func (e *PatternEngine) AddPattern(ctx context.Context, p AddPatternParams) (_ *models.Pattern, err error) {
	const op = "engine.add_pattern"
	defer e.observe(op, time.Now(), &err)

	bars := p.Bars
	prov := models.Provenance{SeriesID: p.Symbol, Timeframe: string(p.Timeframe), Offset: p.Offset}
	if len(bars) == 0 {
		if p.Symbol == "" {
			return nil, errs.InvalidWindow(op, "bars or symbol required")
		}
		bars, err = e.fetch(ctx, op, p.Symbol, p.Timeframe, p.From, p.To)
		if err != nil {
			return nil, err
		}
	}
	w := models.Window(bars)
	if p.Length > 0 {
		if w, err = preprocess.ExtractFixed(bars, p.Offset, p.Length); err != nil {
			return nil, err
		}
	} else {
		prov.Offset = 0
	}

	pat, err := e.lib.AddWindow(library.PatternSpec{
		ID:         p.ID,
		Label:      strings.TrimSpace(p.Label),
		Window:     w,
		Provenance: prov,
	})
	if err != nil {
		return nil, err
	}
	e.metrics.SetLibrarySize(e.lib.Len())
	e.l.Info("pattern added",
		applogger.String("id", pat.ID),
		applogger.String("label", pat.Label),
		applogger.Int("bars", pat.Len()),
		applogger.Float64("quality", pat.Quality),
	)
	return pat, nil
}

// DeletePattern removes a template. Its mirror, if any, stays.
func (e *PatternEngine) DeletePattern(id string) (err error) {
	defer e.observe("engine.delete_pattern", time.Now(), &err)
	if err = e.lib.Delete(id); err != nil {
		return err
	}
	e.metrics.SetLibrarySize(e.lib.Len())
	return nil
}

func (e *PatternEngine) GetPattern(id string) (*models.Pattern, error) {
	return e.lib.Get(id)
}

func (e *PatternEngine) ListPatterns(labels ...string) []*models.Pattern {
	return e.lib.List(labels...)
}

func (e *PatternEngine) Augment() (n int, err error) {
	defer e.observe("engine.augment", time.Now(), &err)
	if n, err = e.lib.Augment(); err != nil {
		return 0, err
	}
	e.metrics.SetLibrarySize(e.lib.Len())
	return n, nil
}

// IndexInfo summarizes a built index.
type IndexInfo struct {
	Version    uint64  `json:"version"`
	Templates  int     `json:"templates"`
	Variant    string  `json:"variant"`
	Constraint string  `json:"constraint"`
	Window     float64 `json:"window"`
}

// BuildIndex builds the lower-bound index under the matcher's DTW options.
func (e *PatternEngine) BuildIndex() (_ *IndexInfo, err error) {
	defer e.observe("engine.build_index", time.Now(), &err)
	o := e.m.Options().DTW
	ix, err := e.lib.BuildIndex(o)
	if err != nil {
		return nil, err
	}
	return &IndexInfo{
		Version:    ix.Version,
		Templates:  ix.Len(),
		Variant:    string(o.Variant),
		Constraint: string(o.Constraint),
		Window:     o.Window,
	}, nil
}

func (e *PatternEngine) Quality(id string) (float64, error) {
	return e.lib.Quality(id)
}

// Classify scores one window. A nil threshold uses the configured minimum.
func (e *PatternEngine) Classify(ctx context.Context, bars []models.Bar, threshold *float64) (_ *models.MatchResult, err error) {
	const op = "engine.classify"
	defer e.observe(op, time.Now(), &err)

	t, err := e.threshold(op, threshold)
	if err != nil {
		return nil, err
	}
	w := models.Window(bars)
	res, err := e.m.Classify(ctx, w)
	if err != nil {
		return nil, err
	}
	r := scanner.Result(res, e.scorer, e.m.Options().K, t)
	r.Length = len(w)
	r.StartTime = w.Start()
	r.EndTime = w.End()
	return &r, nil
}

// ScanParams describe a scan over bars in the request. Zero fields of the
// scanner params take the configured defaults. MinConfidence and MaxOverlap
// override the params when set, so an explicit zero is kept.
type ScanParams struct {
	Symbol        string
	Timeframe     domrepo.Timeframe
	Bars          []models.Bar
	Params        scanner.Params
	MinConfidence *float64
	MaxOverlap    *float64
	Publish       bool
}

// ScanResult is a scan report tagged with the id its detections carry.
type ScanResult struct {
	ScanID    string          `json:"scan_id"`
	Symbol    string          `json:"symbol,omitempty"`
	Timeframe string          `json:"timeframe,omitempty"`
	Report    *scanner.Report `json:"report"`
	Published int             `json:"published"`
}

func (e *PatternEngine) Scan(ctx context.Context, p ScanParams) (_ *ScanResult, err error) {
	const op = "engine.scan"
	defer e.observe(op, time.Now(), &err)

	params, err := e.scanParams(op, p.Params, p.MinConfidence, p.MaxOverlap)
	if err != nil {
		return nil, err
	}
	series := models.Series{Symbol: p.Symbol, Timeframe: string(p.Timeframe), Bars: p.Bars}
	s, err := e.sc.Scan(series, params)
	if err != nil {
		return nil, err
	}
	rep, err := s.Collect(ctx)
	if err != nil {
		return nil, err
	}

	out := &ScanResult{ScanID: uuid.NewString(), Symbol: p.Symbol, Timeframe: string(p.Timeframe), Report: rep}
	if p.Publish && e.pub != nil && len(rep.Results) > 0 {
		dets := make([]models.Detection, len(rep.Results))
		for i, r := range rep.Results {
			dets[i] = models.Detection{Symbol: p.Symbol, Timeframe: string(p.Timeframe), ScanID: out.ScanID, Result: r}
		}
		if err := e.pub.PublishDetections(ctx, dets); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out.Published = len(dets)
	}
	return out, nil
}

// ScanSymbolParams describe a scan over stored history. When Last is set the
// most recent Last bars are used instead of the From/To range.
type ScanSymbolParams struct {
	Symbol        string            `json:"symbol"`
	Timeframe     domrepo.Timeframe `json:"timeframe"`
	From          time.Time         `json:"from"`
	To            time.Time         `json:"to"`
	Last          int               `json:"last,omitempty"`
	Params        scanner.Params    `json:"params"`
	MinConfidence *float64          `json:"min_confidence,omitempty"`
	MaxOverlap    *float64          `json:"max_overlap,omitempty"`
	Publish       bool              `json:"publish"`
}

func (e *PatternEngine) ScanSymbol(ctx context.Context, p ScanSymbolParams) (*ScanResult, error) {
	const op = "engine.scan_symbol"
	if p.Symbol == "" {
		return nil, errs.InvalidWindow(op, "symbol required")
	}
	tf := domrepo.NormalizeTimeframe(string(p.Timeframe))
	var (
		bars []models.Bar
		err  error
	)
	if p.Last > 0 {
		bars, err = e.fetchLatest(ctx, op, p.Symbol, tf, p.Last)
	} else {
		bars, err = e.fetch(ctx, op, p.Symbol, tf, p.From, p.To)
	}
	if err != nil {
		e.metrics.RecordError(errs.Code(err))
		return nil, err
	}
	return e.Scan(ctx, ScanParams{
		Symbol:        p.Symbol,
		Timeframe:     tf,
		Bars:          bars,
		Params:        p.Params,
		MinConfidence: p.MinConfidence,
		MaxOverlap:    p.MaxOverlap,
		Publish:       p.Publish,
	})
}

// CrossValidate evaluates the library against itself. A nil threshold uses
// the configured minimum.
func (e *PatternEngine) CrossValidate(ctx context.Context, threshold *float64) (_ *validation.Report, err error) {
	const op = "engine.cross_validate"
	defer e.observe(op, time.Now(), &err)
	t, err := e.threshold(op, threshold)
	if err != nil {
		return nil, err
	}
	return e.v.Run(ctx, t)
}

// Sweep tunes the threshold over thresholds, or the configured grid when
// empty.
func (e *PatternEngine) Sweep(ctx context.Context, thresholds []float64, objective validation.Objective) (_ *validation.SweepReport, err error) {
	defer e.observe("engine.sweep", time.Now(), &err)
	if len(thresholds) == 0 {
		thresholds = e.def.Thresholds
	}
	if objective == "" {
		objective = e.def.Objective
	}
	return e.v.Sweep(ctx, thresholds, objective)
}

// Load replaces the library with the stored one and rebuilds the index.
func (e *PatternEngine) Load(ctx context.Context) (n int, err error) {
	defer e.observe("engine.load", time.Now(), &err)
	patterns, err := e.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	if err := e.lib.Replace(patterns); err != nil {
		return 0, err
	}
	if e.lib.Len() > 0 {
		if _, err := e.lib.BuildIndex(e.m.Options().DTW); err != nil {
			return 0, err
		}
	}
	e.metrics.SetLibrarySize(e.lib.Len())
	return e.lib.Len(), nil
}

// Save persists the current templates, mirrors included.
func (e *PatternEngine) Save(ctx context.Context) (n int, err error) {
	defer e.observe("engine.save", time.Now(), &err)
	patterns := e.lib.Snapshot().Patterns()
	if err := e.store.Save(ctx, patterns); err != nil {
		return 0, err
	}
	return len(patterns), nil
}

// IngestBars stores bars for later scans and labeling.
func (e *PatternEngine) IngestBars(ctx context.Context, symbol string, tf domrepo.Timeframe, bars []models.Bar) (err error) {
	const op = "engine.ingest_bars"
	defer e.observe(op, time.Now(), &err)
	if e.writer == nil {
		return errs.Configuration(op, "no series store configured")
	}
	if symbol == "" {
		return errs.InvalidWindow(op, "symbol required")
	}
	if err := preprocess.ValidateBars(op, bars); err != nil {
		return err
	}
	return e.writer.InsertBars(ctx, symbol, domrepo.NormalizeTimeframe(string(tf)), bars)
}

func (e *PatternEngine) fetch(ctx context.Context, op, symbol string, tf domrepo.Timeframe, from, to time.Time) ([]models.Bar, error) {
	if e.series == nil {
		return nil, errs.Configuration(op, "no series store configured")
	}
	if from.IsZero() || to.IsZero() || from.After(to) {
		return nil, errs.InvalidWindow(op, "from and to must be set with from <= to").
			WithParam("from", from).
			WithParam("to", to)
	}
	bars, err := e.series.GetBars(ctx, symbol, from, to, domrepo.NormalizeTimeframe(string(tf)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(bars) > maxSeriesBars {
		return nil, errs.InvalidWindow(op, "range holds more bars than one request may load").
			WithParam("bars", len(bars)).
			WithParam("limit", maxSeriesBars)
	}
	return bars, nil
}

func (e *PatternEngine) fetchLatest(ctx context.Context, op, symbol string, tf domrepo.Timeframe, n int) ([]models.Bar, error) {
	if e.series == nil {
		return nil, errs.Configuration(op, "no series store configured")
	}
	bars, err := e.series.GetLatestBars(ctx, symbol, min(n, maxSeriesBars), tf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return bars, nil
}

func (e *PatternEngine) threshold(op string, t *float64) (float64, error) {
	if t == nil {
		return e.def.MinConfidence, nil
	}
	if !(*t >= 0 && *t <= 1) {
		return 0, errs.Configuration(op, "threshold must be within [0,1]").WithParam("threshold", *t)
	}
	return *t, nil
}

func (e *PatternEngine) scanParams(op string, p scanner.Params, minConf, maxOverlap *float64) (scanner.Params, error) {
	d := e.def.Scan
	if p.Step == 0 {
		p.Step = d.Step
	}
	if p.Workers == 0 {
		p.Workers = d.Workers
	}
	if p.MaxWindows == 0 {
		p.MaxWindows = d.MaxWindows
	}
	if p.Timeout == 0 {
		p.Timeout = d.Timeout
	}
	if p.Dedupe == "" {
		p.Dedupe = d.Dedupe
	}
	switch {
	case maxOverlap != nil:
		p.MaxOverlap = *maxOverlap
	case p.MaxOverlap == 0:
		p.MaxOverlap = d.MaxOverlap
	}
	t, err := e.threshold(op, minConf)
	if err != nil {
		return p, err
	}
	p.MinConfidence = t
	return p, nil
}

func (e *PatternEngine) observe(op string, start time.Time, err *error) {
	e.metrics.RecordLatency(op, time.Since(start).Seconds())
	if *err != nil {
		e.metrics.RecordError(errs.Code(*err))
		e.l.Debug("engine operation failed", applogger.String("op", op), applogger.Error(*err))
	}
}
