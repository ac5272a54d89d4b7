package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"PatternScan/internal/domain/errs"
	"PatternScan/internal/domain/models"
	domrepo "PatternScan/internal/domain/repository"
	"PatternScan/internal/repository"
	"PatternScan/internal/services/confidence"
	"PatternScan/internal/services/library"
	"PatternScan/internal/services/matcher"
	"PatternScan/internal/services/scanner"
	"PatternScan/internal/services/validation"
	"PatternScan/internal/testutil"
	"PatternScan/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSeries struct {
	bars     map[string][]models.Bar
	inserted int
}

func (s *memSeries) GetBars(_ context.Context, symbol string, from, to time.Time, _ domrepo.Timeframe) ([]models.Bar, error) {
	out := make([]models.Bar, 0)
	for _, b := range s.bars[symbol] {
		if !b.Time.Before(from) && !b.Time.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memSeries) GetLatestBars(_ context.Context, symbol string, n int, _ domrepo.Timeframe) ([]models.Bar, error) {
	all := s.bars[symbol]
	if n > len(all) {
		n = len(all)
	}
	return all[len(all)-n:], nil
}

func (s *memSeries) InsertBars(_ context.Context, symbol string, _ domrepo.Timeframe, bars []models.Bar) error {
	s.bars[symbol] = append(s.bars[symbol], bars...)
	s.inserted += len(bars)
	return nil
}

type memPublisher struct {
	dets []models.Detection
}

func (p *memPublisher) PublishDetections(_ context.Context, d []models.Detection) error {
	p.dets = append(p.dets, d...)
	return nil
}

func (p *memPublisher) Close() error { return nil }

type memQueue struct {
	msgType string
	payload []byte
	status  map[string]*queue.Status
}

func (q *memQueue) Enqueue(_ context.Context, msgType string, payload interface{}) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	q.msgType, q.payload = msgType, b
	id := fmt.Sprintf("job-%d", len(q.status)+1)
	if q.status == nil {
		q.status = make(map[string]*queue.Status)
	}
	q.status[id] = &queue.Status{ID: id, Type: msgType, State: queue.StateQueued}
	return id, nil
}

func (q *memQueue) Status(_ context.Context, id string) (*queue.Status, error) {
	st, ok := q.status[id]
	if !ok {
		return nil, queue.ErrStatusNotFound
	}
	return st, nil
}

type fixture struct {
	engine *PatternEngine
	series *memSeries
	pub    *memPublisher
	path   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	lib := library.New(nil)
	m, err := matcher.New(lib, matcher.WithK(3))
	require.NoError(t, err)
	scorer, err := confidence.NewScorer(confidence.DefaultWeights())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "library.json")
	series := &memSeries{bars: map[string][]models.Bar{}}
	pub := &memPublisher{}
	e := NewPatternEngine(EngineDeps{
		Library:   lib,
		Matcher:   m,
		Scorer:    scorer,
		Scanner:   scanner.New(m, scorer),
		Validator: validation.New(lib, m, scorer),
		Store:     repository.NewFileLibraryStore(path),
		Series:    series,
		Writer:    series,
		Publisher: pub,
	}, EngineDefaults{MinConfidence: 0.5, Scan: scanner.Params{Step: 1, Workers: 1}})
	return &fixture{engine: e, series: series, pub: pub, path: path}
}

func (f *fixture) seed(t *testing.T, perLabel int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < perLabel; i++ {
		_, err := f.engine.AddPattern(ctx, AddPatternParams{
			ID:    fmt.Sprintf("top-%02d", i),
			Label: "double_top",
			Bars:  testutil.Bars(testutil.DoubleTop(int64(i), 50, 0.3, i-3)),
		})
		require.NoError(t, err)
		_, err = f.engine.AddPattern(ctx, AddPatternParams{
			ID:    fmt.Sprintf("up-%02d", i),
			Label: "uptrend",
			Bars:  testutil.Bars(testutil.Trend(int64(50+i), 50, 0.8, 0.3)),
		})
		require.NoError(t, err)
	}
}

func ptr(v float64) *float64 { return &v }

func TestEngineCRUD(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)

	assert.Len(t, f.engine.ListPatterns(), 6)
	assert.Len(t, f.engine.ListPatterns("uptrend"), 3)

	n, err := f.engine.Augment()
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Len(t, f.engine.ListPatterns("double_bottom"), 3)

	q, err := f.engine.Quality("top-00")
	require.NoError(t, err)
	assert.True(t, q >= 0 && q <= 1)

	require.NoError(t, f.engine.DeletePattern("top-00"))
	assert.ErrorIs(t, f.engine.DeletePattern("top-00"), errs.ErrNotFound)
	_, err = f.engine.GetPattern("top-00")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	// the mirror of a deleted template stays
	_, err = f.engine.GetPattern(library.MirrorID("top-00"))
	assert.NoError(t, err)

	_, err = f.engine.AddPattern(context.Background(), AddPatternParams{ID: "up-01", Label: "uptrend", Bars: testutil.Bars(testutil.Trend(9, 50, 0.8, 0.3))})
	assert.ErrorIs(t, err, errs.ErrDuplicateID)
}

func TestEngineAddPatternFromSeries(t *testing.T) {
	f := newFixture(t)
	bars := testutil.Bars(testutil.RandomWalk(3, 200))
	f.series.bars["AAPL"] = bars

	p, err := f.engine.AddPattern(context.Background(), AddPatternParams{
		Label:     "breakout",
		Symbol:    "AAPL",
		Timeframe: domrepo.TF1m,
		From:      bars[0].Time,
		To:        bars[len(bars)-1].Time,
		Offset:    20,
		Length:    40,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, 40, p.Len())
	assert.Equal(t, "AAPL", p.Provenance.SeriesID)
	assert.Equal(t, 20, p.Provenance.Offset)
	assert.True(t, bars[20].Time.Equal(p.Window.Start()))

	_, err = f.engine.AddPattern(context.Background(), AddPatternParams{Label: "x"})
	assert.ErrorIs(t, err, errs.ErrInvalidWindow)

	_, err = f.engine.AddPattern(context.Background(), AddPatternParams{
		Label: "x", Symbol: "AAPL", From: bars[0].Time, To: bars[10].Time, Offset: 5, Length: 40,
	})
	assert.ErrorIs(t, err, errs.ErrInvalidWindow)
}

func TestEngineRejectsOversizedRange(t *testing.T) {
	f := newFixture(t)
	bars := testutil.Bars(testutil.RandomWalk(8, maxSeriesBars+100))
	f.series.bars["SPY"] = bars

	_, err := f.engine.AddPattern(context.Background(), AddPatternParams{
		Label:  "breakout",
		Symbol: "SPY",
		From:   bars[0].Time,
		To:     bars[len(bars)-1].Time,
		Offset: 20,
		Length: 40,
	})
	require.ErrorIs(t, err, errs.ErrInvalidWindow)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	n, _ := e.Param("bars")
	limit, _ := e.Param("limit")
	assert.Equal(t, maxSeriesBars+100, n)
	assert.Equal(t, maxSeriesBars, limit)
	assert.Zero(t, f.engine.Library().Len())

	_, err = f.engine.ScanSymbol(context.Background(), ScanSymbolParams{
		Symbol: "SPY",
		From:   bars[0].Time,
		To:     bars[len(bars)-1].Time,
		Params: scanner.Params{WindowLength: 50},
	})
	assert.ErrorIs(t, err, errs.ErrInvalidWindow)

	// a range at the limit still loads and keeps the requested offset
	p, err := f.engine.AddPattern(context.Background(), AddPatternParams{
		Label:  "breakout",
		Symbol: "SPY",
		From:   bars[0].Time,
		To:     bars[maxSeriesBars-1].Time,
		Offset: 20,
		Length: 40,
	})
	require.NoError(t, err)
	assert.True(t, bars[20].Time.Equal(p.Window.Start()))
	assert.Equal(t, 20, p.Provenance.Offset)
}

func TestEngineClassify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Classify(ctx, testutil.Bars(testutil.Trend(1, 50, 0.8, 0.3)), nil)
	assert.ErrorIs(t, err, errs.ErrEmptyLibrary)

	f.seed(t, 3)
	_, err = f.engine.BuildIndex()
	require.NoError(t, err)

	r, err := f.engine.Classify(ctx, testutil.Bars(testutil.DoubleTop(1, 50, 0.3, -1)), ptr(0))
	require.NoError(t, err)
	assert.Equal(t, "double_top", r.Label)
	assert.Len(t, r.Neighbors, 3)
	assert.True(t, r.Passed)
	assert.Equal(t, 50, r.Length)
	assert.True(t, r.Stats.Indexed)

	_, err = f.engine.Classify(ctx, testutil.Bars(testutil.Flat(50, 100)), nil)
	assert.ErrorIs(t, err, errs.ErrDegenerateWindow)

	_, err = f.engine.Classify(ctx, testutil.Bars(testutil.Trend(1, 50, 0.8, 0.3)), ptr(1.5))
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestEngineScanPublishes(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)

	closes := append(testutil.Trend(7, 60, 0.8, 0.3), testutil.DoubleTop(8, 50, 0.3, 0)...)
	res, err := f.engine.Scan(context.Background(), ScanParams{
		Symbol:        "MSFT",
		Timeframe:     domrepo.TF1m,
		Bars:          testutil.Bars(closes),
		Params:        scanner.Params{WindowLength: 50, Step: 5},
		MinConfidence: ptr(0),
		Publish:       true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ScanID)
	assert.Equal(t, 13, res.Report.Positions)
	assert.Equal(t, res.Report.Retained, res.Published)
	require.Len(t, f.pub.dets, res.Published)
	for _, d := range f.pub.dets {
		assert.Equal(t, "MSFT", d.Symbol)
		assert.Equal(t, res.ScanID, d.ScanID)
	}

	_, err = f.engine.Scan(context.Background(), ScanParams{Bars: testutil.Bars(closes[:20]), Params: scanner.Params{WindowLength: 50}})
	assert.ErrorIs(t, err, errs.ErrInvalidWindow)
}

func TestEngineScanMaxOverlap(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)
	f.engine.def.Scan.MaxOverlap = 0.9
	bars := testutil.Bars(testutil.Trend(7, 120, 0.8, 0.3))
	params := scanner.Params{WindowLength: 50, Step: 5, Dedupe: scanner.DedupeNMS}

	loose, err := f.engine.Scan(context.Background(), ScanParams{Bars: bars, Params: params, MinConfidence: ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, loose.Report.Evaluated, loose.Report.Retained)

	strict, err := f.engine.Scan(context.Background(), ScanParams{Bars: bars, Params: params, MinConfidence: ptr(0), MaxOverlap: ptr(0)})
	require.NoError(t, err)
	assert.Less(t, strict.Report.Retained, loose.Report.Retained)
	for i, a := range strict.Report.Results {
		for _, b := range strict.Report.Results[i+1:] {
			if a.Label == b.Label {
				assert.GreaterOrEqual(t, b.Offset-a.Offset, 50)
			}
		}
	}

	_, err = f.engine.Scan(context.Background(), ScanParams{Bars: bars, Params: params, MaxOverlap: ptr(1.5)})
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestEngineScanSymbol(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)
	require.NoError(t, f.engine.IngestBars(context.Background(), "NVDA", domrepo.TF1m, testutil.Bars(testutil.RandomWalk(5, 120))))
	assert.Equal(t, 120, f.series.inserted)

	res, err := f.engine.ScanSymbol(context.Background(), ScanSymbolParams{
		Symbol: "NVDA",
		Last:   80,
		Params: scanner.Params{WindowLength: 50, Step: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Report.Positions)
	assert.Equal(t, string(domrepo.DefaultTimeframe()), res.Timeframe)
	assert.Empty(t, f.pub.dets)

	_, err = f.engine.ScanSymbol(context.Background(), ScanSymbolParams{Params: scanner.Params{WindowLength: 50}})
	assert.ErrorIs(t, err, errs.ErrInvalidWindow)
}

func TestEngineSaveLoad(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 2)
	_, err := f.engine.Augment()
	require.NoError(t, err)

	n, err := f.engine.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	g := newFixture(t)
	g.engine.store = repository.NewFileLibraryStore(f.path)
	n, err = g.engine.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	ix, err := g.engine.Library().Snapshot().IndexFor(g.engine.m.Options().DTW)
	require.NoError(t, err)
	require.NotNil(t, ix)
	assert.Equal(t, 8, ix.Len())

	// augment after load finds every mirror already present
	added, err := g.engine.Augment()
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestEngineCrossValidateAndSweep(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 4)

	rep, err := f.engine.CrossValidate(context.Background(), ptr(0))
	require.NoError(t, err)
	assert.Equal(t, 8, rep.Total)
	assert.Equal(t, 1.0, rep.Accuracy)

	sw, err := f.engine.Sweep(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, validation.F1, sw.Objective)
	assert.Len(t, sw.Points, len(validation.DefaultThresholds))
}

func TestEngineIngestWithoutWriter(t *testing.T) {
	f := newFixture(t)
	f.engine.writer = nil
	err := f.engine.IngestBars(context.Background(), "AAPL", domrepo.TF1m, testutil.Bars(testutil.RandomWalk(1, 10)))
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestScanJob(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)
	f.series.bars["AMD"] = testutil.Bars(append(testutil.Trend(3, 40, 0.8, 0.3), testutil.DoubleTop(4, 50, 0.3, 0)...))

	q := &memQueue{}
	sched := NewScanScheduler(q)
	id, err := sched.Enqueue(context.Background(), ScanSymbolParams{
		Symbol:        "AMD",
		Last:          90,
		Params:        scanner.Params{WindowLength: 50, Step: 5},
		MinConfidence: ptr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, ScanJobType, q.msgType)

	st, err := sched.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, queue.StateQueued, st.State)
	_, err = sched.Status(context.Background(), "job-404")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	job := NewScanJob(f.engine, nil)
	out, err := job.Handle(context.Background(), json.RawMessage(q.payload))
	require.NoError(t, err)
	summary, ok := out.(ScanJobResult)
	require.True(t, ok)
	assert.Equal(t, "AMD", summary.Symbol)
	assert.Equal(t, 9, summary.Positions)
	assert.Equal(t, len(f.pub.dets), summary.Published)
	assert.NotEmpty(t, f.pub.dets)
	assert.Equal(t, "AMD", f.pub.dets[0].Symbol)

	_, err = sched.Enqueue(context.Background(), ScanSymbolParams{Symbol: "AMD"})
	assert.ErrorIs(t, err, errs.ErrInvalidWindow)
	_, err = job.Handle(context.Background(), json.RawMessage(`"nope"`))
	assert.Error(t, err)
}
