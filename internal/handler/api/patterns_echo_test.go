package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"PatternScan/internal/domain/models"
	"PatternScan/internal/repository"
	"PatternScan/internal/services/confidence"
	"PatternScan/internal/services/library"
	"PatternScan/internal/services/matcher"
	"PatternScan/internal/services/scanner"
	"PatternScan/internal/services/validation"
	"PatternScan/internal/testutil"
	"PatternScan/internal/usecase"
	"PatternScan/pkg/queue"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type appError struct {
	Code   string                 `json:"code"`
	Params map[string]interface{} `json:"params"`
}

func newServer(t *testing.T, opts ...HandlerOption) (*echo.Echo, *usecase.PatternEngine) {
	t.Helper()
	lib := library.New(nil)
	m, err := matcher.New(lib, matcher.WithK(3))
	require.NoError(t, err)
	s, err := confidence.NewScorer(confidence.DefaultWeights())
	require.NoError(t, err)
	engine := usecase.NewPatternEngine(usecase.EngineDeps{
		Library:   lib,
		Matcher:   m,
		Scorer:    s,
		Scanner:   scanner.New(m, s),
		Validator: validation.New(lib, m, s),
		Store:     repository.NewFileLibraryStore(filepath.Join(t.TempDir(), "library.json")),
	}, usecase.EngineDefaults{MinConfidence: 0.5, Scan: scanner.Params{Step: 1, Workers: 1}})

	e := echo.New()
	NewPatternsEchoHandler(nil, engine, opts...).RegisterRoutes(e)
	return e, engine
}

func seed(t *testing.T, e *echo.Echo, perLabel int) {
	t.Helper()
	for i := 0; i < perLabel; i++ {
		rec := do(t, e, http.MethodPost, "/api/patterns", map[string]interface{}{
			"id":    fmt.Sprintf("top-%02d", i),
			"label": "double_top",
			"bars":  testutil.Bars(testutil.DoubleTop(int64(i), 50, 0.3, i-3)),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		rec = do(t, e, http.MethodPost, "/api/patterns", map[string]interface{}{
			"id":    fmt.Sprintf("up-%02d", i),
			"label": "uptrend",
			"bars":  testutil.Bars(testutil.Trend(int64(50+i), 50, 0.8, 0.3)),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
}

func do(t *testing.T, e *echo.Echo, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, rec.Code, env.Status)
	if v != nil {
		require.NoError(t, json.Unmarshal(env.Data, v))
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out []appError
	decode(t, rec, &out)
	require.NotEmpty(t, out)
	return out[0].Code
}

func TestPatternCRUD(t *testing.T) {
	e, _ := newServer(t)
	seed(t, e, 2)

	rec := do(t, e, http.MethodPost, "/api/patterns", map[string]interface{}{
		"id":    "up-00",
		"label": "uptrend",
		"bars":  testutil.Bars(testutil.Trend(1, 50, 0.8, 0.3)),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ERR_DUPLICATE_ID", errorCode(t, rec))

	rec = do(t, e, http.MethodGet, "/api/patterns?label=uptrend", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows  []models.Pattern `json:"rows"`
		Total int64            `json:"total"`
	}
	decode(t, rec, &list)
	assert.EqualValues(t, 2, list.Total)

	rec = do(t, e, http.MethodGet, "/api/patterns/top-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p models.Pattern
	decode(t, rec, &p)
	assert.Equal(t, "double_top", p.Label)
	assert.Len(t, p.Window, 50)

	rec = do(t, e, http.MethodDelete, "/api/patterns/top-01", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, e, http.MethodGet, "/api/patterns/top-01", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ERR_NOT_FOUND", errorCode(t, rec))

	rec = do(t, e, http.MethodPost, "/api/patterns", map[string]interface{}{"label": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLibraryEndpoints(t *testing.T) {
	e, engine := newServer(t)
	seed(t, e, 2)

	rec := do(t, e, http.MethodPost, "/api/library/augment", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var aug map[string]int
	decode(t, rec, &aug)
	assert.Equal(t, 4, aug["added"])
	assert.Equal(t, 8, aug["patterns"])

	rec = do(t, e, http.MethodPost, "/api/library/index", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info usecase.IndexInfo
	decode(t, rec, &info)
	assert.Equal(t, 8, info.Templates)

	rec = do(t, e, http.MethodGet, "/api/library", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]interface{}
	decode(t, rec, &stats)
	assert.Equal(t, true, stats["indexed"])

	rec = do(t, e, http.MethodPost, "/api/library/save", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, engine.DeletePattern("up-00"))

	rec = do(t, e, http.MethodPost, "/api/library/load", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var loaded map[string]int
	decode(t, rec, &loaded)
	assert.Equal(t, 8, loaded["patterns"])
}

func TestClassifyEndpoint(t *testing.T) {
	e, _ := newServer(t)

	query := testutil.Bars(testutil.DoubleTop(1, 50, 0.3, -1))
	rec := do(t, e, http.MethodPost, "/api/classify", map[string]interface{}{"bars": query})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "ERR_EMPTY_LIBRARY", errorCode(t, rec))

	seed(t, e, 3)
	rec = do(t, e, http.MethodPost, "/api/classify", map[string]interface{}{"bars": query, "threshold": 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res models.MatchResult
	decode(t, rec, &res)
	assert.Equal(t, "double_top", res.Label)
	assert.True(t, res.Passed)

	rec = do(t, e, http.MethodPost, "/api/classify", map[string]interface{}{"bars": query, "threshold": 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, e, http.MethodPost, "/api/classify", map[string]interface{}{"bars": testutil.Bars(testutil.Flat(50, 10))})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ERR_DEGENERATE_WINDOW", errorCode(t, rec))
}

func TestScanEndpoint(t *testing.T) {
	e, _ := newServer(t)
	seed(t, e, 3)

	closes := append(testutil.Trend(7, 60, 0.8, 0.3), testutil.DoubleTop(8, 50, 0.3, 0)...)
	rec := do(t, e, http.MethodPost, "/api/scan", map[string]interface{}{
		"symbol":         "MSFT",
		"bars":           testutil.Bars(closes),
		"window_length":  50,
		"step":           10,
		"min_confidence": 0,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res usecase.ScanResult
	decode(t, rec, &res)
	assert.NotEmpty(t, res.ScanID)
	assert.Equal(t, 7, res.Report.Positions)
	assert.Equal(t, 7, res.Report.Retained)

	for _, c := range []struct {
		overlap  float64
		retained func(int) bool
	}{
		{overlap: 1, retained: func(n int) bool { return n == 7 }},
		{overlap: 0, retained: func(n int) bool { return n < 7 }},
	} {
		rec = do(t, e, http.MethodPost, "/api/scan", map[string]interface{}{
			"bars":           testutil.Bars(closes),
			"window_length":  50,
			"step":           10,
			"min_confidence": 0,
			"dedupe":         "nms",
			"max_overlap":    c.overlap,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var nms usecase.ScanResult
		decode(t, rec, &nms)
		assert.True(t, c.retained(nms.Report.Retained), "max_overlap %v retained %d", c.overlap, nms.Report.Retained)
	}

	rec = do(t, e, http.MethodPost, "/api/scan", map[string]interface{}{
		"bars":          testutil.Bars(closes),
		"window_length": 50,
		"max_overlap":   1.5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, e, http.MethodPost, "/api/scan", map[string]interface{}{
		"bars":          testutil.Bars(closes),
		"window_length": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, e, http.MethodPost, "/api/scans/jobs", map[string]interface{}{
		"symbol":        "MSFT",
		"window_length": 50,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ERR_CONFIGURATION", errorCode(t, rec))

	rec = do(t, e, http.MethodGet, "/api/symbols/MSFT/scan?window=50&last=100", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ERR_CONFIGURATION", errorCode(t, rec))
}

type fakeQueue struct {
	jobs map[string]*queue.Status
}

func (q *fakeQueue) Enqueue(_ context.Context, msgType string, _ interface{}) (string, error) {
	id := fmt.Sprintf("job-%d", len(q.jobs)+1)
	q.jobs[id] = &queue.Status{ID: id, Type: msgType, State: queue.StateQueued}
	return id, nil
}

func (q *fakeQueue) Status(_ context.Context, id string) (*queue.Status, error) {
	st, ok := q.jobs[id]
	if !ok {
		return nil, queue.ErrStatusNotFound
	}
	return st, nil
}

func TestScanJobEndpoints(t *testing.T) {
	q := &fakeQueue{jobs: map[string]*queue.Status{}}
	e, _ := newServer(t, WithScheduler(usecase.NewScanScheduler(q)))

	rec := do(t, e, http.MethodPost, "/api/scans/jobs", map[string]interface{}{
		"symbol":        "MSFT",
		"timeframe":     "1h",
		"window_length": 50,
		"last":          500,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var queued map[string]string
	decode(t, rec, &queued)
	assert.Equal(t, "job-1", queued["job_id"])

	rec = do(t, e, http.MethodGet, "/api/scans/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st queue.Status
	decode(t, rec, &st)
	assert.Equal(t, queue.StateQueued, st.State)
	assert.Equal(t, usecase.ScanJobType, st.Type)

	rec = do(t, e, http.MethodGet, "/api/scans/jobs/job-9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ERR_NOT_FOUND", errorCode(t, rec))

	rec = do(t, e, http.MethodPost, "/api/scans/jobs", map[string]interface{}{"window_length": 50})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanRateLimited(t *testing.T) {
	e, _ := newServer(t, WithRateLimit(1, 0.001))
	seed(t, e, 2)

	body := map[string]interface{}{
		"bars":          testutil.Bars(testutil.RandomWalk(1, 60)),
		"window_length": 50,
		"step":          5,
	}
	assert.Equal(t, http.StatusOK, do(t, e, http.MethodPost, "/api/scan", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, e, http.MethodPost, "/api/scan", body).Code)
	// other groups have their own bucket
	assert.Equal(t, http.StatusOK, do(t, e, http.MethodPost, "/api/validate", map[string]interface{}{"threshold": 0}).Code)
}

func TestValidateEndpoints(t *testing.T) {
	e, _ := newServer(t)
	seed(t, e, 4)

	rec := do(t, e, http.MethodPost, "/api/validate", map[string]interface{}{"threshold": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	var rep validation.Report
	decode(t, rec, &rep)
	assert.Equal(t, 8, rep.Total)
	assert.Equal(t, 1.0, rep.Accuracy)

	rec = do(t, e, http.MethodPost, "/api/validate/sweep", map[string]interface{}{"thresholds": []float64{0, 0.5}, "objective": "recall"})
	require.Equal(t, http.StatusOK, rec.Code)
	var sw validation.SweepReport
	decode(t, rec, &sw)
	assert.Equal(t, validation.Recall, sw.Objective)
	assert.Len(t, sw.Points, 2)

	rec = do(t, e, http.MethodPost, "/api/validate/sweep", map[string]interface{}{"objective": "auc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestWithoutSeriesStore(t *testing.T) {
	e, _ := newServer(t)
	rec := do(t, e, http.MethodPost, "/api/series/bars", map[string]interface{}{
		"symbol": "AAPL",
		"bars":   testutil.Bars(testutil.RandomWalk(1, 10)),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ERR_CONFIGURATION", errorCode(t, rec))
}
