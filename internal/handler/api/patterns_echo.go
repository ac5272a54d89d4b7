package api

import (
	"net/http"
	"time"

	"PatternScan/internal/domain/errs"
	models "PatternScan/internal/domain/models"
	domrepo "PatternScan/internal/domain/repository"
	"PatternScan/internal/service/metrics"
	"PatternScan/internal/service/ratelimit"
	"PatternScan/internal/services/scanner"
	"PatternScan/internal/services/validation"
	"PatternScan/internal/usecase"
	xhttp "PatternScan/pkg/http"
	xlogger "PatternScan/pkg/logger"
	xutil "PatternScan/pkg/util"

	"github.com/labstack/echo/v4"
)

// PatternsEchoHandler exposes the pattern engine over HTTP.
type PatternsEchoHandler struct {
	logger *xlogger.Logger
	engine *usecase.PatternEngine
	sched  *usecase.ScanScheduler
	rl     *ratelimit.Limiter
	burst  float64
	refill float64
}

type HandlerOption func(*PatternsEchoHandler)

// WithRateLimit throttles the scan and validation endpoints per client IP.
func WithRateLimit(burst, refillPerSec float64) HandlerOption {
	return func(h *PatternsEchoHandler) {
		h.rl = ratelimit.New()
		h.burst = burst
		h.refill = refillPerSec
	}
}

// WithScheduler enables asynchronous symbol scans.
func WithScheduler(s *usecase.ScanScheduler) HandlerOption {
	return func(h *PatternsEchoHandler) { h.sched = s }
}

func NewPatternsEchoHandler(logger *xlogger.Logger, engine *usecase.PatternEngine, opts ...HandlerOption) *PatternsEchoHandler {
	metrics.Register()
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &PatternsEchoHandler{logger: logger, engine: engine}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *PatternsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")

	g.POST("/patterns", h.AddPattern)
	g.GET("/patterns", h.ListPatterns)
	g.GET("/patterns/:id", h.GetPattern)
	g.DELETE("/patterns/:id", h.DeletePattern)
	g.GET("/patterns/:id/quality", h.Quality)

	g.GET("/library", h.LibraryStats)
	g.POST("/library/augment", h.Augment)
	g.POST("/library/index", h.BuildIndex)
	g.POST("/library/save", h.Save)
	g.POST("/library/load", h.Load)

	g.POST("/classify", h.Classify)
	g.POST("/scan", h.Scan, h.limit("scan"))
	g.GET("/symbols/:symbol/scan", h.ScanSymbol, h.limit("scan"))
	g.POST("/scans/jobs", h.EnqueueScan)
	g.GET("/scans/jobs/:id", h.ScanJobStatus)
	g.POST("/validate", h.CrossValidate, h.limit("validate"))
	g.POST("/validate/sweep", h.Sweep, h.limit("validate"))

	g.POST("/series/bars", h.IngestBars)
}

func (h *PatternsEchoHandler) AddPattern(c echo.Context) error {
	defer observe("add_pattern", time.Now())
	req := &models.AddPatternRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, err := h.engine.AddPattern(c.Request().Context(), usecase.AddPatternParams{
		ID:        req.ID,
		Label:     req.Label,
		Bars:      req.Bars,
		Symbol:    req.Symbol,
		Timeframe: domrepo.Timeframe(req.Timeframe),
		From:      deref(req.From),
		To:        deref(req.To),
		Offset:    req.Offset,
		Length:    req.Length,
	})
	if err != nil {
		return h.fail(c, "add_pattern", err)
	}
	return xhttp.CreatedResponse(c, p)
}

func (h *PatternsEchoHandler) ListPatterns(c echo.Context) error {
	defer observe("list_patterns", time.Now())
	rows := h.engine.ListPatterns(xhttp.QueryList(c, "label")...)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *PatternsEchoHandler) GetPattern(c echo.Context) error {
	defer observe("get_pattern", time.Now())
	p, err := h.engine.GetPattern(c.Param("id"))
	if err != nil {
		return h.fail(c, "get_pattern", err)
	}
	return xhttp.SuccessResponse(c, p)
}

func (h *PatternsEchoHandler) DeletePattern(c echo.Context) error {
	defer observe("delete_pattern", time.Now())
	if err := h.engine.DeletePattern(c.Param("id")); err != nil {
		return h.fail(c, "delete_pattern", err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *PatternsEchoHandler) Quality(c echo.Context) error {
	defer observe("quality", time.Now())
	id := c.Param("id")
	q, err := h.engine.Quality(id)
	if err != nil {
		return h.fail(c, "quality", err)
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{"id": id, "quality": q})
}

// LibraryStats reports the library version, size, labels and index state.
func (h *PatternsEchoHandler) LibraryStats(c echo.Context) error {
	snap := h.engine.Library().Snapshot()
	stats := map[string]interface{}{
		"version":  snap.Version(),
		"patterns": snap.Len(),
		"labels":   snap.Labels(),
		"indexed":  false,
	}
	if ix := snap.Index(); ix != nil {
		stats["indexed"] = ix.Version == snap.Version()
		stats["index_version"] = ix.Version
	}
	return xhttp.SuccessResponse(c, stats)
}

func (h *PatternsEchoHandler) Augment(c echo.Context) error {
	defer observe("augment", time.Now())
	n, err := h.engine.Augment()
	if err != nil {
		return h.fail(c, "augment", err)
	}
	return xhttp.SuccessResponse(c, map[string]int{"added": n, "patterns": h.engine.Library().Len()})
}

func (h *PatternsEchoHandler) BuildIndex(c echo.Context) error {
	defer observe("build_index", time.Now())
	info, err := h.engine.BuildIndex()
	if err != nil {
		return h.fail(c, "build_index", err)
	}
	return xhttp.SuccessResponse(c, info)
}

func (h *PatternsEchoHandler) Save(c echo.Context) error {
	defer observe("save", time.Now())
	n, err := h.engine.Save(c.Request().Context())
	if err != nil {
		return h.fail(c, "save", err)
	}
	return xhttp.SuccessResponse(c, map[string]int{"patterns": n})
}

func (h *PatternsEchoHandler) Load(c echo.Context) error {
	defer observe("load", time.Now())
	n, err := h.engine.Load(c.Request().Context())
	if err != nil {
		return h.fail(c, "load", err)
	}
	return xhttp.SuccessResponse(c, map[string]int{"patterns": n})
}

func (h *PatternsEchoHandler) Classify(c echo.Context) error {
	defer observe("classify", time.Now())
	req := &models.ClassifyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.engine.Classify(c.Request().Context(), req.Bars, req.Threshold)
	if err != nil {
		return h.fail(c, "classify", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PatternsEchoHandler) Scan(c echo.Context) error {
	defer observe("scan", time.Now())
	req := &models.ScanRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.engine.Scan(c.Request().Context(), usecase.ScanParams{
		Symbol:        req.Symbol,
		Timeframe:     domrepo.Timeframe(req.Timeframe),
		Bars:          req.Bars,
		Params:        scanParams(req.ScanOptions),
		MinConfidence: req.MinConfidence,
		MaxOverlap:    req.MaxOverlap,
		Publish:       req.Publish,
	})
	if err != nil {
		return h.fail(c, "scan", err)
	}
	return xhttp.SuccessResponse(c, res)
}

// ScanSymbol scans stored history. Query: tf, from, to, last, window, step,
// labels, dedupe, workers, min_confidence, max_overlap.
func (h *PatternsEchoHandler) ScanSymbol(c echo.Context) error {
	defer observe("scan_symbol", time.Now())
	tf := domrepo.NormalizeTimeframe(c.QueryParam("tf"))
	from := xhttp.QueryTime(c, "from", time.Time{})
	to := xhttp.QueryTime(c, "to", time.Time{})
	if !from.IsZero() && !to.IsZero() {
		from, to = xutil.AlignFromTo(from, to, tf.Duration())
	}
	p := usecase.ScanSymbolParams{
		Symbol:    c.Param("symbol"),
		Timeframe: tf,
		From:      from,
		To:        to,
		Last:      xhttp.QueryInt(c, "last", 0),
		Params: scanParams(models.ScanOptions{
			WindowLength: xhttp.QueryInt(c, "window", 0),
			Step:         xhttp.QueryInt(c, "step", 0),
			Labels:       xhttp.QueryList(c, "labels"),
			Workers:      xhttp.QueryInt(c, "workers", 0),
			Dedupe:       c.QueryParam("dedupe"),
		}),
	}
	if c.QueryParam("min_confidence") != "" {
		mc := xhttp.QueryFloat(c, "min_confidence", -1)
		p.MinConfidence = &mc
	}
	if c.QueryParam("max_overlap") != "" {
		mo := xhttp.QueryFloat(c, "max_overlap", -1)
		p.MaxOverlap = &mo
	}
	res, err := h.engine.ScanSymbol(c.Request().Context(), p)
	if err != nil {
		return h.fail(c, "scan_symbol", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PatternsEchoHandler) EnqueueScan(c echo.Context) error {
	defer observe("enqueue_scan", time.Now())
	req := &models.ScanSymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.sched == nil {
		return h.fail(c, "enqueue_scan", errs.Configuration("api.enqueue_scan", "asynchronous scans are disabled"))
	}
	p := usecase.ScanSymbolParams{
		Symbol:        req.Symbol,
		Timeframe:     domrepo.NormalizeTimeframe(req.Timeframe),
		From:          deref(req.From),
		To:            deref(req.To),
		Last:          req.Last,
		Params:        scanParams(req.ScanOptions),
		MinConfidence: req.MinConfidence,
		MaxOverlap:    req.MaxOverlap,
		Publish:       true,
	}
	id, err := h.sched.Enqueue(c.Request().Context(), p)
	if err != nil {
		return h.fail(c, "enqueue_scan", err)
	}
	return xhttp.DataResponse(c, http.StatusAccepted, map[string]string{"job_id": id, "symbol": p.Symbol, "state": "queued"})
}

func (h *PatternsEchoHandler) ScanJobStatus(c echo.Context) error {
	defer observe("scan_job_status", time.Now())
	if h.sched == nil {
		return h.fail(c, "scan_job_status", errs.Configuration("api.scan_job_status", "asynchronous scans are disabled"))
	}
	st, err := h.sched.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "scan_job_status", err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *PatternsEchoHandler) CrossValidate(c echo.Context) error {
	defer observe("validate", time.Now())
	req := &models.CrossValidateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rep, err := h.engine.CrossValidate(c.Request().Context(), req.Threshold)
	if err != nil {
		return h.fail(c, "validate", err)
	}
	return xhttp.SuccessResponse(c, rep)
}

func (h *PatternsEchoHandler) Sweep(c echo.Context) error {
	defer observe("sweep", time.Now())
	req := &models.SweepRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rep, err := h.engine.Sweep(c.Request().Context(), req.Thresholds, validation.Objective(req.Objective))
	if err != nil {
		return h.fail(c, "sweep", err)
	}
	return xhttp.SuccessResponse(c, rep)
}

func (h *PatternsEchoHandler) IngestBars(c echo.Context) error {
	defer observe("ingest_bars", time.Now())
	req := &models.IngestBarsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	err := h.engine.IngestBars(c.Request().Context(), req.Symbol, domrepo.Timeframe(req.Timeframe), req.Bars)
	if err != nil {
		return h.fail(c, "ingest_bars", err)
	}
	return xhttp.CreatedResponse(c, map[string]int{"inserted": len(req.Bars)})
}

// limit rejects requests once the client's bucket for group is empty.
func (h *PatternsEchoHandler) limit(group string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if h.rl != nil && !h.rl.Allow(c.RealIP()+":"+group, h.burst, h.refill) {
				h.logger.Warn("rate limited",
					xlogger.String("group", group),
					xlogger.String("remote", c.RealIP()),
				)
				metrics.EndpointErrors.WithLabelValues(group, "ERR_RATE_LIMITED").Inc()
				return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
			}
			return next(c)
		}
	}
}

func (h *PatternsEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	code := errs.Code(err)
	metrics.EndpointErrors.WithLabelValues(endpoint, code).Inc()
	if errs.KindOf(err) == nil {
		h.logger.Error(endpoint+" failed", xlogger.Error(err))
	} else {
		h.logger.Debug(endpoint+" rejected", xlogger.String("code", code), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, err)
}

func observe(endpoint string, start time.Time) {
	metrics.EndpointLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func scanParams(o models.ScanOptions) scanner.Params {
	return scanner.Params{
		WindowLength: o.WindowLength,
		Step:         o.Step,
		Labels:       o.Labels,
		MaxWindows:   o.MaxWindows,
		Timeout:      time.Duration(o.TimeoutMS) * time.Millisecond,
		Workers:      o.Workers,
		Dedupe:       scanner.Dedupe(o.Dedupe),
	}
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
