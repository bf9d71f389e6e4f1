package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"FinFeat/internal/domain/models"
	domrepo "FinFeat/internal/domain/repository"
	"FinFeat/internal/service/ratelimit"
	"FinFeat/internal/services/features"
	"FinFeat/internal/usecase"
	xhttp "FinFeat/pkg/http"
	xlogger "FinFeat/pkg/logger"
	"FinFeat/pkg/queue"
	"FinFeat/pkg/util"
)

// BarsReader serves raw bars.
type BarsReader interface {
	GetBars(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.Bar, error)
}

// QueueStatser reports job queue depth.
type QueueStatser interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// RateLimit is the per-client token bucket applied to /api routes.
type RateLimit struct {
	Capacity     float64
	RefillPerSec float64
}

// FeaturesEchoHandler exposes feature builds, raw bars and pipeline metadata.
type FeaturesEchoHandler struct {
	logger   *xlogger.Logger
	builder  usecase.Builder
	bars     BarsReader
	pipeline *features.Pipeline
	defaults usecase.DateWindow

	jobs   queue.Publisher
	stats  QueueStatser
	runner usecase.RequestProcessor

	runs    http.Handler
	limiter *ratelimit.Limiter
	limit   RateLimit

	// inline jobs run under bg and are drained on shutdown
	bg       context.Context
	stopBg   context.CancelFunc
	bgMu     sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

type FeaturesOption func(*FeaturesEchoHandler)

// WithJobQueue sends POST /api/features/jobs to the Redis queue.
func WithJobQueue(q queue.Publisher, stats QueueStatser) FeaturesOption {
	return func(h *FeaturesEchoHandler) {
		h.jobs = q
		h.stats = stats
	}
}

// WithAsyncRunner runs accepted jobs in-process when no queue is configured.
func WithAsyncRunner(r usecase.RequestProcessor) FeaturesOption {
	return func(h *FeaturesEchoHandler) { h.runner = r }
}

// WithRunStream mounts the websocket run stream at /ws/runs.
func WithRunStream(h http.Handler) FeaturesOption {
	return func(fh *FeaturesEchoHandler) { fh.runs = h }
}

func WithRateLimit(l *ratelimit.Limiter, rl RateLimit) FeaturesOption {
	return func(h *FeaturesEchoHandler) {
		h.limiter = l
		h.limit = rl
	}
}

func NewFeaturesEchoHandler(logger *xlogger.Logger, builder usecase.Builder, bars BarsReader, pipeline *features.Pipeline, defaults usecase.DateWindow, opts ...FeaturesOption) *FeaturesEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &FeaturesEchoHandler{logger: logger, builder: builder, bars: bars, pipeline: pipeline, defaults: defaults}
	h.bg, h.stopBg = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *FeaturesEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api", h.rateLimit)
	g.GET("/features", h.Features)
	g.POST("/features/jobs", h.SubmitJob)
	g.GET("/bars", h.Bars)
	g.GET("/pipeline", h.Pipeline)
	if h.runs != nil {
		e.GET("/ws/runs", echo.WrapHandler(h.runs))
	}
}

func (h *FeaturesEchoHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.limiter == nil || h.limit.Capacity <= 0 {
			return next(c)
		}
		if !h.limiter.Allow("api:"+c.RealIP(), h.limit.Capacity, h.limit.RefillPerSec) {
			c.Response().Header().Set("Retry-After", "1")
			return xhttp.TooManyRequestsResponse(c, "rate limit exceeded")
		}
		return next(c)
	}
}

type featuresResponse struct {
	Cached      bool   `json:"cached"`
	Fingerprint string `json:"fingerprint"`
	features.Snapshot
}

// Features builds (or reads from cache) one symbol's feature table.
func (h *FeaturesEchoHandler) Features(c echo.Context) error {
	req := &models.FeaturesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, to, err := util.ParseDateRange(req.From, req.To, h.defaults.From, h.defaults.To)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}

	res, err := h.builder.Build(c.Request().Context(), usecase.BuildParams{Symbol: req.Symbol, From: from, To: to, Refresh: req.Refresh})
	if err != nil {
		return h.buildError(c, req.Symbol, err)
	}
	if res.Cached {
		c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	}
	return xhttp.SuccessResponse(c, featuresResponse{
		Cached:      res.Cached,
		Fingerprint: h.pipeline.Fingerprint(),
		Snapshot:    res.Table.Snapshot(),
	})
}

type jobAccepted struct {
	RequestID string   `json:"request_id"`
	Symbols   []string `json:"symbols"`
	Mode      string   `json:"mode"`
}

// SubmitJob accepts a batch build and returns before it runs.
func (h *FeaturesEchoHandler) SubmitJob(c echo.Context) error {
	req := &models.BuildRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	req.Symbols = util.NormalizeSymbols(req.Symbols)
	if len(req.Symbols) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("no symbols given"))
	}
	if _, _, err := util.ParseDateRange(req.From, req.To, h.defaults.From, h.defaults.To); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	req.RequestID = uuid.NewString()

	switch {
	case h.jobs != nil:
		if err := h.jobs.PublishMessage(c.Request().Context(), models.JobTypeBuildFeatures, req); err != nil {
			h.logger.Error("enqueue build job failed", xlogger.String("request_id", req.RequestID), xlogger.Error(err))
			return xhttp.ServiceUnavailableResponse(c, "job queue unavailable")
		}
		return xhttp.AcceptedResponse(c, jobAccepted{RequestID: req.RequestID, Symbols: req.Symbols, Mode: "queue"})
	case h.runner != nil:
		if !h.goInline(*req) {
			return xhttp.ServiceUnavailableResponse(c, "shutting down")
		}
		return xhttp.AcceptedResponse(c, jobAccepted{RequestID: req.RequestID, Symbols: req.Symbols, Mode: "inline"})
	default:
		return xhttp.ServiceUnavailableResponse(c, "batch jobs are disabled")
	}
}

// goInline runs job in the background unless the handler is draining.
func (h *FeaturesEchoHandler) goInline(job models.BuildRequest) bool {
	h.bgMu.Lock()
	defer h.bgMu.Unlock()
	if h.draining {
		return false
	}
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		if err := h.runner.Process(h.bg, job); err != nil {
			h.logger.Error("async build job failed", xlogger.String("request_id", job.RequestID), xlogger.Error(err))
		}
	}()
	return true
}

// Drain cancels inline jobs still running and waits for them to return or
// for ctx to end. New inline submissions are refused afterwards.
func (h *FeaturesEchoHandler) Drain(ctx context.Context) error {
	h.bgMu.Lock()
	h.draining = true
	h.bgMu.Unlock()
	h.stopBg()

	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain inline jobs: %w", ctx.Err())
	}
}

// Bars returns raw daily bars for one symbol.
func (h *FeaturesEchoHandler) Bars(c echo.Context) error {
	req := &models.BarsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, to, err := util.ParseDateRange(req.From, req.To, time.Time{}, time.Time{})
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	bars, err := h.bars.GetBars(c.Request().Context(), req.Symbol, from, to, req.Limit)
	if err != nil {
		return h.buildError(c, req.Symbol, err)
	}
	return xhttp.ListResponse(c, bars, int64(len(bars)))
}

type pipelineInfo struct {
	Stages      []string        `json:"stages"`
	Config      features.Config `json:"config"`
	Fingerprint string          `json:"fingerprint"`
	Defaults    struct {
		From string `json:"from,omitempty"`
		To   string `json:"to,omitempty"`
	} `json:"defaults"`
	Queue *queue.Stats `json:"queue,omitempty"`
}

// Pipeline describes the configured stages and parameters.
func (h *FeaturesEchoHandler) Pipeline(c echo.Context) error {
	info := pipelineInfo{
		Stages:      h.pipeline.Stages(),
		Config:      h.pipeline.Config(),
		Fingerprint: h.pipeline.Fingerprint(),
	}
	if !h.defaults.From.IsZero() {
		info.Defaults.From = h.defaults.From.Format(models.DateLayout)
	}
	if !h.defaults.To.IsZero() {
		info.Defaults.To = h.defaults.To.Format(models.DateLayout)
	}
	if h.stats != nil {
		if st, err := h.stats.Stats(c.Request().Context()); err == nil {
			info.Queue = &st
		} else {
			h.logger.Warn("queue stats unavailable", xlogger.Error(err))
		}
	}
	return xhttp.SuccessResponse(c, info)
}

func (h *FeaturesEchoHandler) buildError(c echo.Context, symbol string, err error) error {
	var rowErr *features.RowError
	switch {
	case errors.Is(err, domrepo.ErrSymbolNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no data for symbol %s", symbol).WithError(err))
	case errors.As(err, &rowErr), errors.Is(err, features.ErrInvalidConfig):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithParam("symbol", symbol))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("request cancelled").WithParam("symbol", symbol).WithError(err))
	}
	h.logger.Error("feature request failed", xlogger.String("symbol", symbol), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, err)
}
