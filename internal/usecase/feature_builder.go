package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"FinFeat/internal/domain/models"
	drepo "FinFeat/internal/domain/repository"
	"FinFeat/internal/services/features"
	"FinFeat/pkg/cache"
	applogger "FinFeat/pkg/logger"
)

// BuildParams selects one symbol's bars in [From, To). Zero bounds are open.
type BuildParams struct {
	Symbol  string
	From    time.Time
	To      time.Time
	Refresh bool // skip the cache lookup
}

type BuildResult struct {
	Table   *features.Table
	Cached  bool
	Elapsed time.Duration
}

// Builder is what batch and transport layers need from FeatureBuilder.
type Builder interface {
	Build(ctx context.Context, p BuildParams) (*BuildResult, error)
}

// FeatureBuilder loads bars, runs the feature pipeline and fans the result out
// to sinks, the publisher, the cache and run subscribers.
type FeatureBuilder struct {
	bars      drepo.BarSource
	pipeline  *features.Pipeline
	sinks     []drepo.FeatureSink
	publisher drepo.FeaturePublisher
	cache     cache.Service
	cacheTTL  time.Duration
	notifier  drepo.RunNotifier
	metrics   drepo.Metrics
	observer  features.StageObserver
	l         *applogger.Logger
	now       func() time.Time
	flight    singleflight.Group
	timeout   time.Duration
}

const cacheNamespace = "features"

type BuilderOption func(*FeatureBuilder)

func WithSinks(sinks ...drepo.FeatureSink) BuilderOption {
	return func(b *FeatureBuilder) { b.sinks = append(b.sinks, sinks...) }
}

func WithPublisher(p drepo.FeaturePublisher) BuilderOption {
	return func(b *FeatureBuilder) { b.publisher = p }
}

// WithCache stores built tables as snapshots for ttl.
func WithCache(c cache.Service, ttl time.Duration) BuilderOption {
	return func(b *FeatureBuilder) {
		b.cache = c
		b.cacheTTL = ttl
	}
}

func WithNotifier(n drepo.RunNotifier) BuilderOption {
	return func(b *FeatureBuilder) { b.notifier = n }
}

func WithStageObserver(obs features.StageObserver) BuilderOption {
	return func(b *FeatureBuilder) { b.observer = obs }
}

// WithBuildTimeout bounds one shared build. It applies regardless of the
// callers' contexts, which only decide how long each caller waits.
func WithBuildTimeout(d time.Duration) BuilderOption {
	return func(b *FeatureBuilder) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func WithBuilderLogger(l *applogger.Logger) BuilderOption {
	return func(b *FeatureBuilder) {
		if l != nil {
			b.l = l
		}
	}
}

func NewFeatureBuilder(bars drepo.BarSource, pipeline *features.Pipeline, metrics drepo.Metrics, opts ...BuilderOption) *FeatureBuilder {
	b := &FeatureBuilder{
		bars:     bars,
		pipeline: pipeline,
		metrics:  metrics,
		l:        applogger.Nop(),
		now:      time.Now,
		timeout:  5 * time.Minute,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = noopMetrics{}
	}
	return b
}

// Pipeline exposes the configured pipeline for introspection endpoints.
func (b *FeatureBuilder) Pipeline() *features.Pipeline { return b.pipeline }

// CacheKey identifies a build by symbol, range and pipeline parameters.
func (b *FeatureBuilder) CacheKey(p BuildParams) string {
	return cache.Key(cacheNamespace, p.Symbol, formatBound(p.From), formatBound(p.To), b.pipeline.Fingerprint())
}

// Invalidate drops every cached table for symbol, whatever its range or
// pipeline parameters.
func (b *FeatureBuilder) Invalidate(ctx context.Context, symbol string) error {
	if b.cache == nil {
		return nil
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if err := b.cache.DeleteByPattern(ctx, cache.Key(cacheNamespace, symbol, "*")); err != nil {
		b.metrics.RecordError("cache_invalidate")
		return fmt.Errorf("invalidate %s: %w", symbol, err)
	}
	return nil
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "open"
	}
	return t.Format(models.DateLayout)
}

// Build runs one symbol. Concurrent calls for the same key share a single
// execution that outlives any one caller: a caller whose ctx ends gets its
// ctx error while the others keep waiting for the result.
func (b *FeatureBuilder) Build(ctx context.Context, p BuildParams) (*BuildResult, error) {
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	if p.Symbol == "" {
		return nil, errors.New("build: symbol is required")
	}
	if !p.From.IsZero() && !p.To.IsZero() && !p.From.Before(p.To) {
		return nil, fmt.Errorf("build %s: from %s is not before to %s", p.Symbol, formatBound(p.From), formatBound(p.To))
	}

	key := b.CacheKey(p)
	flightKey := key
	if p.Refresh {
		flightKey += ":refresh"
	}
	ch := b.flight.DoChan(flightKey, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()
		return b.build(shared, p, key)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("build %s: %w", p.Symbol, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*BuildResult), nil
	}
}

func (b *FeatureBuilder) build(ctx context.Context, p BuildParams, key string) (*BuildResult, error) {
	start := b.now()
	ev := models.RunEvent{Symbol: p.Symbol, From: formatBound(p.From), To: formatBound(p.To)}

	if b.cache != nil && !p.Refresh {
		if t, ok := b.fromCache(ctx, key); ok {
			res := &BuildResult{Table: t, Cached: true, Elapsed: time.Since(start)}
			b.metrics.RecordRun(p.Symbol, models.RunCached)
			b.notify(ctx, ev, models.RunCached, t, res.Elapsed, nil)
			return res, nil
		}
	}

	b.notify(ctx, ev, models.RunStarted, nil, 0, nil)
	t, err := b.run(ctx, p)
	elapsed := time.Since(start)
	if err != nil {
		b.metrics.RecordRun(p.Symbol, models.RunFailed)
		b.notify(ctx, ev, models.RunFailed, nil, elapsed, err)
		b.l.Error("feature build failed", applogger.String("symbol", p.Symbol), applogger.Error(err))
		return nil, err
	}

	if b.cache != nil {
		if err := b.cache.Set(ctx, key, t.Snapshot(), b.cacheTTL); err != nil {
			b.metrics.RecordError("cache_set")
			b.l.Warn("feature cache write failed", applogger.String("key", key), applogger.Error(err))
		}
	}

	b.metrics.RecordRun(p.Symbol, models.RunSucceeded)
	b.metrics.RecordRows(p.Symbol, t.Len())
	b.metrics.RecordLatency("feature_build", elapsed.Seconds())
	if closes := t.Closes(); len(closes) > 0 {
		b.metrics.RecordLastClose(p.Symbol, closes[len(closes)-1])
	}
	b.notify(ctx, ev, models.RunSucceeded, t, elapsed, nil)
	b.l.Info("feature build done",
		applogger.String("symbol", p.Symbol),
		applogger.Int("rows", t.Len()),
		applogger.Int("columns", len(t.Columns())),
		applogger.Duration("elapsed", elapsed),
	)
	return &BuildResult{Table: t, Elapsed: elapsed}, nil
}

func (b *FeatureBuilder) run(ctx context.Context, p BuildParams) (*features.Table, error) {
	loadStart := time.Now()
	bars, err := b.bars.LoadBars(ctx, p.Symbol, p.From, p.To)
	b.metrics.RecordLatency("load_bars", time.Since(loadStart).Seconds())
	if err != nil {
		b.metrics.RecordError("load_bars")
		return nil, fmt.Errorf("load bars %s: %w", p.Symbol, err)
	}

	t, err := b.pipeline.RunObserved(features.NewTable(p.Symbol, bars), b.observer)
	if err != nil {
		b.metrics.RecordError("pipeline")
		return nil, err
	}

	for _, s := range b.sinks {
		if err := s.WriteFeatures(ctx, t); err != nil {
			b.metrics.RecordError("sink_" + s.Name())
			return nil, fmt.Errorf("sink %s: %w", s.Name(), err)
		}
	}
	if b.publisher != nil {
		if err := b.publisher.PublishFeatures(ctx, t); err != nil {
			b.metrics.RecordError("publish")
			return nil, fmt.Errorf("publish %s: %w", p.Symbol, err)
		}
	}
	return t, nil
}

func (b *FeatureBuilder) fromCache(ctx context.Context, key string) (*features.Table, bool) {
	var snap features.Snapshot
	if err := b.cache.Get(ctx, key, &snap); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			b.metrics.RecordError("cache_get")
			b.l.Warn("feature cache read failed", applogger.String("key", key), applogger.Error(err))
		}
		return nil, false
	}
	t, err := features.FromSnapshot(snap)
	if err != nil {
		b.l.Warn("feature cache entry unreadable", applogger.String("key", key), applogger.Error(err))
		return nil, false
	}
	return t, true
}

func (b *FeatureBuilder) notify(ctx context.Context, ev models.RunEvent, status models.RunStatus, t *features.Table, elapsed time.Duration, err error) {
	if b.notifier == nil {
		return
	}
	ev.Status = status
	ev.DurationMs = elapsed.Milliseconds()
	ev.At = b.now().UTC()
	if t != nil {
		ev.Rows = t.Len()
		ev.Columns = t.Columns()
	}
	if err != nil {
		ev.Error = err.Error()
	}
	b.notifier.NotifyRun(ctx, ev)
}

type noopMetrics struct{}

func (noopMetrics) RecordRun(string, models.RunStatus) {}
func (noopMetrics) RecordRows(string, int)             {}
func (noopMetrics) RecordError(string)                 {}
func (noopMetrics) RecordLastClose(string, float64)    {}
func (noopMetrics) RecordLatency(string, float64)      {}
