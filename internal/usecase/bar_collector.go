package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	drepo "FinFeat/internal/domain/repository"
	applogger "FinFeat/pkg/logger"
	"FinFeat/pkg/util"
)

// Invalidator forgets derived data for a symbol once its bars change.
type Invalidator interface {
	Invalidate(ctx context.Context, symbol string) error
}

// BarCollector downloads daily bars from the market data provider and saves
// them to the bar store.
type BarCollector struct {
	provider drepo.MarketData
	store    drepo.BarSink
	metrics  drepo.Metrics
	workers  int
	l        *applogger.Logger
	stale    Invalidator
}

func NewBarCollector(provider drepo.MarketData, store drepo.BarSink, metrics drepo.Metrics, workers int, l *applogger.Logger) *BarCollector {
	if workers <= 0 {
		workers = 1
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &BarCollector{provider: provider, store: store, metrics: metrics, workers: workers, l: l}
}

// InvalidateOnSave registers inv to run after each successful save.
func (c *BarCollector) InvalidateOnSave(inv Invalidator) *BarCollector {
	c.stale = inv
	return c
}

// CollectOutcome reports how many bars were saved for a symbol.
type CollectOutcome struct {
	Symbol string
	Bars   int
	Err    error
}

// Collect fetches and saves each symbol. Provider pacing is handled by the
// provider itself; workers only bound concurrent requests.
func (c *BarCollector) Collect(ctx context.Context, symbols []string, from, to time.Time) ([]CollectOutcome, error) {
	symbols = util.NormalizeSymbols(symbols)
	out := make([]CollectOutcome, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, sym := range symbols {
		g.Go(func() error {
			out[i] = c.collectOne(gctx, sym, from, to)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, o := range out {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Symbol, o.Err))
		}
	}
	return out, errors.Join(errs...)
}

func (c *BarCollector) collectOne(ctx context.Context, symbol string, from, to time.Time) CollectOutcome {
	start := time.Now()
	bars, err := c.provider.FetchDailyBars(ctx, symbol, from, to)
	c.metrics.RecordLatency("fetch_bars", time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordError("fetch_bars")
		c.l.Error("bar download failed", applogger.String("symbol", symbol), applogger.Error(err))
		return CollectOutcome{Symbol: symbol, Err: err}
	}
	if err := c.store.SaveBars(ctx, symbol, bars); err != nil {
		c.metrics.RecordError("save_bars")
		c.l.Error("bar save failed", applogger.String("symbol", symbol), applogger.Error(err))
		return CollectOutcome{Symbol: symbol, Err: err}
	}
	if n := len(bars); n > 0 {
		c.metrics.RecordLastClose(symbol, bars[n-1].Close)
	}
	if c.stale != nil {
		// the fresh bars are saved; a stale cache only costs a rebuild later
		if err := c.stale.Invalidate(ctx, symbol); err != nil {
			c.l.Warn("cache invalidation failed", applogger.String("symbol", symbol), applogger.Error(err))
		}
	}
	c.l.Info("bars collected", applogger.String("symbol", symbol), applogger.Int("rows", len(bars)))
	return CollectOutcome{Symbol: symbol, Bars: len(bars)}
}
