package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"FinFeat/internal/domain/models"
	applogger "FinFeat/pkg/logger"
	"FinFeat/pkg/util"
)

// DateWindow is the default [From, To) range used when a request omits dates.
type DateWindow struct {
	From time.Time
	To   time.Time
}

// Outcome is the per-symbol result of a batch.
type Outcome struct {
	Symbol  string        `json:"symbol"`
	Rows    int           `json:"rows"`
	Columns int           `json:"columns"`
	Cached  bool          `json:"cached"`
	Elapsed time.Duration `json:"elapsed"`
	Err     error         `json:"-"`
	Error   string        `json:"error,omitempty"`
}

// BatchRunner builds many symbols in parallel with bounded concurrency. One
// symbol failing does not stop the others.
type BatchRunner struct {
	builder  Builder
	workers  int
	defaults DateWindow
	l        *applogger.Logger
}

func NewBatchRunner(builder Builder, workers int, defaults DateWindow, l *applogger.Logger) *BatchRunner {
	if workers <= 0 {
		workers = 1
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &BatchRunner{builder: builder, workers: workers, defaults: defaults, l: l}
}

// Defaults returns the range applied to requests without dates.
func (r *BatchRunner) Defaults() DateWindow { return r.defaults }

// Run builds every symbol and returns outcomes in input order. The error joins
// every per-symbol failure.
func (r *BatchRunner) Run(ctx context.Context, symbols []string, from, to time.Time, refresh bool) ([]Outcome, error) {
	symbols = util.NormalizeSymbols(symbols)
	outcomes := make([]Outcome, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, sym := range symbols {
		g.Go(func() error {
			res, err := r.builder.Build(gctx, BuildParams{Symbol: sym, From: from, To: to, Refresh: refresh})
			o := Outcome{Symbol: sym}
			if err != nil {
				o.Err = err
				o.Error = err.Error()
			} else {
				o.Rows = res.Table.Len()
				o.Columns = len(res.Table.Columns())
				o.Cached = res.Cached
				o.Elapsed = res.Elapsed
			}
			outcomes[i] = o
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Symbol, o.Err))
		}
	}
	r.l.Info("feature batch finished",
		applogger.Int("symbols", len(symbols)),
		applogger.Int("failed", len(errs)),
	)
	return outcomes, errors.Join(errs...)
}

// Process runs a build request, filling missing dates from the defaults.
func (r *BatchRunner) Process(ctx context.Context, req models.BuildRequest) error {
	from, to, err := util.ParseDateRange(req.From, req.To, r.defaults.From, r.defaults.To)
	if err != nil {
		return err
	}
	_, err = r.Run(ctx, req.Symbols, from, to, req.Refresh)
	return err
}
