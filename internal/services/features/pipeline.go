package features

import (
	"errors"
	"fmt"
	"time"
)

// Stage is one named column-producing transform.
type Stage struct {
	Name  string
	Apply func(*Table) error
}

// Pipeline runs the stages in order over a private copy of the input table.
type Pipeline struct {
	cfg    Config
	stages []Stage
}

// NewPipeline validates cfg once and builds the stage list.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.MAWindows = append([]int(nil), cfg.MAWindows...)

	stages := []Stage{
		{Name: "target", Apply: AddTarget},
		{Name: "daily_return", Apply: AddDailyReturn},
		{Name: "multi_day_returns", Apply: func(t *Table) error { return AddMultiDayReturns(t, cfg.Horizons) }},
	}
	for _, w := range cfg.MAWindows {
		w := w
		stages = append(stages, Stage{
			Name:  "ma_" + fmt.Sprint(w),
			Apply: func(t *Table) error { return AddSimpleMovingAverage(t, w) },
		})
	}
	stages = append(stages,
		Stage{Name: "rsi", Apply: func(t *Table) error { return AddRSI(t, cfg.RSIWindow, cfg.RSISmoothing) }},
		Stage{Name: "macd", Apply: func(t *Table) error {
			return AddMACD(t, cfg.MACDShortSpan, cfg.MACDLongSpan, cfg.MACDSignalSpan)
		}},
		Stage{Name: "bollinger", Apply: func(t *Table) error {
			return AddBollingerBands(t, cfg.BollingerWindow, cfg.BollingerK)
		}},
	)
	return &Pipeline{cfg: cfg, stages: stages}, nil
}

func (p *Pipeline) Config() Config { return p.cfg }

func (p *Pipeline) Fingerprint() string { return p.cfg.Fingerprint() }

// Stages returns stage names in execution order.
func (p *Pipeline) Stages() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Name
	}
	return out
}

// StageObserver is told how long each stage took and whether it failed.
type StageObserver func(stage string, elapsed time.Duration, err error)

// Run validates the input and returns a new table with every feature column.
// The input table is left untouched.
func (p *Pipeline) Run(in *Table) (*Table, error) {
	return p.RunObserved(in, nil)
}

// RunObserved is Run with a per-stage callback. obs may be nil.
func (p *Pipeline) RunObserved(in *Table, obs StageObserver) (*Table, error) {
	if in == nil {
		return nil, errors.New("features: nil table")
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", in.Symbol, err)
	}
	out := in.Clone()
	for _, s := range p.stages {
		start := time.Now()
		err := s.Apply(out)
		if obs != nil {
			obs(s.Name, time.Since(start), err)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: stage %s: %w", in.Symbol, s.Name, err)
		}
	}
	return out, nil
}
