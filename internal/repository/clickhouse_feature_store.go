package repository

import (
	"context"
	"time"

	"FinFeat/internal/services/features"
	pkgch "FinFeat/pkg/clickhouse"
	applogger "FinFeat/pkg/logger"
)

// CHFeatureStore writes feature tables to ClickHouse in long format: one row
// per (symbol, pipeline, date, feature). Null cells are stored as NULL.
type CHFeatureStore struct {
	ch       *pkgch.Client
	table    string
	pipeline string
	l        *applogger.Logger
	now      func() time.Time
}

// NewCHFeatureStore tags every row with pipeline, the fingerprint of the
// parameter set that produced it.
func NewCHFeatureStore(ch *pkgch.Client, pipeline string, l *applogger.Logger) *CHFeatureStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHFeatureStore{
		ch:       ch,
		table:    ch.Database() + ".daily_features",
		pipeline: pipeline,
		l:        l,
		now:      time.Now,
	}
}

func (s *CHFeatureStore) Name() string { return "clickhouse" }

func (s *CHFeatureStore) WriteFeatures(ctx context.Context, t *features.Table) error {
	start := time.Now()
	rows := longRows(t, s.pipeline, s.now().UTC())
	if len(rows) == 0 {
		return nil
	}
	cols := []string{"symbol", "pipeline", "date", "feature", "value", "run_at"}
	if err := s.ch.InsertValues(ctx, s.table, cols, rows, pkgch.DefaultInsertChunk); err != nil {
		s.l.Error("clickhouse write_features error",
			applogger.String("table", s.table),
			applogger.String("symbol", t.Symbol),
			applogger.Error(err),
		)
		return err
	}
	s.l.Info("clickhouse write_features ok",
		applogger.String("symbol", t.Symbol),
		applogger.Int("rows", len(rows)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

// longRows flattens t into (symbol, pipeline, date, feature, value, run_at) tuples.
func longRows(t *features.Table, pipeline string, runAt time.Time) [][]any {
	names := t.Columns()
	rows := make([][]any, 0, t.Len()*len(names))
	for _, n := range names {
		s, _ := t.Column(n)
		for i, b := range t.Bars() {
			var v any
			if s[i].Valid {
				v = s[i].Float
			}
			rows = append(rows, []any{t.Symbol, pipeline, b.Date, n, v, runAt})
		}
	}
	return rows
}
