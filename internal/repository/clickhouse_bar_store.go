package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"FinFeat/internal/domain/models"
	domrepo "FinFeat/internal/domain/repository"
	pkgch "FinFeat/pkg/clickhouse"
	applogger "FinFeat/pkg/logger"
)

// ClickHouseSchema returns the idempotent DDL for the bar and feature tables.
func ClickHouseSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.daily_bars (
			symbol      LowCardinality(String),
			date        Date,
			open        Float64,
			high        Float64,
			low         Float64,
			close       Float64,
			volume      Float64,
			ingested_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(ingested_at)
		ORDER BY (symbol, date)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.daily_features (
			symbol   LowCardinality(String),
			pipeline LowCardinality(String),
			date     Date,
			feature  LowCardinality(String),
			value    Nullable(Float64),
			run_at   DateTime64(3)
		) ENGINE = ReplacingMergeTree(run_at)
		ORDER BY (symbol, pipeline, date, feature)`, database),
	}
}

// CHBarStore reads and writes daily bars in ClickHouse.
type CHBarStore struct {
	ch    *pkgch.Client
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHBarStore(ch *pkgch.Client, l *applogger.Logger) *CHBarStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHBarStore{ch: ch, db: ch.DB(), table: ch.Database() + ".daily_bars", l: l}
}

func (s *CHBarStore) LoadBars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	start := time.Now()
	where := []string{"symbol = ?"}
	args := []any{symbol}
	if !from.IsZero() {
		where = append(where, "date >= toDate(?)")
		args = append(args, from.Format(models.DateLayout))
	}
	if !to.IsZero() {
		where = append(where, "date < toDate(?)")
		args = append(args, to.Format(models.DateLayout))
	}
	q := fmt.Sprintf(`
        SELECT date, open, high, low, close, volume
        FROM %s FINAL
        WHERE %s
        ORDER BY date ASC
    `, s.table, strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse load_bars query error",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("load bars: %w", err)
	}
	defer rows.Close()

	out := make([]models.Bar, 0, 512)
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			s.l.Error("clickhouse load_bars scan error",
				applogger.String("table", s.table),
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Date = models.SessionDate(b.Date)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if len(out) == 0 && from.IsZero() && to.IsZero() {
		return nil, fmt.Errorf("%s: %w", symbol, domrepo.ErrSymbolNotFound)
	}
	s.l.Info("clickhouse load_bars ok",
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *CHBarStore) SaveBars(ctx context.Context, symbol string, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	rows := make([][]any, len(bars))
	for i, b := range bars {
		rows[i] = []any{symbol, models.SessionDate(b.Date), b.Open, b.High, b.Low, b.Close, b.Volume}
	}
	cols := []string{"symbol", "date", "open", "high", "low", "close", "volume"}
	if err := s.ch.InsertValues(ctx, s.table, cols, rows, pkgch.DefaultInsertChunk); err != nil {
		s.l.Error("clickhouse save_bars error", applogger.String("symbol", symbol), applogger.Error(err))
		return err
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (s *CHBarStore) Close() error { return nil }
