package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"FinFeat/internal/domain/models"
	domrepo "FinFeat/internal/domain/repository"
	applogger "FinFeat/pkg/logger"
)

// SQLiteBarStore keeps daily bars in a local SQLite file, one row per
// (symbol, date).
type SQLiteBarStore struct {
	db *sql.DB
	l  *applogger.Logger
}

// NewSQLiteBarStore opens (or creates) the database in WAL mode and ensures the schema.
func NewSQLiteBarStore(path string, l *applogger.Logger) (*SQLiteBarStore, error) {
	if l == nil {
		l = applogger.Nop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS daily_bars (
			symbol TEXT NOT NULL,
			date   TEXT NOT NULL,
			open   REAL NOT NULL,
			high   REAL NOT NULL,
			low    REAL NOT NULL,
			close  REAL NOT NULL,
			volume REAL NOT NULL,
			PRIMARY KEY (symbol, date)
		);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	l.Info("sqlite bar store opened", applogger.String("path", path))
	return &SQLiteBarStore{db: db, l: l}, nil
}

func (s *SQLiteBarStore) LoadBars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	where := []string{"symbol = ?"}
	args := []any{symbol}
	if !from.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, from.Format(models.DateLayout))
	}
	if !to.IsZero() {
		where = append(where, "date < ?")
		args = append(args, to.Format(models.DateLayout))
	}
	q := "SELECT date, open, high, low, close, volume FROM daily_bars WHERE " +
		strings.Join(where, " AND ") + " ORDER BY date ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite load bars %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []models.Bar
	for rows.Next() {
		var (
			b models.Bar
			d string
		)
		if err := rows.Scan(&d, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bar %s: %w", symbol, err)
		}
		if b.Date, err = time.Parse(models.DateLayout, d); err != nil {
			return nil, fmt.Errorf("sqlite bar date %q: %w", d, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite rows %s: %w", symbol, err)
	}
	if len(out) == 0 {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM daily_bars WHERE symbol = ?", symbol).Scan(&n); err == nil && n == 0 {
			return nil, fmt.Errorf("%s: %w", symbol, domrepo.ErrSymbolNotFound)
		}
	}
	return out, nil
}

// SaveBars upserts bars in a single transaction.
func (s *SQLiteBarStore) SaveBars(ctx context.Context, symbol string, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_bars (symbol, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume`)
	if err != nil {
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, models.SessionDate(b.Date).Format(models.DateLayout),
			b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("sqlite insert %s %s: %w", symbol, b.Date.Format(models.DateLayout), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	s.l.Info("sqlite bars saved", applogger.String("symbol", symbol), applogger.Int("rows", len(bars)))
	return nil
}

func (s *SQLiteBarStore) Close() error { return s.db.Close() }
