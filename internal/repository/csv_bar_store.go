package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"FinFeat/internal/domain/models"
	domrepo "FinFeat/internal/domain/repository"
	applogger "FinFeat/pkg/logger"
)

var barHeader = []string{"Date", "Open", "High", "Low", "Close", "Volume"}

// CSVBarStore keeps one <SYMBOL>_data.csv file per instrument in a directory.
// It reads both the plain Date,Open,High,Low,Close,Volume layout and the
// three-line header layout written by yfinance (Price/Ticker/Date rows).
type CSVBarStore struct {
	dir string
	mu  sync.Mutex
	l   *applogger.Logger
}

func NewCSVBarStore(dir string, l *applogger.Logger) *CSVBarStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CSVBarStore{dir: dir, l: l}
}

// BarFileName is the file holding symbol's bars.
func BarFileName(symbol string) string { return symbol + "_data.csv" }

func (s *CSVBarStore) path(symbol string) string {
	return filepath.Join(s.dir, BarFileName(symbol))
}

func (s *CSVBarStore) LoadBars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(symbol))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", symbol, domrepo.ErrSymbolNotFound)
		}
		return nil, fmt.Errorf("open bars %s: %w", symbol, err)
	}
	defer f.Close()

	bars, err := readBarsCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read bars %s: %w", symbol, err)
	}
	out := bars[:0]
	for _, b := range bars {
		if models.InRange(b.Date, from, to) {
			out = append(out, b)
		}
	}
	s.l.Debug("csv bars loaded", applogger.String("symbol", symbol), applogger.Int("rows", len(out)))
	return out, nil
}

// SaveBars merges bars into the symbol's file, replacing sessions with the
// same date, and rewrites it in ascending date order.
func (s *CSVBarStore) SaveBars(ctx context.Context, symbol string, bars []models.Bar) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[time.Time]models.Bar)
	existing, err := s.LoadBars(ctx, symbol, time.Time{}, time.Time{})
	switch {
	case err == nil:
		for _, b := range existing {
			merged[b.Date] = b
		}
	case errors.Is(err, domrepo.ErrSymbolNotFound):
	default:
		return err
	}
	for _, b := range bars {
		b.Date = models.SessionDate(b.Date)
		merged[b.Date] = b
	}

	all := make([]models.Bar, 0, len(merged))
	for _, b := range merged {
		all = append(all, b)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Date.Before(all[j].Date) })

	records := make([][]string, 0, len(all)+1)
	records = append(records, barHeader)
	for _, b := range all {
		records = append(records, []string{
			b.Date.Format(models.DateLayout),
			formatFloat(b.Open), formatFloat(b.High), formatFloat(b.Low),
			formatFloat(b.Close), formatFloat(b.Volume),
		})
	}
	if err := writeCSVAtomic(s.path(symbol), records); err != nil {
		return fmt.Errorf("write bars %s: %w", symbol, err)
	}
	s.l.Info("csv bars saved", applogger.String("symbol", symbol), applogger.Int("rows", len(all)))
	return nil
}

func (s *CSVBarStore) Close() error { return nil }

func readBarsCSV(r io.Reader) ([]models.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	dateCol, ok := idx["date"]
	if !ok {
		if _, yf := idx["price"]; !yf {
			return nil, fmt.Errorf("missing Date column in header %v", header)
		}
		dateCol = 0
	}
	cols := map[string]int{}
	for _, name := range []string{"open", "high", "low", "close", "volume"} {
		i, ok := idx[name]
		if !ok {
			return nil, fmt.Errorf("missing %s column in header %v", name, header)
		}
		cols[name] = i
	}

	var out []models.Bar
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if dateCol >= len(rec) {
			continue
		}
		first := strings.TrimSpace(rec[dateCol])
		if first == "" || strings.EqualFold(first, "ticker") || strings.EqualFold(first, "date") {
			continue
		}
		d, err := parseSessionDate(first)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		b := models.Bar{Date: d}
		for name, i := range cols {
			if i >= len(rec) {
				return nil, fmt.Errorf("line %d: missing %s", line, name)
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, name, err)
			}
			switch name {
			case "open":
				b.Open = v
			case "high":
				b.High = v
			case "low":
				b.Low = v
			case "close":
				b.Close = v
			case "volume":
				b.Volume = v
			}
		}
		out = append(out, b)
	}
	return out, nil
}

// parseSessionDate accepts a bare date or a date followed by a time and zone.
func parseSessionDate(s string) (time.Time, error) {
	if len(s) < len(models.DateLayout) {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	d, err := time.Parse(models.DateLayout, s[:len(models.DateLayout)])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// writeCSVAtomic writes records to a temporary file and renames it into place.
func writeCSVAtomic(path string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(records); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
