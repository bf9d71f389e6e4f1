package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"FinFeat/internal/domain/models"
	"FinFeat/internal/services/features"
	applogger "FinFeat/pkg/logger"
)

// CSVFeatureWriter writes <SYMBOL>_features.csv. Null cells are empty and
// integer columns are written without a fractional part.
type CSVFeatureWriter struct {
	dir string
	l   *applogger.Logger
}

func NewCSVFeatureWriter(dir string, l *applogger.Logger) *CSVFeatureWriter {
	if l == nil {
		l = applogger.Nop()
	}
	return &CSVFeatureWriter{dir: dir, l: l}
}

func FeatureFileName(symbol, ext string) string { return symbol + "_features." + ext }

func (w *CSVFeatureWriter) Name() string { return "csv" }

func (w *CSVFeatureWriter) WriteFeatures(ctx context.Context, t *features.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(w.dir, FeatureFileName(t.Symbol, "csv"))
	if err := writeCSVAtomic(path, featureRecords(t)); err != nil {
		return fmt.Errorf("write features %s: %w", t.Symbol, err)
	}
	w.l.Info("csv features written",
		applogger.String("symbol", t.Symbol),
		applogger.String("path", path),
		applogger.Int("rows", t.Len()),
		applogger.Int("columns", len(t.Columns())),
	)
	return nil
}

// featureRecords renders t as a header row followed by one record per bar.
func featureRecords(t *features.Table) [][]string {
	names := t.Columns()
	header := append([]string{"Date"}, features.BaseColumns...)
	header = append(header, names...)

	cols := make([]features.Series, len(names))
	kinds := make([]features.Kind, len(names))
	for j, n := range names {
		cols[j], _ = t.Column(n)
		kinds[j] = t.Kind(n)
	}

	records := make([][]string, 0, t.Len()+1)
	records = append(records, header)
	for i, b := range t.Bars() {
		rec := make([]string, 0, len(header))
		rec = append(rec, b.Date.Format(models.DateLayout),
			formatFloat(b.Open), formatFloat(b.High), formatFloat(b.Low),
			formatFloat(b.Close), formatFloat(b.Volume))
		for j := range names {
			rec = append(rec, formatCell(cols[j][i], kinds[j]))
		}
		records = append(records, rec)
	}
	return records
}

func formatCell(v features.Value, kind features.Kind) string {
	if !v.Valid {
		return ""
	}
	if kind == features.KindInt {
		return strconv.FormatInt(int64(v.Float), 10)
	}
	return formatFloat(v.Float)
}
