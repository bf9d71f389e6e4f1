package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"FinFeat/internal/domain/models"
	"FinFeat/internal/services/features"
	applogger "FinFeat/pkg/logger"
)

// XLSXFeatureWriter writes <SYMBOL>_features.xlsx with one sheet named after
// the symbol. Null cells are left blank.
type XLSXFeatureWriter struct {
	dir string
	l   *applogger.Logger
}

func NewXLSXFeatureWriter(dir string, l *applogger.Logger) *XLSXFeatureWriter {
	if l == nil {
		l = applogger.Nop()
	}
	return &XLSXFeatureWriter{dir: dir, l: l}
}

func (w *XLSXFeatureWriter) Name() string { return "xlsx" }

func (w *XLSXFeatureWriter) WriteFeatures(ctx context.Context, t *features.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(t.Symbol)
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("stream writer: %w", err)
	}

	names := t.Columns()
	header := make([]interface{}, 0, len(names)+6)
	header = append(header, "Date")
	for _, n := range features.BaseColumns {
		header = append(header, n)
	}
	for _, n := range names {
		header = append(header, n)
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	cols := make([]features.Series, len(names))
	for j, n := range names {
		cols[j], _ = t.Column(n)
	}
	for i, b := range t.Bars() {
		row := make([]interface{}, 0, len(header))
		row = append(row, b.Date.Format(models.DateLayout), b.Open, b.High, b.Low, b.Close, b.Volume)
		for j, n := range names {
			v := cols[j][i]
			switch {
			case !v.Valid:
				row = append(row, nil)
			case t.Kind(n) == features.KindInt:
				row = append(row, int64(v.Float))
			default:
				row = append(row, v.Float)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}

	path := filepath.Join(w.dir, FeatureFileName(t.Symbol, "xlsx"))
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	w.l.Info("xlsx features written",
		applogger.String("symbol", t.Symbol),
		applogger.String("path", path),
		applogger.Int("rows", t.Len()),
	)
	return nil
}

// sheetName trims symbol to the 31 characters a worksheet name allows.
func sheetName(symbol string) string {
	if symbol == "" {
		return "features"
	}
	if len(symbol) > 31 {
		return symbol[:31]
	}
	return symbol
}
