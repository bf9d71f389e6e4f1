package features

import (
	"fmt"
	"math"
	"time"

	"FinFeat/internal/domain/models"
)

// Kind tells writers how to render a column.
type Kind uint8

const (
	KindFloat Kind = iota
	KindInt
)

type column struct {
	name   string
	kind   Kind
	values Series
}

// Table is one instrument's ordered daily bars plus named feature columns.
// Rows are never reordered or removed once the table is built; stages only
// add or overwrite columns.
type Table struct {
	Symbol string

	bars   []models.Bar
	closes []float64
	cols   []column
	index  map[string]int
}

// NewTable copies bars into a new table with no feature columns.
func NewTable(symbol string, bars []models.Bar) *Table {
	t := &Table{
		Symbol: symbol,
		bars:   make([]models.Bar, len(bars)),
		closes: make([]float64, len(bars)),
		index:  make(map[string]int),
	}
	copy(t.bars, bars)
	for i, b := range bars {
		t.closes[i] = b.Close
	}
	return t
}

func (t *Table) Len() int { return len(t.bars) }

// Bars returns the underlying rows. Callers must not modify them.
func (t *Table) Bars() []models.Bar { return t.bars }

// Closes returns the Close column. Callers must not modify it.
func (t *Table) Closes() []float64 { return t.closes }

// Columns returns feature column names in insertion order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.name
	}
	return out
}

// Column returns the named feature column.
func (t *Table) Column(name string) (Series, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i].values, true
}

// Kind returns the render kind of the named column; unknown columns are floats.
func (t *Table) Kind(name string) Kind {
	if i, ok := t.index[name]; ok {
		return t.cols[i].kind
	}
	return KindFloat
}

// SetColumn adds or overwrites a column. An existing column keeps its position.
func (t *Table) SetColumn(name string, kind Kind, values Series) error {
	if len(values) != len(t.bars) {
		return fmt.Errorf("%w: column %s has %d cells, table has %d rows", ErrColumnLength, name, len(values), len(t.bars))
	}
	t.set(name, kind, values)
	return nil
}

func (t *Table) set(name string, kind Kind, values Series) {
	if i, ok := t.index[name]; ok {
		t.cols[i] = column{name: name, kind: kind, values: values}
		return
	}
	t.index[name] = len(t.cols)
	t.cols = append(t.cols, column{name: name, kind: kind, values: values})
}

// DropColumns removes the named columns; unknown names are ignored.
func (t *Table) DropColumns(names ...string) {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	kept := t.cols[:0]
	for _, c := range t.cols {
		if _, ok := drop[c.name]; !ok {
			kept = append(kept, c)
		}
	}
	t.cols = kept
	t.index = make(map[string]int, len(kept))
	for i, c := range kept {
		t.index[c.name] = i
	}
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := NewTable(t.Symbol, t.bars)
	for _, c := range t.cols {
		values := make(Series, len(c.values))
		copy(values, c.values)
		out.set(c.name, c.kind, values)
	}
	return out
}

// Validate checks the structural invariants every stage relies on: strictly
// increasing dates and positive finite closes.
func (t *Table) Validate() error {
	for i, b := range t.bars {
		if i > 0 {
			prev := t.bars[i-1].Date
			switch {
			case b.Date.Equal(prev):
				return &RowError{Row: i, Date: b.Date, Err: ErrDuplicateDate}
			case b.Date.Before(prev):
				return &RowError{Row: i, Date: b.Date, Err: ErrUnsortedDates}
			}
		}
	}
	return t.checkCloses()
}

func (t *Table) checkCloses() error {
	for i, c := range t.closes {
		if c <= 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			return &RowError{Row: i, Date: t.bars[i].Date, Err: ErrNonPositiveClose}
		}
	}
	return nil
}

// Dates returns row dates.
func (t *Table) Dates() []time.Time {
	out := make([]time.Time, len(t.bars))
	for i, b := range t.bars {
		out[i] = b.Date
	}
	return out
}

// Record returns row i as a publishable record.
func (t *Table) Record(i int, runAt time.Time) models.FeatureRecord {
	rec := models.FeatureRecord{
		Symbol:   t.Symbol,
		Date:     t.bars[i].Date.Format(models.DateLayout),
		Close:    t.closes[i],
		Features: make(map[string]*float64, len(t.cols)),
		RunAt:    runAt,
	}
	for _, c := range t.cols {
		rec.Features[c.name] = c.values[i].Ptr()
	}
	return rec
}
