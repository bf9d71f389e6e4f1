package features

import (
	"fmt"
	"time"

	"FinFeat/internal/domain/models"
)

// Snapshot is the wire form of a Table: a header plus row-major cells.
// Columns starts with BaseColumns followed by the feature columns.
type Snapshot struct {
	Symbol     string    `json:"symbol"`
	Dates      []string  `json:"dates"`
	Columns    []string  `json:"columns"`
	IntColumns []string  `json:"int_columns,omitempty"`
	Rows       [][]Value `json:"rows"`
}

// Snapshot renders t.
func (t *Table) Snapshot() Snapshot {
	s := Snapshot{
		Symbol:  t.Symbol,
		Dates:   make([]string, t.Len()),
		Columns: append(append([]string{}, BaseColumns...), t.Columns()...),
		Rows:    make([][]Value, t.Len()),
	}
	for _, c := range t.cols {
		if c.kind == KindInt {
			s.IntColumns = append(s.IntColumns, c.name)
		}
	}
	for i, b := range t.bars {
		s.Dates[i] = b.Date.Format(models.DateLayout)
		row := make([]Value, 0, len(s.Columns))
		row = append(row, Some(b.Open), Some(b.High), Some(b.Low), Some(b.Close), Some(b.Volume))
		for _, c := range t.cols {
			row = append(row, c.values[i])
		}
		s.Rows[i] = row
	}
	return s
}

// FromSnapshot rebuilds a Table from its wire form.
func FromSnapshot(s Snapshot) (*Table, error) {
	if len(s.Columns) < len(BaseColumns) {
		return nil, fmt.Errorf("snapshot %s: missing base columns", s.Symbol)
	}
	for i, name := range BaseColumns {
		if s.Columns[i] != name {
			return nil, fmt.Errorf("snapshot %s: column %d is %q, want %q", s.Symbol, i, s.Columns[i], name)
		}
	}
	if len(s.Dates) != len(s.Rows) {
		return nil, fmt.Errorf("snapshot %s: %d dates for %d rows", s.Symbol, len(s.Dates), len(s.Rows))
	}

	bars := make([]models.Bar, len(s.Rows))
	for i, row := range s.Rows {
		if len(row) != len(s.Columns) {
			return nil, fmt.Errorf("snapshot %s: row %d has %d cells, want %d", s.Symbol, i, len(row), len(s.Columns))
		}
		d, err := time.Parse(models.DateLayout, s.Dates[i])
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: row %d: %w", s.Symbol, i, err)
		}
		bars[i] = models.Bar{Date: d, Open: row[0].Float, High: row[1].Float, Low: row[2].Float, Close: row[3].Float, Volume: row[4].Float}
	}

	ints := make(map[string]struct{}, len(s.IntColumns))
	for _, n := range s.IntColumns {
		ints[n] = struct{}{}
	}
	t := NewTable(s.Symbol, bars)
	base := len(BaseColumns)
	for j, name := range s.Columns[base:] {
		values := make(Series, len(s.Rows))
		for i, row := range s.Rows {
			values[i] = row[base+j]
		}
		kind := KindFloat
		if _, ok := ints[name]; ok {
			kind = KindInt
		}
		t.set(name, kind, values)
	}
	return t, nil
}
