package features

import (
	"encoding/json"
	"math"
	"strconv"
)

// Value is a nullable numeric cell. The zero Value is null.
type Value struct {
	Float float64
	Valid bool
}

// Some returns a non-null cell holding f.
func Some(f float64) Value { return Value{Float: f, Valid: true} }

// Null returns an empty cell.
func Null() Value { return Value{} }

// Ptr returns nil for null cells.
func (v Value) Ptr() *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float
	return &f
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid || math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v.Float, 'g', -1, 64), nil
}

func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = Some(f)
	return nil
}

// Series is one column of cells, aligned with the table rows.
type Series []Value

// NullSeries returns n null cells.
func NullSeries(n int) Series { return make(Series, n) }

// ValidCount returns the number of non-null cells.
func (s Series) ValidCount() int {
	n := 0
	for _, v := range s {
		if v.Valid {
			n++
		}
	}
	return n
}

// FirstValid returns the index of the first non-null cell, or -1.
func (s Series) FirstValid() int {
	for i, v := range s {
		if v.Valid {
			return i
		}
	}
	return -1
}
