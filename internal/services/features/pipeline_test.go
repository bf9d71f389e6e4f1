package features

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFeat/internal/domain/models"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, []int{5, 20}, cfg.MAWindows)
	assert.Equal(t, 10, cfg.Horizons)
	assert.Equal(t, 14, cfg.RSIWindow)
	assert.Equal(t, SmoothingBlended, cfg.RSISmoothing)
	assert.Equal(t, [3]int{12, 26, 9}, [3]int{cfg.MACDShortSpan, cfg.MACDLongSpan, cfg.MACDSignalSpan})
	assert.Equal(t, 20, cfg.BollingerWindow)
	assert.Equal(t, 2.0, cfg.BollingerK)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ma5-20_h10_rsi14blended_macd12-26-9_bb20-2", cfg.Fingerprint())
}

func TestNewPipelineRejectsInvalidConfig(t *testing.T) {
	mutations := map[string]func(*Config){
		"zero ma window":     func(c *Config) { c.MAWindows = []int{5, 0} },
		"duplicate ma":       func(c *Config) { c.MAWindows = []int{5, 5} },
		"zero horizons":      func(c *Config) { c.Horizons = 0 },
		"negative rsi":       func(c *Config) { c.RSIWindow = -1 },
		"unknown smoothing":  func(c *Config) { c.RSISmoothing = "sma" },
		"short above long":   func(c *Config) { c.MACDShortSpan = 30 },
		"zero signal":        func(c *Config) { c.MACDSignalSpan = 0 },
		"bollinger window 1": func(c *Config) { c.BollingerWindow = 1 },
		"zero multiplier":    func(c *Config) { c.BollingerK = 0 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			p, err := NewPipeline(cfg)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestPipelineRunProducesAllColumns(t *testing.T) {
	p, err := NewPipeline(DefaultConfig())
	require.NoError(t, err)

	in := randomWalk(120, 11)
	out, err := p.Run(in)
	require.NoError(t, err)

	want := []string{"Target", "Daily_Return"}
	for h := 1; h <= 10; h++ {
		want = append(want, ReturnColumn(h))
	}
	want = append(want, "MA_5", "MA_20", "RSI_14", "EMA_12", "EMA_26", "MACD", "Signal_Line",
		"Middle_Band_20", "Standard_Deviation_20", "Upper_Band_20", "Lower_Band_20")
	assert.Equal(t, want, out.Columns())
	assert.Equal(t, in.Len(), out.Len())
	assert.Equal(t, in.Bars(), out.Bars())

	assert.Empty(t, in.Columns(), "input table must not be mutated")
	_, ok := out.Column("Next_Day_Close")
	assert.False(t, ok)
	_, ok = out.Column("Next_Day_Return")
	assert.False(t, ok)
}

func TestPipelineProperties(t *testing.T) {
	p, err := NewPipeline(DefaultConfig())
	require.NoError(t, err)
	out, err := p.Run(randomWalk(250, 42))
	require.NoError(t, err)

	c := out.Closes()
	target := mustColumn(t, out, ColTarget)
	daily := mustColumn(t, out, ColDailyReturn)
	r1 := mustColumn(t, out, ReturnColumn(1))
	for i := 0; i < out.Len()-1; i++ {
		want := 0.0
		if c[i+1] > c[i] {
			want = 1
		}
		assert.Equal(t, want, target[i].Float)
		assert.InDelta(t, (c[i+1]-c[i])/c[i], r1[i].Float, 1e-12)
		assert.InDelta(t, daily[i+1].Float, r1[i].Float, 1e-12)
	}
	assert.False(t, target[out.Len()-1].Valid)

	for i, v := range mustColumn(t, out, "RSI_14") {
		if v.Valid {
			assert.GreaterOrEqualf(t, v.Float, 0.0, "RSI[%d]", i)
			assert.LessOrEqualf(t, v.Float, 100.0, "RSI[%d]", i)
		}
	}

	short, long := mustColumn(t, out, "EMA_12"), mustColumn(t, out, "EMA_26")
	for i, m := range mustColumn(t, out, ColMACD) {
		assert.Equal(t, short[i].Float-long[i].Float, m.Float)
	}

	middle := mustColumn(t, out, "Middle_Band_20")
	upper := mustColumn(t, out, "Upper_Band_20")
	lower := mustColumn(t, out, "Lower_Band_20")
	ma20 := mustColumn(t, out, "MA_20")
	for i := range middle {
		if !middle[i].Valid {
			continue
		}
		assert.LessOrEqual(t, lower[i].Float, middle[i].Float)
		assert.LessOrEqual(t, middle[i].Float, upper[i].Float)
		assert.Equal(t, ma20[i], middle[i])
	}
}

func TestPipelineShortInput(t *testing.T) {
	p, err := NewPipeline(DefaultConfig())
	require.NoError(t, err)
	out, err := p.Run(tableFromCloses(10, 11, 12))
	require.NoError(t, err)

	for _, name := range []string{"MA_20", "RSI_14", "Middle_Band_20", "Return_Day_5"} {
		assert.Equalf(t, 0, mustColumn(t, out, name).ValidCount(), "%s", name)
	}
	assert.Equal(t, 3, mustColumn(t, out, ColMACD).ValidCount())
}

func TestPipelineEmptyTable(t *testing.T) {
	p, err := NewPipeline(DefaultConfig())
	require.NoError(t, err)
	out, err := p.Run(NewTable("EMPTY", nil))
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
	assert.NotEmpty(t, out.Columns())
}

func TestPipelineRejectsBadRows(t *testing.T) {
	p, err := NewPipeline(DefaultConfig())
	require.NoError(t, err)

	dup := tableFromCloses(1, 2, 3)
	dup.bars[2].Date = dup.bars[1].Date
	unsorted := tableFromCloses(1, 2, 3)
	unsorted.bars[2].Date = day0.AddDate(0, 0, -1)
	negative := tableFromCloses(1, -2, 3)

	cases := []struct {
		name string
		tbl  *Table
		err  error
		row  int
	}{
		{"duplicate", dup, ErrDuplicateDate, 2},
		{"unsorted", unsorted, ErrUnsortedDates, 2},
		{"negative close", negative, ErrNonPositiveClose, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := p.Run(tc.tbl)
			assert.Nil(t, out)
			require.ErrorIs(t, err, tc.err)
			var rowErr *RowError
			require.True(t, errors.As(err, &rowErr))
			assert.Equal(t, tc.row, rowErr.Row)
		})
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	p, err := NewPipeline(DefaultConfig())
	require.NoError(t, err)
	out, err := p.Run(randomWalk(30, 5))
	require.NoError(t, err)

	raw, err := json.Marshal(out.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "null")

	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	back, err := FromSnapshot(snap)
	require.NoError(t, err)

	assert.Equal(t, out.Columns(), back.Columns())
	assert.Equal(t, KindInt, back.Kind(ColTarget))
	for _, name := range out.Columns() {
		want, _ := out.Column(name)
		got, _ := back.Column(name)
		assertSeries(t, name, got, toFloats(want), 1e-12)
	}
}

func TestTableRecord(t *testing.T) {
	tbl := tableFromCloses(100, 101)
	require.NoError(t, AddTarget(tbl))
	rec := tbl.Record(1, day0)
	assert.Equal(t, "2024-01-03", rec.Date)
	assert.Equal(t, 101.0, rec.Close)
	assert.Nil(t, rec.Features[ColTarget])

	rec = tbl.Record(0, day0)
	require.NotNil(t, rec.Features[ColTarget])
	assert.Equal(t, 1.0, *rec.Features[ColTarget])
}

func TestSetColumnLengthMismatch(t *testing.T) {
	tbl := NewTable("X", []models.Bar{{Date: day0, Close: 1}})
	assert.ErrorIs(t, tbl.SetColumn("Foo", KindFloat, NullSeries(2)), ErrColumnLength)
	require.NoError(t, tbl.SetColumn("Foo", KindFloat, Series{Some(3)}))
	tbl.DropColumns("Foo", "Bar")
	assert.Empty(t, tbl.Columns())
}

func TestRunObservedReportsEveryStage(t *testing.T) {
	p, err := NewPipeline(DefaultConfig())
	require.NoError(t, err)

	var seen []string
	_, err = p.RunObserved(randomWalk(60, 3), func(stage string, d time.Duration, err error) {
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		seen = append(seen, stage)
	})
	require.NoError(t, err)
	assert.Equal(t, p.Stages(), seen)
}

func toFloats(s Series) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		if v.Valid {
			out[i] = v.Float
		} else {
			out[i] = null
		}
	}
	return out
}
