package features

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetAndMovingAverageScenario(t *testing.T) {
	tbl := tableFromCloses(100, 99, 101, 101, 103)

	require.NoError(t, AddTarget(tbl))
	require.NoError(t, AddSimpleMovingAverage(tbl, 3))

	assertSeries(t, "Target", mustColumn(t, tbl, ColTarget), []float64{0, 1, 0, 1, null}, 0)
	assert.Equal(t, KindInt, tbl.Kind(ColTarget))
	assertSeries(t, "MA_3", mustColumn(t, tbl, "MA_3"), []float64{null, null, 100, 100.333333, 101.666667}, 1e-6)
	assert.Equal(t, []string{"Target", "MA_3"}, tbl.Columns())
}

func TestAddDailyReturn(t *testing.T) {
	tbl := tableFromCloses(100, 99, 101, 101, 103)
	require.NoError(t, AddDailyReturn(tbl))
	assertSeries(t, "Daily_Return", mustColumn(t, tbl, ColDailyReturn),
		[]float64{null, -0.01, 2.0 / 99, 0, 2.0 / 101}, 1e-12)
}

func TestAddMultiDayReturns(t *testing.T) {
	tbl := tableFromCloses(100, 110, 121, 100)
	require.NoError(t, AddMultiDayReturns(tbl, 3))

	assertSeries(t, "Return_Day_1", mustColumn(t, tbl, "Return_Day_1"), []float64{0.1, 0.1, 100.0/121 - 1, null}, 1e-12)
	assertSeries(t, "Return_Day_2", mustColumn(t, tbl, "Return_Day_2"), []float64{0.21, 100.0/110 - 1, null, null}, 1e-12)
	assertSeries(t, "Return_Day_3", mustColumn(t, tbl, "Return_Day_3"), []float64{0, null, null, null}, 1e-12)
}

func TestAddMultiDayReturnsIsAdditive(t *testing.T) {
	tbl := randomWalk(40, 7)
	require.NoError(t, AddMultiDayReturns(tbl, 5))
	first := make(map[string]Series)
	for h := 1; h <= 5; h++ {
		s := mustColumn(t, tbl, ReturnColumn(h))
		first[ReturnColumn(h)] = append(Series(nil), s...)
	}

	require.NoError(t, AddMultiDayReturns(tbl, 10))
	require.Len(t, tbl.Columns(), 10)
	for h := 1; h <= 5; h++ {
		assert.Equal(t, first[ReturnColumn(h)], mustColumn(t, tbl, ReturnColumn(h)))
	}
	for h := 1; h <= 10; h++ {
		assert.Equal(t, ReturnColumn(h), tbl.Columns()[h-1])
		assert.Equal(t, tbl.Len()-h, mustColumn(t, tbl, ReturnColumn(h)).ValidCount())
	}

	require.NoError(t, AddMultiDayReturns(tbl, 10))
	assert.Len(t, tbl.Columns(), 10)
}

func TestRSIBlended(t *testing.T) {
	got, err := RSI([]float64{100, 99, 101, 101, 103}, 2, SmoothingBlended)
	require.NoError(t, err)
	assertSeries(t, "RSI_2", got, []float64{null, null, 80, 66.666667, 100}, 1e-6)
}

func TestRSIWilder(t *testing.T) {
	got, err := RSI([]float64{100, 99, 101, 101, 103}, 2, SmoothingWilder)
	require.NoError(t, err)
	assertSeries(t, "RSI_2", got, []float64{null, null, 66.666667, 66.666667, 90.909091}, 1e-6)
}

func TestRSIFlatAndRisingSaturate(t *testing.T) {
	for _, mode := range []Smoothing{SmoothingBlended, SmoothingWilder} {
		flat, err := RSI([]float64{50, 50, 50, 50, 50, 50}, 3, mode)
		require.NoError(t, err)
		assertSeries(t, string(mode)+" flat", flat, []float64{null, null, null, 100, 100, 100}, 0)

		rising, err := RSI([]float64{1, 2, 3, 4, 5, 6}, 3, mode)
		require.NoError(t, err)
		assertSeries(t, string(mode)+" rising", rising, []float64{null, null, null, 100, 100, 100}, 0)
	}
}

func TestRSIFallingIsZero(t *testing.T) {
	got, err := RSI([]float64{6, 5, 4, 3, 2}, 2, SmoothingBlended)
	require.NoError(t, err)
	assertSeries(t, "RSI_2", got, []float64{null, null, 0, 0, 0}, 1e-12)
}

func TestRSIShortInputIsAllNull(t *testing.T) {
	got, err := RSI([]float64{1, 2, 3}, 14, SmoothingBlended)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ValidCount())
}

func TestEMASeededWithFirstObservation(t *testing.T) {
	got, err := EMA([]float64{100, 99, 101}, 3)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{100, 99.5, 100.25}, got, 1e-12)
}

func TestAddMACD(t *testing.T) {
	tbl := tableFromCloses(100, 99, 101, 101, 103)
	require.NoError(t, AddMACD(tbl, 2, 3, 2))

	short := mustColumn(t, tbl, "EMA_2")
	long := mustColumn(t, tbl, "EMA_3")
	macd := mustColumn(t, tbl, ColMACD)
	signal := mustColumn(t, tbl, ColSignalLine)

	assert.Equal(t, []string{"EMA_2", "EMA_3", "MACD", "Signal_Line"}, tbl.Columns())
	assert.Equal(t, 5, signal.ValidCount())
	assert.Equal(t, 100.0, short[0].Float)
	assert.Equal(t, 0.0, macd[0].Float)
	assert.Equal(t, 0.0, signal[0].Float)

	// alpha(2)=2/3, alpha(3)=1/2
	assert.InDelta(t, 99+1.0/3, short[1].Float, 1e-12)
	assert.InDelta(t, 99.5, long[1].Float, 1e-12)
	for i := range macd {
		assert.Equal(t, short[i].Float-long[i].Float, macd[i].Float)
	}
	assert.InDelta(t, (2.0/3)*macd[1].Float, signal[1].Float, 1e-12)
}

func TestAddBollingerBands(t *testing.T) {
	tbl := tableFromCloses(100, 99, 101, 101, 103)
	require.NoError(t, AddBollingerBands(tbl, 3, 2))

	assertSeries(t, "Middle", mustColumn(t, tbl, "Middle_Band_3"), []float64{null, null, 100, 100.333333, 101.666667}, 1e-6)
	assertSeries(t, "SD", mustColumn(t, tbl, "Standard_Deviation_3"), []float64{null, null, 1, 1.154701, 1.154701}, 1e-6)
	assertSeries(t, "Upper", mustColumn(t, tbl, "Upper_Band_3"), []float64{null, null, 102, 102.642735, 103.976068}, 1e-6)
	assertSeries(t, "Lower", mustColumn(t, tbl, "Lower_Band_3"), []float64{null, null, 98, 98.023932, 99.357265}, 1e-6)

	_, hasMA := tbl.Column("MA_3")
	assert.False(t, hasMA)
}

func TestBollingerFlatSeriesCollapses(t *testing.T) {
	tbl := tableFromCloses(10, 10, 10, 10)
	require.NoError(t, AddBollingerBands(tbl, 2, 2))
	middle := mustColumn(t, tbl, "Middle_Band_2")
	upper := mustColumn(t, tbl, "Upper_Band_2")
	lower := mustColumn(t, tbl, "Lower_Band_2")
	for i := 1; i < 4; i++ {
		assert.Equal(t, middle[i], upper[i])
		assert.Equal(t, middle[i], lower[i])
	}
}

func TestStagesRejectInvalidParameters(t *testing.T) {
	tbl := tableFromCloses(1, 2, 3)
	cases := map[string]error{
		"ma zero":            AddSimpleMovingAverage(tbl, 0),
		"ma negative":        AddSimpleMovingAverage(tbl, -3),
		"horizons zero":      AddMultiDayReturns(tbl, 0),
		"rsi zero":           AddRSI(tbl, 0, SmoothingBlended),
		"rsi mode":           AddRSI(tbl, 14, Smoothing("ema")),
		"macd zero":          AddMACD(tbl, 0, 26, 9),
		"macd inverted":      AddMACD(tbl, 26, 12, 9),
		"bollinger k":        AddBollingerBands(tbl, 20, 0),
		"bollinger window":   AddBollingerBands(tbl, 1, 2),
		"bollinger negative": AddBollingerBands(tbl, -1, 2),
	}
	for name, err := range cases {
		assert.Truef(t, errors.Is(err, ErrInvalidConfig), "%s: got %v", name, err)
	}
	assert.Empty(t, tbl.Columns())
}

func TestStagesRejectNonPositiveClose(t *testing.T) {
	tbl := tableFromCloses(10, 0, 12)
	for _, err := range []error{AddTarget(tbl), AddDailyReturn(tbl), AddMultiDayReturns(tbl, 2)} {
		var rowErr *RowError
		require.ErrorAs(t, err, &rowErr)
		assert.Equal(t, 1, rowErr.Row)
		assert.ErrorIs(t, err, ErrNonPositiveClose)
	}
}

func TestWarmupNullity(t *testing.T) {
	tbl := randomWalk(60, 3)
	require.NoError(t, AddSimpleMovingAverage(tbl, 20))
	require.NoError(t, AddRSI(tbl, 14, SmoothingBlended))
	require.NoError(t, AddBollingerBands(tbl, 20, 2))

	for name, firstValid := range map[string]int{
		"MA_20": 19, "RSI_14": 14, "Middle_Band_20": 19, "Standard_Deviation_20": 19,
		"Upper_Band_20": 19, "Lower_Band_20": 19,
	} {
		s := mustColumn(t, tbl, name)
		assert.Equalf(t, firstValid, s.FirstValid(), "%s", name)
		assert.Equalf(t, tbl.Len()-firstValid, s.ValidCount(), "%s", name)
	}
}
