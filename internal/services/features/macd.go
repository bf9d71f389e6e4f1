package features

// emaState is an exponential moving average seeded with the first observation
// (no bias adjustment).
type emaState struct {
	alpha  float64
	value  float64
	seeded bool
}

func newEMA(span int) emaState {
	return emaState{alpha: 2 / (float64(span) + 1)}
}

func (e *emaState) next(x float64) float64 {
	if !e.seeded {
		e.value, e.seeded = x, true
		return e.value
	}
	e.value = e.alpha*x + (1-e.alpha)*e.value
	return e.value
}

// macdFold advances the short, long and signal averages together in one pass.
type macdFold struct {
	short, long, signal emaState
}

func (f *macdFold) step(close float64) (short, long, macd, signal float64) {
	short = f.short.next(close)
	long = f.long.next(close)
	macd = short - long
	signal = f.signal.next(macd)
	return short, long, macd, signal
}

// EMA returns the exponential moving average of xs with alpha = 2/(span+1).
func EMA(xs []float64, span int) ([]float64, error) {
	if span <= 0 {
		return nil, invalidConfig("EMA span must be positive, got %d", span)
	}
	e := newEMA(span)
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = e.next(x)
	}
	return out, nil
}

// AddMACD adds EMA_short, EMA_long, MACD and Signal_Line. All four are
// defined from row 0.
func AddMACD(t *Table, shortSpan, longSpan, signalSpan int) error {
	switch {
	case shortSpan <= 0 || longSpan <= 0 || signalSpan <= 0:
		return invalidConfig("MACD spans must be positive, got %d/%d/%d", shortSpan, longSpan, signalSpan)
	case shortSpan >= longSpan:
		return invalidConfig("MACD short span %d must be below long span %d", shortSpan, longSpan)
	}

	n := t.Len()
	shortCol, longCol := make(Series, n), make(Series, n)
	macdCol, signalCol := make(Series, n), make(Series, n)
	f := macdFold{short: newEMA(shortSpan), long: newEMA(longSpan), signal: newEMA(signalSpan)}
	for i, c := range t.closes {
		s, l, m, sig := f.step(c)
		shortCol[i], longCol[i] = Some(s), Some(l)
		macdCol[i], signalCol[i] = Some(m), Some(sig)
	}
	t.set(EMAColumn(shortSpan), KindFloat, shortCol)
	t.set(EMAColumn(longSpan), KindFloat, longCol)
	t.set(ColMACD, KindFloat, macdCol)
	t.set(ColSignalLine, KindFloat, signalCol)
	return nil
}
