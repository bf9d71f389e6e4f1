package features

import (
	"gonum.org/v1/gonum/stat"
)

// Smoothing selects how RSI averages gains and losses.
type Smoothing string

const (
	// SmoothingBlended uses the simple rolling mean of the previous w sessions
	// as the prior and blends in the current gain or loss:
	//   avg[t] = mean(x[t-w..t-1]) * (w-1)/w + x[t]/w
	// It is not recursive. This is the default.
	SmoothingBlended Smoothing = "blended"
	// SmoothingWilder is the textbook two-phase Wilder average: seeded with the
	// mean of the first w deltas, then avg[t] = (avg[t-1]*(w-1) + x[t]) / w.
	SmoothingWilder Smoothing = "wilder"
)

// rsiFold carries the running averages of the Wilder recurrence.
type rsiFold struct {
	period  float64
	avgGain float64
	avgLoss float64
}

func (f *rsiFold) step(gain, loss float64) float64 {
	f.avgGain = (f.avgGain*(f.period-1) + gain) / f.period
	f.avgLoss = (f.avgLoss*(f.period-1) + loss) / f.period
	return rsiFromAverages(f.avgGain, f.avgLoss)
}

// rsiFromAverages maps average gain and loss to [0, 100]. A zero average loss
// saturates at 100, flat windows included.
func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// splitDeltas returns per-row gains and losses of closes. Row 0 has no prior
// close and contributes zero to both.
func splitDeltas(closes []float64) (gains, losses []float64) {
	gains = make([]float64, len(closes))
	losses = make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains[i] = d
		} else if d < 0 {
			losses[i] = -d
		}
	}
	return gains, losses
}

// RSI computes the relative strength index over closes. Both smoothing modes
// leave rows 0..w-1 null.
func RSI(closes []float64, w int, mode Smoothing) (Series, error) {
	if w <= 0 {
		return nil, invalidConfig("RSI window must be positive, got %d", w)
	}
	if mode != SmoothingBlended && mode != SmoothingWilder {
		return nil, invalidConfig("unknown RSI smoothing %q", mode)
	}
	gains, losses := splitDeltas(closes)
	out := NullSeries(len(closes))
	if len(closes) <= w {
		return out, nil
	}

	p := float64(w)
	switch mode {
	case SmoothingBlended:
		for i := w; i < len(closes); i++ {
			avgGain := stat.Mean(gains[i-w:i], nil)*(p-1)/p + gains[i]/p
			avgLoss := stat.Mean(losses[i-w:i], nil)*(p-1)/p + losses[i]/p
			out[i] = Some(rsiFromAverages(avgGain, avgLoss))
		}
	case SmoothingWilder:
		f := rsiFold{
			period:  p,
			avgGain: stat.Mean(gains[1:w+1], nil),
			avgLoss: stat.Mean(losses[1:w+1], nil),
		}
		out[w] = Some(rsiFromAverages(f.avgGain, f.avgLoss))
		for i := w + 1; i < len(closes); i++ {
			out[i] = Some(f.step(gains[i], losses[i]))
		}
	}
	return out, nil
}

// AddRSI adds RSI_w.
func AddRSI(t *Table, w int, mode Smoothing) error {
	out, err := RSI(t.closes, w, mode)
	if err != nil {
		return err
	}
	t.set(RSIColumn(w), KindFloat, out)
	return nil
}
