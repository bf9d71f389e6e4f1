package features

// AddBollingerBands adds Middle_Band_w, Standard_Deviation_w, Upper_Band_w and
// Lower_Band_w. The middle band is the moving-average primitive; no MA_w
// column is added. All four share the w-1 row warm-up.
func AddBollingerBands(t *Table, w int, k float64) error {
	if k <= 0 {
		return invalidConfig("Bollinger multiplier must be positive, got %g", k)
	}
	middle, err := RollingMean(t.closes, w)
	if err != nil {
		return err
	}
	sd, err := RollingStdDev(t.closes, w)
	if err != nil {
		return err
	}
	upper, lower := NullSeries(len(middle)), NullSeries(len(middle))
	for i := range middle {
		if middle[i].Valid && sd[i].Valid {
			upper[i] = Some(middle[i].Float + k*sd[i].Float)
			lower[i] = Some(middle[i].Float - k*sd[i].Float)
		}
	}
	t.set(MiddleBandColumn(w), KindFloat, middle)
	t.set(StdDevColumn(w), KindFloat, sd)
	t.set(UpperBandColumn(w), KindFloat, upper)
	t.set(LowerBandColumn(w), KindFloat, lower)
	return nil
}
