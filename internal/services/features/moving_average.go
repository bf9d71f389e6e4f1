package features

// AddSimpleMovingAverage adds MA_w, the trailing mean of Close.
func AddSimpleMovingAverage(t *Table, w int) error {
	out, err := RollingMean(t.closes, w)
	if err != nil {
		return err
	}
	t.set(MAColumn(w), KindFloat, out)
	return nil
}
