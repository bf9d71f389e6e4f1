package features

// AddDailyReturn adds the backward one-session percentage change. Row 0 is null.
func AddDailyReturn(t *Table) error {
	if err := t.checkCloses(); err != nil {
		return err
	}
	c := t.closes
	out := NullSeries(len(c))
	for i := 1; i < len(c); i++ {
		out[i] = Some((c[i] - c[i-1]) / c[i-1])
	}
	t.set(ColDailyReturn, KindFloat, out)
	return nil
}

// AddMultiDayReturns adds forward returns Return_Day_1..Return_Day_n. Each
// horizon i is null on the last i rows. Existing horizon columns are
// overwritten in place and never removed, so calling it again with a larger n
// only appends the new horizons.
func AddMultiDayReturns(t *Table, n int) error {
	if n < 1 {
		return invalidConfig("horizon count must be at least 1, got %d", n)
	}
	if err := t.checkCloses(); err != nil {
		return err
	}
	c := t.closes
	for h := 1; h <= n; h++ {
		out := NullSeries(len(c))
		for i := 0; i+h < len(c); i++ {
			out[i] = Some((c[i+h] - c[i]) / c[i])
		}
		t.set(ReturnColumn(h), KindFloat, out)
	}
	return nil
}
