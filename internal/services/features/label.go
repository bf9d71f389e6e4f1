package features

// AddTarget adds the binary next-session direction label. Target is 1 when the
// next close is strictly above the current one and 0 otherwise, ties included.
// The last row has no next session and stays null.
func AddTarget(t *Table) error {
	if err := t.checkCloses(); err != nil {
		return err
	}
	c := t.closes
	out := NullSeries(len(c))
	for i := 0; i+1 < len(c); i++ {
		if (c[i+1]-c[i])/c[i] > 0 {
			out[i] = Some(1)
		} else {
			out[i] = Some(0)
		}
	}
	t.set(ColTarget, KindInt, out)
	return nil
}
