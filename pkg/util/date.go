package util

import (
	"fmt"
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

// ParseTime accepts a calendar date, an RFC3339 timestamp or unix seconds.
// Results are in UTC.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}

// ParseDateRange parses an optional [from, to) pair of session dates. Empty
// inputs fall back to the defaults; both bounds are truncated to UTC days.
func ParseDateRange(from, to string, defFrom, defTo time.Time) (time.Time, time.Time, error) {
	f, t := defFrom, defTo
	if from != "" {
		v, ok := ParseTime(from)
		if !ok {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q", from)
		}
		f = v
	}
	if to != "" {
		v, ok := ParseTime(to)
		if !ok {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q", to)
		}
		t = v
	}
	f, t = TruncateDay(f), TruncateDay(t)
	if !f.IsZero() && !t.IsZero() && !f.Before(t) {
		return time.Time{}, time.Time{}, fmt.Errorf("from %s must be before to %s", f.Format(dateLayout), t.Format(dateLayout))
	}
	return f, t, nil
}

// TruncateDay drops the time of day, keeping the zero time zero.
func TruncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
