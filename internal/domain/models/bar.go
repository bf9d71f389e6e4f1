package models

import "time"

// DateLayout is the calendar-day layout used in files, queries and payloads.
const DateLayout = "2006-01-02"

// Bar is one daily OHLCV trading session.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// SessionDate truncates t to its UTC calendar day.
func SessionDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// InRange reports whether d falls in [from, to). Zero bounds are open.
func InRange(d, from, to time.Time) bool {
	if !from.IsZero() && d.Before(from) {
		return false
	}
	if !to.IsZero() && !d.Before(to) {
		return false
	}
	return true
}

// FeatureRecord is one labeled row as published to downstream consumers.
// Null feature cells are encoded as JSON null.
type FeatureRecord struct {
	Symbol   string              `json:"symbol"`
	Date     string              `json:"date"`
	Close    float64             `json:"close"`
	Features map[string]*float64 `json:"features"`
	RunAt    time.Time           `json:"run_at"`
}
