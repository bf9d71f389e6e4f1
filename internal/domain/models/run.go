package models

import "time"

type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunSucceeded RunStatus = "succeeded"
	RunCached    RunStatus = "cached"
	RunFailed    RunStatus = "failed"
)

// RunEvent describes the lifecycle of one feature build for one symbol.
type RunEvent struct {
	Symbol     string    `json:"symbol"`
	Status     RunStatus `json:"status"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	Rows       int       `json:"rows"`
	Columns    []string  `json:"columns,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}
