package model

import (
	"encoding/json"
	"time"
)

// Status is the terminal state of one chunk task.
type Status string

const (
	StatusSkipped     Status = "skipped"      // partition file already present
	StatusNoData      Status = "no_data"      // API returned no candles, nothing written
	StatusFetchFailed Status = "fetch_failed" // transport failure after the retry
	StatusWritten     Status = "written"      // partition file created
	StatusFailed      Status = "failed"       // indicator or store failure
)

// Statuses lists every status in reporting order.
var Statuses = []Status{StatusWritten, StatusSkipped, StatusNoData, StatusFetchFailed, StatusFailed}

// Outcome is the result of one chunk task.
type Outcome struct {
	RunID       string        `json:"run_id,omitempty"`
	Instrument  string        `json:"instrument"`
	Token       int64         `json:"token"`
	Chunk       Partition     `json:"chunk"`
	Status      Status        `json:"status"`
	Rows        int           `json:"rows"`
	Err         error         `json:"-"`
	Duration    time.Duration `json:"duration"`
	TradingDays int           `json:"trading_days"`
	TraceID     string        `json:"trace_id,omitempty"`
	At          time.Time     `json:"at"`
}

// ErrText returns the error text, empty when the outcome carries no error.
func (o *Outcome) ErrText() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// JSON returns the JSON-encoded outcome (ignoring errors for logging usage).
func (o *Outcome) JSON() []byte {
	type wire struct {
		Outcome
		Error string `json:"error,omitempty"`
	}
	b, _ := json.Marshal(wire{Outcome: *o, Error: o.ErrText()})
	return b
}
