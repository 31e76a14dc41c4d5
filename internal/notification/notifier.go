// Package notification delivers end-of-run alerts to external channels
// (log, Telegram, webhooks).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"kite-backfill/internal/backfill"
	"kite-backfill/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	RunID   string            `json:"run_id,omitempty"`
	Level   AlertLevel        `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Totals  map[string]int    `json:"totals,omitempty"`
	Failed  []string          `json:"failed,omitempty"` // "instrument chunk: error"
	Reports map[string]string `json:"reports,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// maxFailedLines caps the failure list of a summary.
const maxFailedLines = 10

// RunSummary builds the end-of-run alert. failed is the run verdict
// (see backfill.Failed); fetch failures alone only raise a warning.
func RunSummary(reports []backfill.Report, failed bool) Alert {
	totals := backfill.Totals(reports)

	level := AlertInfo
	switch {
	case failed:
		level = AlertCritical
	case totals[model.StatusFetchFailed] > 0:
		level = AlertWarning
	}

	a := Alert{
		Level:   level,
		Title:   fmt.Sprintf("Backfill finished: %d instruments", len(reports)),
		Totals:  make(map[string]int, len(totals)),
		Reports: make(map[string]string, len(reports)),
	}
	if failed {
		a.Title = fmt.Sprintf("Backfill failed: %d instruments", len(reports))
	}

	rows := 0
	for i := range reports {
		r := &reports[i]
		rows += r.Rows()
		a.Reports[r.Instrument] = r.Summary()
		if r.Err != nil {
			a.Failed = append(a.Failed, fmt.Sprintf("%s: %v", r.Instrument, r.Err))
			continue
		}
		for j := range r.Outcomes {
			o := &r.Outcomes[j]
			if o.Status == model.StatusFailed || o.Status == model.StatusFetchFailed {
				a.Failed = append(a.Failed, fmt.Sprintf("%s %s: %s", o.Instrument, o.Chunk.String(), o.ErrText()))
			}
		}
	}
	sort.Strings(a.Failed)

	parts := make([]string, 0, len(model.Statuses)+1)
	for _, s := range model.Statuses {
		a.Totals[string(s)] = totals[s]
		parts = append(parts, fmt.Sprintf("%s=%d", s, totals[s]))
	}
	parts = append(parts, fmt.Sprintf("rows=%d", rows))

	var msg strings.Builder
	msg.WriteString(strings.Join(parts, " "))
	for i, f := range a.Failed {
		if i == maxFailedLines {
			fmt.Fprintf(&msg, "\n... %d more", len(a.Failed)-maxFailedLines)
			break
		}
		msg.WriteString("\n")
		msg.WriteString(f)
	}
	a.Message = msg.String()
	return a
}
