package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/osbits/uptimer/internal/report"
)

const (
	StatusFiring   = "firing"
	StatusResolved = "resolved"
)

// Event describes a change in the set of failing triples between two runs.
type Event struct {
	Status      string // firing, resolved
	Severity    string
	Summary     string
	RunID       string
	Failures    []report.Failure
	Totals      report.Summary
	RealmStatus report.Status
	OccurredAt  time.Time
}

// Title is a one-line description suitable for subjects and headings.
func (e Event) Title() string {
	return fmt.Sprintf("[%s] %d check(s) %s", strings.ToUpper(e.Status), len(e.Failures), verb(e.Status))
}

// Lines renders one line per affected triple.
func (e Event) Lines() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		if e.Status == StatusResolved {
			out[i] = fmt.Sprintf("%s.%s.%s recovered", f.Service, f.Check, f.Host)
			continue
		}
		out[i] = f.String()
	}
	return out
}

// Data exposes the event to notification templates.
func (e Event) Data() map[string]interface{} {
	failures := make([]map[string]interface{}, len(e.Failures))
	for i, f := range e.Failures {
		failures[i] = map[string]interface{}{
			"service": f.Service,
			"check":   f.Check,
			"host":    f.Host,
			"checker": f.Kind,
			"reason":  f.Reason,
			"class":   string(f.Class),
		}
	}
	return map[string]interface{}{
		"status":       e.Status,
		"severity":     e.Severity,
		"summary":      e.Summary,
		"title":        e.Title(),
		"run_id":       e.RunID,
		"realm_status": string(e.RealmStatus),
		"failures":     failures,
		"totals": map[string]interface{}{
			"total":   e.Totals.Total,
			"success": e.Totals.Success,
			"failure": e.Totals.Failure,
		},
		"occurred_at": e.OccurredAt.Format(time.RFC3339),
	}
}

func verb(status string) string {
	if status == StatusResolved {
		return "recovered"
	}
	return "failing"
}

// Notifier represents a delivery mechanism.
type Notifier interface {
	ID() string
	Notify(ctx context.Context, event Event) error
}
