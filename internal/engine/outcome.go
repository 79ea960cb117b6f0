package engine

import (
	"time"

	"github.com/osbits/uptimer/internal/checks"
)

// Outcome is the verdict for a single work item.
type Outcome struct {
	Success bool         `json:"success"`
	Reason  string       `json:"reason,omitempty"`
	Class   checks.Class `json:"class,omitempty"`
}

// Succeeded returns a successful outcome.
func Succeeded() Outcome {
	return Outcome{Success: true}
}

// Failed converts a checker error into a failure outcome.
func Failed(err error) Outcome {
	if err == nil {
		return Succeeded()
	}
	return Outcome{Reason: err.Error(), Class: checks.Classify(err)}
}

func (o Outcome) String() string {
	if o.Success {
		return "ok"
	}
	return o.Reason
}

// Result pairs a work item with its outcome.
type Result struct {
	Item      WorkItem
	Outcome   Outcome
	Attempts  int
	StartedAt time.Time
	Latency   time.Duration
}
