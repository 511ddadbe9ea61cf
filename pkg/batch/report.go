package batch

import (
	"fmt"
	"time"

	"github.com/orneryd/cypherbatch/pkg/statement"
)

// Status is the overall outcome of a batch.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// StepStatus is the outcome of one statement.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
)

// Step is the execution record of one statement.
type Step struct {
	// Step is 1-based and counts statements only, never comments.
	Step      int            `json:"step"`
	Statement string         `json:"statement"`
	Kind      statement.Kind `json:"type"`
	Status    StepStatus     `json:"status"`
	Message   string         `json:"message"`
	// AffectedRows is a best-effort count; see affectedRows.
	AffectedRows *int        `json:"affected_rows,omitempty"`
	Error        string      `json:"error,omitempty"`
	Failure      FailureKind `json:"failure,omitempty"`
	// Section is the most recent comment marker above the statement.
	Section string `json:"section,omitempty"`
}

// Result is the report for one batch.
type Result struct {
	RunID     string    `json:"run_id"`
	Status    Status    `json:"status"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Summary   string    `json:"summary"`
	Steps     []Step    `json:"steps"`
	StartedAt time.Time `json:"started_at"`
	ElapsedMs int64     `json:"elapsed_ms"`

	// Err is the batch-fatal error behind StatusError, for errors.Is checks.
	Err error `json:"-"`
}

// fold computes counts, status and summary from executed steps.
func (r *Result) fold(steps []Step) {
	r.Steps = steps
	r.Total = len(steps)
	r.Succeeded, r.Failed = 0, 0
	for _, s := range steps {
		if s.Status == StepSuccess {
			r.Succeeded++
		} else {
			r.Failed++
		}
	}

	switch {
	case r.Failed == 0:
		r.Status = StatusSuccess
	case r.Succeeded > 0:
		r.Status = StatusPartial
	default:
		r.Status = StatusError
	}
	r.Summary = fmt.Sprintf("completed: %d succeeded, %d failed", r.Succeeded, r.Failed)
}

// fail marks the whole batch as failed before or outside statement execution.
func (r *Result) fail(err error) {
	r.Status = StatusError
	r.Summary = err.Error()
	r.Steps = []Step{}
	r.Total, r.Succeeded, r.Failed = 0, 0, 0
	r.Err = err
}

func (r *Result) skip() {
	r.Status = StatusSkipped
	r.Summary = "nothing to execute"
	r.Steps = []Step{}
}
