package jobs

import (
	"time"

	"github.com/aegisreview/linkflow/internal/linkcheck"
)

// State is a job's lifecycle phase. Transitions only move forward:
// pending -> running -> complete | failed | cancelled.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether a state accepts no further transitions.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateCancelled
}

// ValidationRun is one submitted batch working through the pipeline. Results
// and Summary are populated only in terminal states; pollers read live
// progress from the tracker's stats snapshot instead.
type ValidationRun struct {
	ID        string                      `json:"id"`
	State     State                       `json:"state"`
	Request   linkcheck.ValidationRequest `json:"request"`
	CreatedAt time.Time                   `json:"createdAt"`
	StartedAt *time.Time                  `json:"startedAt,omitempty"`
	EndedAt   *time.Time                  `json:"endedAt,omitempty"`

	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Error     string `json:"error,omitempty"`

	Results []*linkcheck.ValidationResult `json:"results,omitempty"`
	Summary *linkcheck.Summary            `json:"summary,omitempty"`
}

// snapshot returns a copy safe to hand outside the store's lock. Result
// pointers are shared; runs in terminal states are no longer mutated.
func (r *ValidationRun) snapshot() *ValidationRun {
	cp := *r
	if r.Results != nil {
		cp.Results = append([]*linkcheck.ValidationResult(nil), r.Results...)
	}
	if r.Summary != nil {
		s := *r.Summary
		cp.Summary = &s
	}
	return &cp
}
