package models

import (
	"strings"
	"time"
)

type ExecutionStatus string

const (
	SuccessExecutionStatus  ExecutionStatus = "success"
	FailedExecutionStatus   ExecutionStatus = "failed"
	RunningExecutionStatus  ExecutionStatus = "running"
	CanceledExecutionStatus ExecutionStatus = "canceled"
	WaitingExecutionStatus  ExecutionStatus = "waiting"
	NewExecutionStatus      ExecutionStatus = "new"
	CrashedExecutionStatus  ExecutionStatus = "crashed"
	UnknownExecutionStatus  ExecutionStatus = "unknown"
)

// Known reports whether s belongs to the closed set of execution statuses.
// UnknownExecutionStatus itself is not a known status.
func (s ExecutionStatus) Known() bool {
	switch s {
	case SuccessExecutionStatus, FailedExecutionStatus, RunningExecutionStatus,
		CanceledExecutionStatus, WaitingExecutionStatus, NewExecutionStatus, CrashedExecutionStatus:
		return true
	}
	return false
}

// Classify returns s if it is known and UnknownExecutionStatus otherwise.
func (s ExecutionStatus) Classify() ExecutionStatus {
	if s.Known() {
		return s
	}
	return UnknownExecutionStatus
}

// Terminal reports whether the run has finished with a measurable outcome.
func (s ExecutionStatus) Terminal() bool {
	return s == SuccessExecutionStatus || s == FailedExecutionStatus
}

// ParseExecutionStatus normalises a raw status string. Unrecognised values are
// kept verbatim so they can be reported as unknown with the raw value intact.
func ParseExecutionStatus(raw string) ExecutionStatus {
	s := ExecutionStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case "error":
		return FailedExecutionStatus
	case "cancelled":
		return CanceledExecutionStatus
	}
	return s
}

// ExecutionRecord is one historical run of a monitored workflow.
type ExecutionRecord struct {
	ID         string          `json:"id" db:"id"`                          // Opaque execution ID from n8n
	WorkflowID string          `json:"workflowId" db:"workflow_id"`         // Owning workflow definition
	UserID     string          `json:"userId" db:"user_id"`                 // Owner of the workflow
	Status     ExecutionStatus `json:"status" db:"status"`                  // Raw status, classified at aggregation time
	Mode       string          `json:"mode,omitempty" db:"mode"`            // Trigger mode (manual, webhook, ...)
	RetryOf    string          `json:"retryOf,omitempty" db:"retry_of"`     // Execution this one retried, if any
	StartedAt  *time.Time      `json:"startedAt,omitempty" db:"started_at"` // Nil until the run begins
	StoppedAt  *time.Time      `json:"stoppedAt,omitempty" db:"stopped_at"` // Nil until the run stops
}

// Duration returns the elapsed run time in milliseconds. ok is false when the
// record cannot be timed: non-terminal status, a missing timestamp or a
// stop time before the start time.
func (r ExecutionRecord) Duration() (ms int64, ok bool) {
	if !r.Status.Classify().Terminal() || r.StartedAt == nil || r.StoppedAt == nil {
		return 0, false
	}
	d := r.StoppedAt.Sub(*r.StartedAt).Milliseconds()
	if d < 0 {
		return 0, false
	}
	return d, true
}
