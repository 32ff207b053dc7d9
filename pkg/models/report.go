package models

import "time"

// DateLayout is the calendar-day format used for windows and timeline buckets.
const DateLayout = "2006-01-02"

// Overview holds status counts and rates for a window.
type Overview struct {
	TotalExecutions      int     `json:"totalExecutions"`
	SuccessfulExecutions int     `json:"successfulExecutions"`
	FailedExecutions     int     `json:"failedExecutions"`
	RunningExecutions    int     `json:"runningExecutions"`
	CanceledExecutions   int     `json:"canceledExecutions"`
	WaitingExecutions    int     `json:"waitingExecutions"`
	NewExecutions        int     `json:"newExecutions"`
	CrashedExecutions    int     `json:"crashedExecutions"`
	UnknownExecutions    int     `json:"unknownExecutions"`
	SuccessRate          float64 `json:"successRate"`     // Percent, 0..100
	FailureRate          float64 `json:"failureRate"`     // Percent, 0..100
	AverageDuration      float64 `json:"averageDuration"` // Milliseconds
}

// TimelineBucket aggregates the executions started on one calendar day.
type TimelineBucket struct {
	Date        string  `json:"date"` // YYYY-MM-DD
	Executions  int     `json:"executions"`
	Successful  int     `json:"successful"`
	SuccessRate float64 `json:"successRate"`
}

// Performance holds duration statistics in milliseconds over the timed executions.
type Performance struct {
	Fastest         int64   `json:"fastest"`
	Slowest         int64   `json:"slowest"`
	Median          float64 `json:"median"`
	Average         float64 `json:"average"`
	Total           int64   `json:"total"`
	TimedExecutions int     `json:"timedExecutions"`
}

// MetricsReport is computed fresh for one workflow and window; it is never stored
// as-is. See Snapshot for the persisted copy.
type MetricsReport struct {
	WorkflowID  string           `json:"workflowId,omitempty"`
	WindowStart string           `json:"windowStart"`
	WindowEnd   string           `json:"windowEnd"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Overview    Overview         `json:"overview"`
	Timeline    []TimelineBucket `json:"timeline"`
	Performance Performance      `json:"performance"`
}
