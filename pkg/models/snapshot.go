package models

import "time"

// Snapshot is a stored copy of a MetricsReport, kept for historical comparison.
type Snapshot struct {
	ID         string        `json:"id"`
	WorkflowID string        `json:"workflowId"`
	UserID     string        `json:"userId,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	Report     MetricsReport `json:"report"`
}
