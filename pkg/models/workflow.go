package models

import "time"

// Workflow is an n8n workflow registered for monitoring.
type Workflow struct {
	ID           string     `json:"id" db:"id"`                                 // n8n workflow ID
	Name         string     `json:"name" db:"name"`                             // Descriptive name (e.g., "Lead intake")
	UserID       string     `json:"userId" db:"user_id"`                        // Owning user/tenant
	Active       bool       `json:"active" db:"active"`                         // Mirrors the n8n active flag
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`                  // Registration timestamp
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`                  // Last update timestamp
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty" db:"last_synced_at"` // Nullable, set after each successful sync
}
