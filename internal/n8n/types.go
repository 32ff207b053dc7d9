package n8n

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/ignatij/flowmetrics/pkg/models"
)

// ID accepts both JSON strings and numbers; n8n changed ID encoding between releases.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Workflow is a workflow definition as returned by GET /api/v1/workflows.
type Workflow struct {
	ID        ID        `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Execution is an execution summary as returned by GET /api/v1/executions.
type Execution struct {
	ID         ID         `json:"id"`
	WorkflowID ID         `json:"workflowId"`
	Finished   bool       `json:"finished"`
	Mode       string     `json:"mode"`
	RetryOf    ID         `json:"retryOf"`
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"startedAt"`
	StoppedAt  *time.Time `json:"stoppedAt"`
}

type page[T any] struct {
	Data       []T     `json:"data"`
	NextCursor *string `json:"nextCursor"`
}

// Record converts the execution into an ExecutionRecord owned by userID.
// Releases without a status field only report finished and stoppedAt, so the
// status is derived from those.
func (e Execution) Record(userID string) models.ExecutionRecord {
	status := models.ParseExecutionStatus(e.Status)
	if e.Status == "" {
		switch {
		case e.StoppedAt == nil:
			status = models.RunningExecutionStatus
		case e.Finished:
			status = models.SuccessExecutionStatus
		default:
			status = models.FailedExecutionStatus
		}
	}
	return models.ExecutionRecord{
		ID:         string(e.ID),
		WorkflowID: string(e.WorkflowID),
		UserID:     userID,
		Status:     status,
		Mode:       e.Mode,
		RetryOf:    string(e.RetryOf),
		StartedAt:  e.StartedAt,
		StoppedAt:  e.StoppedAt,
	}
}
