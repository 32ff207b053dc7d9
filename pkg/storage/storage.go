package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ignatij/flowmetrics/pkg/models"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound indicates the requested workflow does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a workflow with the same ID is already registered.
	ErrAlreadyExists = errors.New("already exists")
)

// ExecutionFilter selects execution records. Zero values leave a field unfiltered.
// From is inclusive and To exclusive; records that never started are returned
// regardless of the time range because they still count towards totals.
type ExecutionFilter struct {
	WorkflowID string
	UserID     string
	From       time.Time
	To         time.Time
	Limit      int
}

// Store is the record source for execution data and the registry of monitored workflows.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Workflow operations
	SaveWorkflow(ctx context.Context, w models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (models.Workflow, error)
	ListWorkflows(ctx context.Context, userID string) ([]models.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
	MarkWorkflowSynced(ctx context.Context, id string, at time.Time) error

	// Execution operations
	SaveExecutions(ctx context.Context, records []models.ExecutionRecord) (int, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]models.ExecutionRecord, error)
}

// SnapshotStore keeps historical copies of metrics reports.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s models.Snapshot) error
	ListSnapshots(ctx context.Context, workflowID string, limit int) ([]models.Snapshot, error)
}

// OpError adds the failed operation and workflow to a storage error.
type OpError struct {
	Op         string // Operation being performed (e.g., "GetWorkflow")
	WorkflowID string // Workflow ID if applicable
	Err        error  // Underlying error
}

func (e *OpError) Error() string {
	if e.WorkflowID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// NewOpError wraps err with operation context. It returns nil for a nil err.
func NewOpError(op, workflowID string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, WorkflowID: workflowID, Err: err}
}

// IsNotFound checks if an error indicates a missing workflow.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
