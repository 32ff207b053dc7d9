package service

import (
	"context"
	"time"

	"github.com/ignatij/flowmetrics/pkg/models"
	"github.com/ignatij/flowmetrics/pkg/storage"
	"github.com/pkg/errors"
)

const (
	// DefaultInitialLookback bounds the first sync of a workflow.
	DefaultInitialLookback = 30 * 24 * time.Hour
	// DefaultSyncOverlap re-fetches the tail of the previous sync so late updates
	// of long running executions are picked up.
	DefaultSyncOverlap = 24 * time.Hour
)

// ExecutionSource fetches execution records from the automation platform.
type ExecutionSource interface {
	FetchExecutions(ctx context.Context, workflowID, userID string, since time.Time) ([]models.ExecutionRecord, error)
}

// SyncResult describes one workflow sync.
type SyncResult struct {
	WorkflowID string    `json:"workflowId"`
	Since      time.Time `json:"since"`
	Fetched    int       `json:"fetched"`
	Saved      int       `json:"saved"`
}

// SyncService copies execution records from an ExecutionSource into the store.
type SyncService struct {
	store    storage.Store
	source   ExecutionSource
	pool     *WorkerPool
	logger   Logger
	lookback time.Duration
	overlap  time.Duration
	now      func() time.Time
}

type SyncOption func(*SyncService)

func WithInitialLookback(d time.Duration) SyncOption {
	return func(s *SyncService) {
		if d > 0 {
			s.lookback = d
		}
	}
}

func WithOverlap(d time.Duration) SyncOption {
	return func(s *SyncService) {
		if d >= 0 {
			s.overlap = d
		}
	}
}

func WithSyncClock(now func() time.Time) SyncOption {
	return func(s *SyncService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSyncService creates a sync service. pool must be started by the caller.
func NewSyncService(store storage.Store, source ExecutionSource, pool *WorkerPool, logger Logger, opts ...SyncOption) *SyncService {
	s := &SyncService{
		store:    store,
		source:   source,
		pool:     pool,
		logger:   logger,
		lookback: DefaultInitialLookback,
		overlap:  DefaultSyncOverlap,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncWorkflow fetches the executions of one workflow started since its last
// sync and upserts them.
func (s *SyncService) SyncWorkflow(ctx context.Context, workflowID string) (result SyncResult, err error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return SyncResult{}, err
	}

	now := s.now().UTC()
	since := now.Add(-s.lookback)
	if wf.LastSyncedAt != nil {
		since = wf.LastSyncedAt.Add(-s.overlap)
	}
	result = SyncResult{WorkflowID: workflowID, Since: since}

	records, err := s.source.FetchExecutions(ctx, workflowID, wf.UserID, since)
	if err != nil {
		return result, errors.Wrapf(err, "failed to fetch executions of workflow %s", workflowID)
	}
	for i := range records {
		records[i].WorkflowID = workflowID
		if records[i].UserID == "" {
			records[i].UserID = wf.UserID
		}
	}
	result.Fetched = len(records)

	txStore, err := s.store.Begin()
	if err != nil {
		return result, err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	if len(records) > 0 {
		result.Saved, err = txStore.SaveExecutions(ctx, records)
		if err != nil {
			return result, err
		}
	}
	if err = txStore.MarkWorkflowSynced(ctx, workflowID, now); err != nil {
		return result, err
	}
	s.logger.Infof("Synced workflow %s: fetched %d, saved %d", workflowID, result.Fetched, result.Saved)
	return result, nil
}

// SyncAll syncs every registered workflow on the worker pool. Failed syncs are
// reported by workflow ID and do not stop the others.
func (s *SyncService) SyncAll(ctx context.Context) ([]SyncResult, map[string]error, error) {
	workflows, err := s.store.ListWorkflows(ctx, "")
	if err != nil {
		return nil, nil, err
	}

	results := make([]SyncResult, len(workflows))
	jobs := make(map[string]Job, len(workflows))
	for i, wf := range workflows {
		results[i].WorkflowID = wf.ID
		jobs[wf.ID] = func(ctx context.Context) error {
			res, err := s.SyncWorkflow(ctx, wf.ID)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		}
	}

	errs := s.pool.Run(ctx, jobs)
	s.logger.Infof("Synced %d workflows, %d failed", len(workflows)-len(errs), len(errs))
	return results, errs, nil
}
