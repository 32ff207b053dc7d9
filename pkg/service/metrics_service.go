package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/flowmetrics/pkg/metrics"
	"github.com/ignatij/flowmetrics/pkg/models"
	"github.com/ignatij/flowmetrics/pkg/storage"
	"github.com/pkg/errors"
)

// DefaultWindowDays is the window used when a query leaves both bounds empty.
const DefaultWindowDays = 7

// ErrSnapshotsDisabled is returned by snapshot operations when no snapshot store is configured.
var ErrSnapshotsDisabled = errors.New("snapshot store not configured")

// MetricsQuery selects the records of one workflow over a calendar-day window.
// Zero Start and End select the last DefaultWindowDays days.
type MetricsQuery struct {
	WorkflowID string
	UserID     string
	Start      time.Time
	End        time.Time
}

// MetricsService loads execution records and turns them into reports.
type MetricsService struct {
	store      storage.Store
	snapshots  storage.SnapshotStore
	logger     Logger
	now        func() time.Time
	loc        *time.Location
	windowDays int
}

type MetricsOption func(*MetricsService)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) MetricsOption {
	return func(s *MetricsService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the location of default windows.
func WithLocation(loc *time.Location) MetricsOption {
	return func(s *MetricsService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithWindowDays sets the length of the default window.
func WithWindowDays(n int) MetricsOption {
	return func(s *MetricsService) {
		if n > 0 {
			s.windowDays = n
		}
	}
}

// NewMetricsService creates a service. snapshots may be nil, in which case
// snapshot operations fail with ErrSnapshotsDisabled.
func NewMetricsService(store storage.Store, snapshots storage.SnapshotStore, logger Logger, opts ...MetricsOption) *MetricsService {
	s := &MetricsService{
		store:      store,
		snapshots:  snapshots,
		logger:     logger,
		now:        time.Now,
		loc:        time.UTC,
		windowDays: DefaultWindowDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MetricsService) window(q MetricsQuery) (metrics.Window, error) {
	if q.Start.IsZero() && q.End.IsZero() {
		return metrics.LastNDays(s.now().In(s.loc), s.windowDays), nil
	}
	if q.Start.IsZero() || q.End.IsZero() {
		return metrics.Window{}, errors.Wrap(metrics.ErrInvalidWindow, "both start and end are required")
	}
	return metrics.NewWindow(q.Start, q.End)
}

// WorkflowMetrics computes the report of one workflow. An invalid window is
// rejected before the store is touched.
func (s *MetricsService) WorkflowMetrics(ctx context.Context, q MetricsQuery) (models.MetricsReport, error) {
	w, err := s.window(q)
	if err != nil {
		return models.MetricsReport{}, err
	}

	wf, err := s.store.GetWorkflow(ctx, q.WorkflowID)
	if err != nil {
		return models.MetricsReport{}, err
	}
	if q.UserID != "" && wf.UserID != "" && q.UserID != wf.UserID {
		return models.MetricsReport{}, storage.NewOpError("WorkflowMetrics", q.WorkflowID, storage.ErrNotFound)
	}

	from, to := w.Bounds()
	records, err := s.store.ListExecutions(ctx, storage.ExecutionFilter{
		WorkflowID: q.WorkflowID,
		UserID:     q.UserID,
		From:       from,
		To:         to,
	})
	if err != nil {
		return models.MetricsReport{}, errors.Wrapf(err, "failed to load executions of workflow %s", q.WorkflowID)
	}

	report, err := metrics.Compute(records, w)
	if err != nil {
		return models.MetricsReport{}, err
	}
	report.WorkflowID = q.WorkflowID
	report.GeneratedAt = s.now().UTC()
	s.logger.Infof("Computed metrics for workflow %s over %s from %d records", q.WorkflowID, w, len(records))
	return report, nil
}

// TakeSnapshot computes the report for q and stores it.
func (s *MetricsService) TakeSnapshot(ctx context.Context, q MetricsQuery) (models.Snapshot, error) {
	if s.snapshots == nil {
		return models.Snapshot{}, ErrSnapshotsDisabled
	}
	report, err := s.WorkflowMetrics(ctx, q)
	if err != nil {
		return models.Snapshot{}, err
	}
	snap := models.Snapshot{
		ID:         uuid.NewString(),
		WorkflowID: q.WorkflowID,
		UserID:     q.UserID,
		CreatedAt:  report.GeneratedAt,
		Report:     report,
	}
	if err := s.snapshots.SaveSnapshot(ctx, snap); err != nil {
		return models.Snapshot{}, errors.Wrapf(err, "failed to save snapshot of workflow %s", q.WorkflowID)
	}
	s.logger.Infof("Stored snapshot %s for workflow %s", snap.ID, q.WorkflowID)
	return snap, nil
}

// SnapshotAll stores a default-window snapshot of every registered workflow.
// It keeps going after a failure and returns the errors by workflow ID.
func (s *MetricsService) SnapshotAll(ctx context.Context) (map[string]error, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}
	workflows, err := s.store.ListWorkflows(ctx, "")
	if err != nil {
		return nil, err
	}
	errs := make(map[string]error)
	for _, wf := range workflows {
		if ctx.Err() != nil {
			errs[wf.ID] = ctx.Err()
			continue
		}
		if _, err := s.TakeSnapshot(ctx, MetricsQuery{WorkflowID: wf.ID}); err != nil {
			s.logger.Errorf("Snapshot of workflow %s failed: %v", wf.ID, err)
			errs[wf.ID] = err
		}
	}
	return errs, nil
}

// Snapshots lists stored snapshots of a workflow, newest first.
func (s *MetricsService) Snapshots(ctx context.Context, workflowID string, limit int) ([]models.Snapshot, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}
	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	return s.snapshots.ListSnapshots(ctx, workflowID, limit)
}
