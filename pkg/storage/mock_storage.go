package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignatij/flowmetrics/pkg/models"
	"github.com/pkg/errors"
)

type mockData struct {
	mu         sync.RWMutex
	workflows  map[string]models.Workflow
	executions map[string]models.ExecutionRecord
}

// mockStore implements Store with in-memory storage. Inside a transaction every
// write is journaled so Rollback can restore the previous state.
type mockStore struct {
	data      *mockData
	tx        bool
	committed bool // Transaction state
	finished  bool
	undo      []func() // run under data.mu in reverse order
}

func NewMockStore() Store {
	return &mockStore{data: &mockData{
		workflows:  make(map[string]models.Workflow),
		executions: make(map[string]models.ExecutionRecord),
	}}
}

// Begin returns a transaction view over the same data. Writes are applied
// immediately and undone on Rollback.
func (m *mockStore) Begin() (Store, error) {
	return &mockStore{data: m.data, tx: true}, nil
}

func (m *mockStore) Commit() error {
	if !m.tx {
		return errors.New("cannot commit: not a transaction")
	}
	if m.committed {
		return errors.New("already committed")
	}
	if m.finished {
		return errors.New("cannot commit: transaction rolled back")
	}
	m.committed = true
	m.finished = true
	m.undo = nil
	return nil
}

func (m *mockStore) Rollback() error {
	if !m.tx {
		return errors.New("cannot rollback: not a transaction")
	}
	if m.committed {
		return errors.New("cannot rollback committed transaction")
	}
	m.data.mu.Lock()
	defer m.data.mu.Unlock()
	for i := len(m.undo) - 1; i >= 0; i-- {
		m.undo[i]()
	}
	m.undo = nil
	m.finished = true
	return nil
}

// journal records how to revert a write; callers hold data.mu.
func (m *mockStore) journal(fn func()) {
	if m.tx {
		m.undo = append(m.undo, fn)
	}
}

func (m *mockStore) Close() error {
	return nil
}

func (m *mockStore) writable() error {
	if m.committed {
		return errors.New("transaction already committed")
	}
	if m.finished {
		return errors.New("transaction already rolled back")
	}
	return nil
}

func (m *mockStore) SaveWorkflow(_ context.Context, w models.Workflow) error {
	if err := m.writable(); err != nil {
		return err
	}
	m.data.mu.Lock()
	defer m.data.mu.Unlock()
	if _, ok := m.data.workflows[w.ID]; ok {
		return NewOpError("SaveWorkflow", w.ID, ErrAlreadyExists)
	}
	m.data.workflows[w.ID] = w
	m.journal(func() { delete(m.data.workflows, w.ID) })
	return nil
}

func (m *mockStore) GetWorkflow(_ context.Context, id string) (models.Workflow, error) {
	m.data.mu.RLock()
	defer m.data.mu.RUnlock()
	wf, ok := m.data.workflows[id]
	if !ok {
		return models.Workflow{}, NewOpError("GetWorkflow", id, ErrNotFound)
	}
	return wf, nil
}

func (m *mockStore) ListWorkflows(_ context.Context, userID string) ([]models.Workflow, error) {
	m.data.mu.RLock()
	defer m.data.mu.RUnlock()
	workflows := []models.Workflow{}
	for _, wf := range m.data.workflows {
		if userID != "" && wf.UserID != userID {
			continue
		}
		workflows = append(workflows, wf)
	}
	sort.Slice(workflows, func(i, j int) bool {
		if workflows[i].CreatedAt.Equal(workflows[j].CreatedAt) {
			return workflows[i].ID < workflows[j].ID
		}
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})
	return workflows, nil
}

func (m *mockStore) DeleteWorkflow(_ context.Context, id string) error {
	if err := m.writable(); err != nil {
		return err
	}
	m.data.mu.Lock()
	defer m.data.mu.Unlock()
	wf, ok := m.data.workflows[id]
	if !ok {
		return NewOpError("DeleteWorkflow", id, ErrNotFound)
	}
	delete(m.data.workflows, id)
	var dropped []models.ExecutionRecord
	for execID, r := range m.data.executions {
		if r.WorkflowID == id {
			dropped = append(dropped, r)
			delete(m.data.executions, execID)
		}
	}
	m.journal(func() {
		m.data.workflows[id] = wf
		for _, r := range dropped {
			m.data.executions[r.ID] = r
		}
	})
	return nil
}

func (m *mockStore) MarkWorkflowSynced(_ context.Context, id string, at time.Time) error {
	if err := m.writable(); err != nil {
		return err
	}
	m.data.mu.Lock()
	defer m.data.mu.Unlock()
	wf, ok := m.data.workflows[id]
	if !ok {
		return NewOpError("MarkWorkflowSynced", id, ErrNotFound)
	}
	prev := wf
	wf.LastSyncedAt = &at
	wf.UpdatedAt = at
	m.data.workflows[id] = wf
	m.journal(func() { m.data.workflows[id] = prev })
	return nil
}

func (m *mockStore) SaveExecutions(_ context.Context, records []models.ExecutionRecord) (int, error) {
	if err := m.writable(); err != nil {
		return 0, err
	}
	m.data.mu.Lock()
	defer m.data.mu.Unlock()
	for _, r := range records {
		if _, ok := m.data.workflows[r.WorkflowID]; !ok {
			return 0, NewOpError("SaveExecutions", r.WorkflowID, ErrNotFound)
		}
	}
	for _, r := range records {
		prev, existed := m.data.executions[r.ID]
		m.data.executions[r.ID] = r
		id := r.ID
		m.journal(func() {
			if existed {
				m.data.executions[id] = prev
			} else {
				delete(m.data.executions, id)
			}
		})
	}
	return len(records), nil
}

func (m *mockStore) ListExecutions(_ context.Context, f ExecutionFilter) ([]models.ExecutionRecord, error) {
	m.data.mu.RLock()
	defer m.data.mu.RUnlock()
	records := []models.ExecutionRecord{}
	for _, r := range m.data.executions {
		if f.WorkflowID != "" && r.WorkflowID != f.WorkflowID {
			continue
		}
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if r.StartedAt != nil {
			if !f.From.IsZero() && r.StartedAt.Before(f.From) {
				continue
			}
			if !f.To.IsZero() && !r.StartedAt.Before(f.To) {
				continue
			}
		}
		records = append(records, r)
	}
	// started_at ascending, never-started last, same as the SQL store
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i].StartedAt, records[j].StartedAt
		switch {
		case a == nil && b == nil:
			return records[i].ID < records[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return records[i].ID < records[j].ID
		}
		return a.Before(*b)
	})
	if f.Limit > 0 && len(records) > f.Limit {
		records = records[:f.Limit]
	}
	return records, nil
}

// mockSnapshotStore implements SnapshotStore in memory
type mockSnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string][]models.Snapshot
}

func NewMockSnapshotStore() SnapshotStore {
	return &mockSnapshotStore{snapshots: make(map[string][]models.Snapshot)}
}

func (m *mockSnapshotStore) SaveSnapshot(_ context.Context, s models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.WorkflowID] = append(m.snapshots[s.WorkflowID], s)
	return nil
}

func (m *mockSnapshotStore) ListSnapshots(_ context.Context, workflowID string, limit int) ([]models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.snapshots[workflowID]
	out := make([]models.Snapshot, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, stored[i])
	}
	return out, nil
}
