package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/ignatij/flowmetrics/pkg/models"
	"github.com/ignatij/flowmetrics/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ts := func(h int) *time.Time {
		t := base.Add(time.Duration(h) * time.Hour)
		return &t
	}

	newStore := func(t *testing.T) storage.Store {
		store := storage.NewMockStore()
		require.NoError(t, store.SaveWorkflow(ctx, models.Workflow{ID: "wf1", Name: "Intake", UserID: "u1", CreatedAt: base}))
		require.NoError(t, store.SaveWorkflow(ctx, models.Workflow{ID: "wf2", Name: "Billing", UserID: "u2", CreatedAt: base.Add(time.Hour)}))
		return store
	}

	t.Run("DuplicateWorkflow", func(t *testing.T) {
		store := newStore(t)
		err := store.SaveWorkflow(ctx, models.Workflow{ID: "wf1"})
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)
	})

	t.Run("GetMissingWorkflow", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetWorkflow(ctx, "nope")
		assert.True(t, storage.IsNotFound(err))
		assert.Contains(t, err.Error(), "GetWorkflow workflow nope")
	})

	t.Run("ListWorkflowsByUser", func(t *testing.T) {
		store := newStore(t)
		all, err := store.ListWorkflows(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "wf2", all[0].ID)

		mine, err := store.ListWorkflows(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, "wf1", mine[0].ID)
	})

	t.Run("ExecutionsFilterAndOrder", func(t *testing.T) {
		store := newStore(t)
		n, err := store.SaveExecutions(ctx, []models.ExecutionRecord{
			{ID: "3", WorkflowID: "wf1", UserID: "u1", Status: "success", StartedAt: ts(30)},
			{ID: "1", WorkflowID: "wf1", UserID: "u1", Status: "success", StartedAt: ts(1)},
			{ID: "2", WorkflowID: "wf1", UserID: "u1", Status: "new"},
			{ID: "4", WorkflowID: "wf1", UserID: "u1", Status: "failed", StartedAt: ts(-2)},
			{ID: "5", WorkflowID: "wf2", UserID: "u2", Status: "success", StartedAt: ts(2)},
		})
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		records, err := store.ListExecutions(ctx, storage.ExecutionFilter{
			WorkflowID: "wf1",
			From:       base,
			To:         base.AddDate(0, 0, 1),
		})
		require.NoError(t, err)
		ids := []string{}
		for _, r := range records {
			ids = append(ids, r.ID)
		}
		assert.Equal(t, []string{"1", "2"}, ids)

		records, err = store.ListExecutions(ctx, storage.ExecutionFilter{UserID: "u2"})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "5", records[0].ID)

		records, err = store.ListExecutions(ctx, storage.ExecutionFilter{WorkflowID: "wf1", Limit: 2})
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "4", records[0].ID)
	})

	t.Run("UpsertExecution", func(t *testing.T) {
		store := newStore(t)
		_, err := store.SaveExecutions(ctx, []models.ExecutionRecord{{ID: "1", WorkflowID: "wf1", Status: "running", StartedAt: ts(1)}})
		require.NoError(t, err)
		_, err = store.SaveExecutions(ctx, []models.ExecutionRecord{{ID: "1", WorkflowID: "wf1", Status: "success", StartedAt: ts(1), StoppedAt: ts(2)}})
		require.NoError(t, err)

		records, err := store.ListExecutions(ctx, storage.ExecutionFilter{WorkflowID: "wf1"})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, models.SuccessExecutionStatus, records[0].Status)
	})

	t.Run("ExecutionForUnknownWorkflow", func(t *testing.T) {
		store := newStore(t)
		_, err := store.SaveExecutions(ctx, []models.ExecutionRecord{{ID: "1", WorkflowID: "ghost"}})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("TransactionCommit", func(t *testing.T) {
		store := newStore(t)
		tx, err := store.Begin()
		require.NoError(t, err)
		require.NoError(t, tx.MarkWorkflowSynced(ctx, "wf1", base))
		require.NoError(t, tx.Commit())
		assert.Error(t, tx.Commit())
		assert.Error(t, tx.MarkWorkflowSynced(ctx, "wf1", base))

		wf, err := store.GetWorkflow(ctx, "wf1")
		require.NoError(t, err)
		require.NotNil(t, wf.LastSyncedAt)
		assert.Equal(t, base, *wf.LastSyncedAt)

		// a fresh transaction is unaffected by the committed one
		tx2, err := store.Begin()
		require.NoError(t, err)
		assert.NoError(t, tx2.Rollback())
	})

	t.Run("TransactionRollback", func(t *testing.T) {
		store := newStore(t)
		_, err := store.SaveExecutions(ctx, []models.ExecutionRecord{{ID: "1", WorkflowID: "wf1", Status: "running"}})
		require.NoError(t, err)

		tx, err := store.Begin()
		require.NoError(t, err)
		_, err = tx.SaveExecutions(ctx, []models.ExecutionRecord{
			{ID: "1", WorkflowID: "wf1", Status: "success"},
			{ID: "2", WorkflowID: "wf1", Status: "failed"},
		})
		require.NoError(t, err)
		require.NoError(t, tx.MarkWorkflowSynced(ctx, "wf1", base))
		require.NoError(t, tx.SaveWorkflow(ctx, models.Workflow{ID: "wf3", Name: "Late"}))
		require.NoError(t, tx.DeleteWorkflow(ctx, "wf2"))

		// writes are visible inside the transaction before it ends
		records, err := tx.ListExecutions(ctx, storage.ExecutionFilter{WorkflowID: "wf1"})
		require.NoError(t, err)
		assert.Len(t, records, 2)

		require.NoError(t, tx.Rollback())
		assert.Error(t, tx.Commit())
		assert.Error(t, tx.MarkWorkflowSynced(ctx, "wf1", base))

		records, err = store.ListExecutions(ctx, storage.ExecutionFilter{WorkflowID: "wf1"})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, models.RunningExecutionStatus, records[0].Status)

		wf, err := store.GetWorkflow(ctx, "wf1")
		require.NoError(t, err)
		assert.Nil(t, wf.LastSyncedAt)
		_, err = store.GetWorkflow(ctx, "wf3")
		assert.True(t, storage.IsNotFound(err))
		_, err = store.GetWorkflow(ctx, "wf2")
		assert.NoError(t, err)
	})

	t.Run("DeleteWorkflowDropsExecutions", func(t *testing.T) {
		store := newStore(t)
		_, err := store.SaveExecutions(ctx, []models.ExecutionRecord{{ID: "1", WorkflowID: "wf1"}})
		require.NoError(t, err)
		require.NoError(t, store.DeleteWorkflow(ctx, "wf1"))
		records, err := store.ListExecutions(ctx, storage.ExecutionFilter{WorkflowID: "wf1"})
		require.NoError(t, err)
		assert.Empty(t, records)
		assert.ErrorIs(t, store.DeleteWorkflow(ctx, "wf1"), storage.ErrNotFound)
	})
}

func TestMockSnapshotStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMockSnapshotStore()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.SaveSnapshot(ctx, models.Snapshot{ID: id, WorkflowID: "wf1"}))
	}
	snaps, err := store.ListSnapshots(ctx, "wf1", 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "c", snaps[0].ID)
	assert.Equal(t, "b", snaps[1].ID)

	snaps, err = store.ListSnapshots(ctx, "other", 0)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}
