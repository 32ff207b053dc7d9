package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ignatij/flowmetrics/internal/config"
	"github.com/ignatij/flowmetrics/pkg/models"
	"github.com/ignatij/flowmetrics/pkg/service"
	"github.com/ignatij/flowmetrics/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct{}

func (fakeSource) FetchExecutions(_ context.Context, workflowID, _ string, since time.Time) ([]models.ExecutionRecord, error) {
	started := time.Now().UTC().Add(-time.Hour)
	stopped := started.Add(3 * time.Minute)
	return []models.ExecutionRecord{
		{ID: workflowID + "-1", Status: models.SuccessExecutionStatus, StartedAt: &started, StoppedAt: &stopped},
	}, nil
}

func (fakeSource) FetchWorkflows(_ context.Context, _ string) ([]models.Workflow, error) {
	return []models.Workflow{{ID: "remote-1", Name: "Imported"}}, nil
}

// withBackends swaps the store, snapshot store and n8n source for in-memory fakes.
func withBackends(t *testing.T, snapshots storage.SnapshotStore) storage.Store {
	t.Helper()
	store := storage.NewMockStore()
	prevStore, prevSnapshots, prevSource := openStore, openSnapshots, newSource
	openStore = func(string) (storage.Store, error) { return store, nil }
	openSnapshots = func(context.Context, config.Config) (storage.SnapshotStore, func(), error) {
		return snapshots, func() {}, nil
	}
	newSource = func(config.N8NConfig) (Source, error) { return fakeSource{}, nil }
	t.Cleanup(func() {
		openStore, openSnapshots, newSource = prevStore, prevSnapshots, prevSource
	})
	return store
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "flowmetrics"}
	SetupCLI(root)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCLI_Workflows(t *testing.T) {
	withBackends(t, nil)

	out, err := run(t, "workflows", "add", "wf-1", "Lead intake", "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered workflow 'Lead intake' with ID wf-1")

	out, err = run(t, "workflows", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "wf-1")
	assert.Contains(t, out, "Lead intake")
	assert.Contains(t, out, "never")

	out, err = run(t, "workflows", "import")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 workflows")
	assert.Contains(t, out, "remote-1")

	_, err = run(t, "workflows", "add", "wf-1", "Again")
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	out, err = run(t, "workflows", "remove", "wf-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed workflow wf-1")

	_, err = run(t, "workflows", "remove", "wf-1")
	assert.True(t, storage.IsNotFound(err))
}

func TestCLI_SyncAndMetrics(t *testing.T) {
	withBackends(t, nil)

	_, err := run(t, "workflows", "add", "wf-1", "Lead intake")
	require.NoError(t, err)

	out, err := run(t, "sync", "wf-1")
	require.NoError(t, err)
	assert.Contains(t, out, "wf-1")

	out, err = run(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "wf-1")

	out, err = run(t, "metrics", "wf-1", "--json")
	require.NoError(t, err)
	var report models.MetricsReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "wf-1", report.WorkflowID)
	assert.Equal(t, 1, report.Overview.TotalExecutions)
	assert.Equal(t, 180000.0, report.Performance.Median)
	assert.Len(t, report.Timeline, 7)

	out, err = run(t, "metrics", "wf-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Success rate")
	assert.Contains(t, out, "100.00%")
	assert.Contains(t, out, "3min")

	_, err = run(t, "metrics", "wf-1", "--start", "2024-03-01")
	assert.ErrorContains(t, err, "--start and --end must be given together")

	_, err = run(t, "metrics", "wf-1", "--start", "2024-03-05", "--end", "2024-03-01")
	assert.ErrorContains(t, err, "invalid window")

	_, err = run(t, "metrics", "missing")
	assert.True(t, storage.IsNotFound(err))
}

func TestCLI_Snapshots(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		withBackends(t, nil)
		_, err := run(t, "workflows", "add", "wf-1", "Lead intake")
		require.NoError(t, err)
		_, err = run(t, "snapshots", "wf-1")
		assert.ErrorIs(t, err, service.ErrSnapshotsDisabled)
	})

	t.Run("TakeAndList", func(t *testing.T) {
		withBackends(t, storage.NewMockSnapshotStore())
		_, err := run(t, "workflows", "add", "wf-1", "Lead intake")
		require.NoError(t, err)

		out, err := run(t, "snapshots", "wf-1")
		require.NoError(t, err)
		assert.Contains(t, out, "No snapshots found.")

		out, err = run(t, "snapshots", "wf-1", "--take")
		require.NoError(t, err)
		assert.Contains(t, out, "Stored snapshot")
		assert.Equal(t, 1, strings.Count(out, "0.00%"))
	})
}

func TestRenderSyncResults_ErrorsWithoutResult(t *testing.T) {
	var buf bytes.Buffer
	renderSyncResults(&buf, []service.SyncResult{{WorkflowID: "a", Fetched: 2, Saved: 2}}, map[string]error{
		"b": context.Canceled,
	})
	out := buf.String()
	assert.Contains(t, out, "a")
	assert.Contains(t, out, "context canceled")
}
