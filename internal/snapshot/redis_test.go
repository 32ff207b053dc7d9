package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ignatij/flowmetrics/pkg/models"
	"github.com/ignatij/flowmetrics/pkg/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client, mr
}

func snap(id, workflowID string, at time.Time) models.Snapshot {
	return models.Snapshot{
		ID:         id,
		WorkflowID: workflowID,
		CreatedAt:  at,
		Report: models.MetricsReport{
			WorkflowID:  workflowID,
			WindowStart: "2024-03-01",
			WindowEnd:   "2024-03-07",
			Overview:    models.Overview{TotalExecutions: 3, SuccessRate: 66.67},
		},
	}
}

func TestRedisStore_SaveAndList(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedisStore(client, 10)
	ctx := context.Background()
	base := time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveSnapshot(ctx, snap("a", "wf-1", base)))
	require.NoError(t, store.SaveSnapshot(ctx, snap("c", "wf-1", base.Add(2*time.Minute))))
	require.NoError(t, store.SaveSnapshot(ctx, snap("b", "wf-1", base.Add(time.Minute))))
	require.NoError(t, store.SaveSnapshot(ctx, snap("x", "wf-2", base)))

	all, err := store.ListSnapshots(ctx, "wf-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, 3, all[0].Report.Overview.TotalExecutions)
	assert.True(t, base.Add(2*time.Minute).Equal(all[0].CreatedAt))

	two, err := store.ListSnapshots(ctx, "wf-1", 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	exists, err := client.Exists(ctx, "flowmetrics:snapshots:wf-2").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func TestRedisStore_Trim(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedisStore(client, 3)
	ctx := context.Background()
	base := time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, store.SaveSnapshot(ctx, snap(id, "wf-1", base.Add(time.Duration(i)*time.Minute))))
	}

	n, err := store.Count(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	kept, err := store.ListSnapshots(ctx, "wf-1", 0)
	require.NoError(t, err)
	require.Len(t, kept, 3)
	assert.Equal(t, "5", kept[0].ID)
	assert.Equal(t, "3", kept[2].ID)
}

func TestRedisStore_Latest(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedisStore(client, 0)
	ctx := context.Background()

	_, err := store.Latest(ctx, "wf-1")
	assert.True(t, storage.IsNotFound(err))

	base := time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveSnapshot(ctx, snap("old", "wf-1", base)))
	require.NoError(t, store.SaveSnapshot(ctx, snap("new", "wf-1", base.Add(time.Hour))))

	latest, err := store.Latest(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "new", latest.ID)
}

func TestRedisStore_ServerDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewRedisStore(client, 10)
	mr.Close()

	err := store.SaveSnapshot(context.Background(), snap("a", "wf-1", time.Now()))
	require.Error(t, err)
	var opErr *storage.OpError
	assert.ErrorAs(t, err, &opErr)
	assert.Equal(t, "SaveSnapshot", opErr.Op)
}

func TestConnect(t *testing.T) {
	_, mr := setupTestRedis(t)
	client, err := Connect(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	assert.NoError(t, client.Close())

	mr.Close()
	_, err = Connect(context.Background(), mr.Addr(), "", 0)
	assert.Error(t, err)
}

var _ storage.SnapshotStore = (*RedisStore)(nil)
