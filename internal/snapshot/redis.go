// Package snapshot keeps the history of computed metrics reports in Redis.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ignatij/flowmetrics/pkg/models"
	"github.com/ignatij/flowmetrics/pkg/storage"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "flowmetrics:snapshots:"

	// DefaultMaxPerWorkflow is how many snapshots are kept per workflow.
	DefaultMaxPerWorkflow = 100
)

// RedisStore implements storage.SnapshotStore with one sorted set per
// workflow, scored by creation time in unix milliseconds.
type RedisStore struct {
	client *redis.Client
	max    int
}

// NewRedisStore creates a store keeping at most maxPerWorkflow snapshots per
// workflow. Values below 1 use DefaultMaxPerWorkflow.
func NewRedisStore(client *redis.Client, maxPerWorkflow int) *RedisStore {
	if maxPerWorkflow < 1 {
		maxPerWorkflow = DefaultMaxPerWorkflow
	}
	return &RedisStore{client: client, max: maxPerWorkflow}
}

// Connect opens a client and checks that the server is reachable.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MinIdleConns: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func key(workflowID string) string {
	return keyPrefix + workflowID
}

// SaveSnapshot adds s and drops the oldest entries beyond the limit.
func (r *RedisStore) SaveSnapshot(ctx context.Context, s models.Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "failed to encode snapshot")
	}
	k := key(s.WorkflowID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, k, redis.Z{
			Score:  float64(s.CreatedAt.UnixMilli()),
			Member: payload,
		})
		// keep the newest r.max members
		pipe.ZRemRangeByRank(ctx, k, 0, int64(-r.max-1))
		return nil
	})
	if err != nil {
		return storage.NewOpError("SaveSnapshot", s.WorkflowID, err)
	}
	return nil
}

// ListSnapshots returns up to limit snapshots, newest first. A limit below 1
// returns all of them.
func (r *RedisStore) ListSnapshots(ctx context.Context, workflowID string, limit int) ([]models.Snapshot, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	members, err := r.client.ZRevRange(ctx, key(workflowID), 0, stop).Result()
	if err != nil {
		return nil, storage.NewOpError("ListSnapshots", workflowID, err)
	}
	snapshots := make([]models.Snapshot, 0, len(members))
	for _, m := range members {
		var s models.Snapshot
		if err := json.Unmarshal([]byte(m), &s); err != nil {
			return nil, storage.NewOpError("ListSnapshots", workflowID, errors.Wrap(err, "decode snapshot"))
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, nil
}

// Latest returns the newest snapshot of a workflow.
func (r *RedisStore) Latest(ctx context.Context, workflowID string) (models.Snapshot, error) {
	snapshots, err := r.ListSnapshots(ctx, workflowID, 1)
	if err != nil {
		return models.Snapshot{}, err
	}
	if len(snapshots) == 0 {
		return models.Snapshot{}, storage.NewOpError("LatestSnapshot", workflowID, storage.ErrNotFound)
	}
	return snapshots[0], nil
}

// Count returns the number of stored snapshots of a workflow.
func (r *RedisStore) Count(ctx context.Context, workflowID string) (int64, error) {
	n, err := r.client.ZCard(ctx, key(workflowID)).Result()
	if err != nil {
		return 0, storage.NewOpError("CountSnapshots", workflowID, err)
	}
	return n, nil
}
