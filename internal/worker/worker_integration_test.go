//go:build integration

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type failingHandler struct{}

func (failingHandler) Process(context.Context, json.RawMessage) error {
	return errors.New("always fails")
}

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()
	container, err := tcRedis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestPool_FailingJobEndsInDLQ(t *testing.T) {
	rdb := startRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDispatcher(rdb)
	require.NoError(t, d.EnqueuePresaleSync(ctx, 7))
	StartWorkerPool(ctx, rdb, Handlers{JobPresaleSync: failingHandler{}}, 1)

	require.Eventually(t, func() bool {
		n, err := DLQLength(ctx, rdb, QueuePresale)
		return err == nil && n == 1
	}, 20*time.Second, 100*time.Millisecond)

	entries, err := ListDLQ(ctx, rdb, QueuePresale, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, JobPresaleSync, entries[0].JobType)
	assert.Equal(t, MaxJobAttempts, entries[0].Attempts)
	assert.Equal(t, QueuePresale, entries[0].Queue)
	assert.False(t, entries[0].FailedAt.IsZero())

	var payload PresaleSyncPayload
	require.NoError(t, json.Unmarshal(entries[0].Payload, &payload))
	assert.Equal(t, int64(7), payload.EventNodeID)
}

func TestPool_DispatchesByType(t *testing.T) {
	rdb := startRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncer := &fakeSyncer{}
	StartWorkerPool(ctx, rdb, Handlers{JobPresaleSync: NewPresaleWorker(syncer)}, 1)
	require.NoError(t, NewDispatcher(rdb).EnqueuePresaleSync(ctx, 3))

	// syncer is only touched by the single worker goroutine
	time.Sleep(3 * time.Second)
	n, err := rdb.LLen(ctx, QueuePresale).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}
