package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/infra"
	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	failures int
	calls    int
	nodes    []int64
}

func (s *fakeSyncer) SyncAll(context.Context) (int, error) { return 0, nil }

func (s *fakeSyncer) SyncEvent(_ context.Context, eventNodeID int64) (int, error) {
	s.calls++
	if s.calls <= s.failures {
		return 0, errors.New("presale shop unavailable")
	}
	s.nodes = append(s.nodes, eventNodeID)
	return 2, nil
}

type fakeOutbox struct {
	dead  []model.Mail
	calls int
}

func (o *fakeOutbox) SendDue(context.Context, int) ([]model.Mail, error) {
	o.calls++
	return o.dead, nil
}

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 3, func(int) error {
		attempts++
		if attempts < 2 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withRetry(ctx, 3, func(int) error { return errors.New("boom") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPresaleWorker_Process(t *testing.T) {
	syncer := &fakeSyncer{}
	w := NewPresaleWorker(syncer)

	raw, err := json.Marshal(PresaleSyncPayload{EventNodeID: 42})
	require.NoError(t, err)
	require.NoError(t, w.Process(context.Background(), raw))
	assert.Equal(t, []int64{42}, syncer.nodes)
}

func TestPresaleWorker_DropsMalformedPayload(t *testing.T) {
	syncer := &fakeSyncer{}
	w := NewPresaleWorker(syncer)

	assert.NoError(t, w.Process(context.Background(), json.RawMessage(`{"event_node_id":"x"}`)))
	assert.NoError(t, w.Process(context.Background(), json.RawMessage(`{}`)))
	assert.Zero(t, syncer.calls)
}

func TestMailWorker_FlushWithoutRedis(t *testing.T) {
	outbox := &fakeOutbox{dead: []model.Mail{{ID: 1, NumRetries: model.MaxMailRetries}}}
	w := NewMailWorker(outbox, nil)

	require.NoError(t, w.Process(context.Background(), nil))
	assert.Equal(t, 1, outbox.calls)
}

func TestRunTick_SkipsWhileBreakerOpen(t *testing.T) {
	cb := infra.NewCircuitBreaker("test", infra.CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour})
	_ = cb.Execute(func() error { return infra.ErrProviderUnavailable })
	require.Equal(t, infra.CBOpen, cb.State())

	var runs int32
	runTick(context.Background(), Ticker{Name: "test", CB: cb, Run: func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}})
	assert.Zero(t, atomic.LoadInt32(&runs))
}

func TestRunTick_RecoversPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		runTick(context.Background(), Ticker{Name: "test", Run: func(context.Context) error { panic("bug") }})
	})
}

func TestRunTick_HasDeadline(t *testing.T) {
	runTick(context.Background(), Ticker{Name: "test", Run: func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return nil
	}})
}

func TestKnownQueue(t *testing.T) {
	assert.True(t, KnownQueue(QueuePresale))
	assert.True(t, KnownQueue(QueueMail))
	assert.False(t, KnownQueue("jobs:unknown"))
}
