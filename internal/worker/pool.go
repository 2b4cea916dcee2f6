package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	QueuePresale = "jobs:presale"
	QueueMail    = "jobs:mail"
)

// Job is the generic envelope for all async tasks.
type Job struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Attempt int             `json:"attempt"`
}

// Handler processes the payload of one job. A returned error makes the pool
// requeue the job until MaxJobAttempts is reached.
type Handler interface {
	Process(ctx context.Context, payload json.RawMessage) error
}

// Handlers maps job types to their handler.
type Handlers map[string]Handler

// Dispatcher enqueues async jobs into Redis lists.
// The worker pool dequeues them via BRPOP.
type Dispatcher struct {
	rdb *redis.Client
}

func NewDispatcher(rdb *redis.Client) *Dispatcher {
	return &Dispatcher{rdb: rdb}
}

// EnqueuePresaleSync asks the pool to import presale tickets of one event,
// typically after a webhook from the presale shop.
func (d *Dispatcher) EnqueuePresaleSync(ctx context.Context, eventNodeID int64) error {
	return d.enqueue(ctx, QueuePresale, JobPresaleSync, PresaleSyncPayload{EventNodeID: eventNodeID}, 0)
}

// EnqueueMailFlush wakes the mail worker before its next tick.
func (d *Dispatcher) EnqueueMailFlush(ctx context.Context) error {
	return d.enqueue(ctx, QueueMail, JobMailFlush, struct{}{}, 0)
}

func (d *Dispatcher) enqueue(ctx context.Context, queue, jobType string, payload any, attempt int) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(Job{Type: jobType, Payload: data, Attempt: attempt})
	if err != nil {
		return err
	}
	return d.rdb.LPush(ctx, queue, encoded).Err()
}

// StartWorkerPool launches numWorkers goroutines consuming all queues.
// Each goroutine blocks on BRPOP, zero CPU when idle.
func StartWorkerPool(ctx context.Context, rdb *redis.Client, handlers Handlers, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	d := NewDispatcher(rdb)
	for i := 0; i < numWorkers; i++ {
		go runWorker(ctx, rdb, d, handlers, i)
	}
	log.Info().Msgf("worker pool started with %d workers", numWorkers)
}

func runWorker(ctx context.Context, rdb *redis.Client, d *Dispatcher, handlers Handlers, id int) {
	queues := []string{QueuePresale, QueueMail}
	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("worker %d shutting down", id)
			return
		default:
			// Blocking pop, waits up to 5s then loops to check ctx
			result, err := rdb.BRPop(ctx, 5*time.Second, queues...).Result()
			if err != nil {
				continue // timeout or context cancelled
			}
			if len(result) < 2 {
				continue
			}
			processJob(ctx, rdb, d, handlers, result[0], result[1])
		}
	}
}

func processJob(ctx context.Context, rdb *redis.Client, d *Dispatcher, handlers Handlers, queue, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error().Str("queue", queue).Err(err).Msg("failed to unmarshal job")
		return
	}
	h, ok := handlers[job.Type]
	if !ok {
		log.Warn().Str("type", job.Type).Str("queue", queue).Msg("no handler for job type")
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, jobDeadline)
	err := h.Process(jobCtx, job.Payload)
	cancel()
	if err == nil {
		return
	}

	attempt := job.Attempt + 1
	if attempt >= MaxJobAttempts {
		SendToDLQ(ctx, rdb, queue, job.Type, job.Payload, err.Error(), attempt)
		return
	}
	log.Warn().Err(err).Str("type", job.Type).Int("attempt", attempt).Msg("job failed, requeueing")
	if err := d.enqueue(ctx, queue, job.Type, job.Payload, attempt); err != nil {
		log.Error().Err(err).Str("type", job.Type).Msg("failed to requeue job")
	}
}
