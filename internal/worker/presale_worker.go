package worker

// presale_worker.go
// Processes presale synchronisation jobs from QueuePresale. The presale shop
// webhook enqueues one job per event; the provider call is retried with
// exponential backoff before the job is handed back to the pool.

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const JobPresaleSync = "presale_sync"

// PresaleSyncPayload is the job envelope sent to QueuePresale.
type PresaleSyncPayload struct {
	EventNodeID int64 `json:"event_node_id"`
}

// PresaleWorker imports the tickets of a single event.
type PresaleWorker struct {
	presale PresaleSyncer
}

func NewPresaleWorker(presale PresaleSyncer) *PresaleWorker {
	return &PresaleWorker{presale: presale}
}

// Process handles a single presale job.
func (w *PresaleWorker) Process(ctx context.Context, raw json.RawMessage) error {
	var payload PresaleSyncPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		// A malformed payload never succeeds, drop it
		log.Error().Err(err).Msg("presale_worker: invalid payload")
		return nil
	}
	if payload.EventNodeID <= 0 {
		log.Error().Int64("event_node_id", payload.EventNodeID).Msg("presale_worker: invalid event node")
		return nil
	}

	var created int
	err := withRetry(ctx, 3, func(attempt int) error {
		n, err := w.presale.SyncEvent(ctx, payload.EventNodeID)
		if err != nil {
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int64("event_node_id", payload.EventNodeID).
				Msg("presale_worker: sync attempt failed, retrying")
			return err
		}
		created = n
		return nil
	})
	if err != nil {
		return fmt.Errorf("presale sync of node %d: %w", payload.EventNodeID, err)
	}
	log.Info().Int64("event_node_id", payload.EventNodeID).Int("created", created).Msg("presale_worker: sync done")
	return nil
}

// withRetry calls fn up to maxAttempts times with exponential backoff.
// Backoff schedule: attempt 1 = immediate, 2 = 1s, 3 = 2s.
// Returns nil if any attempt succeeds; last error otherwise.
func withRetry(ctx context.Context, maxAttempts int, fn func(attempt int) error) error {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			wait := time.Duration(1<<uint(i-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		if err := fn(i); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
