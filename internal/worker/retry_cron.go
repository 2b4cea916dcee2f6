package worker

// retry_cron.go
// Background goroutines that periodically poll external providers: the
// pending card payment reconciler and the presale synchronisation.
// Both skip their tick while the provider's circuit breaker is open.

import (
	"context"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/infra"

	"github.com/rs/zerolog/log"
)

const (
	// jobDeadline bounds a single tick or queued job.
	jobDeadline = 30 * time.Second
	// MaxJobAttempts is the number of tries before a queued job goes to the DLQ.
	MaxJobAttempts = 5
)

// PendingReconciler polls due pending card payments.
type PendingReconciler interface {
	ReconcileDue(ctx context.Context) (int, error)
}

// PresaleSyncer imports presale tickets.
type PresaleSyncer interface {
	SyncAll(ctx context.Context) (int, error)
	SyncEvent(ctx context.Context, eventNodeID int64) (int, error)
}

// Ticker describes one periodic task.
type Ticker struct {
	Name     string
	Interval time.Duration
	// CB is optional. While it is open the tick is skipped.
	CB  *infra.CircuitBreaker
	Run func(ctx context.Context) error
}

// StartTicker launches a goroutine that runs t.Run every t.Interval with a
// bounded deadline per tick. It respects the context for graceful shutdown.
func StartTicker(ctx context.Context, t Ticker) {
	go func() {
		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()

		log.Info().Str("task", t.Name).Dur("interval", t.Interval).Msg("ticker: started")

		for {
			select {
			case <-ctx.Done():
				log.Info().Str("task", t.Name).Msg("ticker: shutting down")
				return
			case <-ticker.C:
				runTick(ctx, t)
			}
		}
	}()
}

func runTick(ctx context.Context, t Ticker) {
	// Don't hammer a provider that is down
	if t.CB != nil && t.CB.State() == infra.CBOpen {
		log.Debug().Str("task", t.Name).Msg("ticker: circuit breaker is open, skipping tick")
		return
	}
	tickCtx, cancel := context.WithTimeout(ctx, jobDeadline)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task", t.Name).Interface("panic", r).Msg("ticker: task panicked")
		}
	}()
	if err := t.Run(tickCtx); err != nil {
		log.Error().Err(err).Str("task", t.Name).Msg("ticker: tick failed")
	}
}

// PendingPoller reconciles pending card payments every interval.
func PendingPoller(svc PendingReconciler, cb *infra.CircuitBreaker, interval time.Duration) Ticker {
	return Ticker{
		Name:     "pending_orders",
		Interval: interval,
		CB:       cb,
		Run: func(ctx context.Context) error {
			n, err := svc.ReconcileDue(ctx)
			if n > 0 {
				log.Info().Int("changed", n).Msg("pending_orders: reconciled")
			}
			return err
		},
	}
}

// PresaleCron imports presale tickets of every event every interval.
func PresaleCron(svc PresaleSyncer, cb *infra.CircuitBreaker, interval time.Duration) Ticker {
	return Ticker{
		Name:     "presale",
		Interval: interval,
		CB:       cb,
		Run: func(ctx context.Context) error {
			_, err := svc.SyncAll(ctx)
			return err
		},
	}
}
