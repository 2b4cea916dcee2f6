package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/config"
	"github.com/stustapay/stustapay-sub000/internal/infra"
	"github.com/stustapay/stustapay-sub000/internal/router"
	"github.com/stustapay/stustapay-sub000/internal/worker"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Structured logger: dev pretty, prod JSON
	if cfg.Env != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	rdb, err := infra.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	svcs := router.Build(cfg, db, rdb)

	// Background workers are wired here (composition root). They stop when
	// ctx is cancelled on shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mailWorker := worker.NewMailWorker(svcs.Mail, rdb)
	worker.StartWorkerPool(ctx, rdb, worker.Handlers{
		worker.JobPresaleSync: worker.NewPresaleWorker(svcs.Presale),
		worker.JobMailFlush:   mailWorker,
	}, cfg.WorkerPoolSize)
	worker.StartTicker(ctx, mailWorker.Ticker(seconds(cfg.MailTickSeconds)))
	worker.StartTicker(ctx, worker.PendingPoller(svcs.Pending, svcs.SumUpCB, seconds(cfg.PendingOrderTickSeconds)))
	worker.StartTicker(ctx, worker.PresaleCron(svcs.Presale, svcs.PretixCB, seconds(cfg.PresaleSyncIntervalSeconds)))

	r := router.New(cfg, db, rdb, svcs)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	go func() {
		log.Info().Msgf("StuStaPay backend listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server…")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server exited")
}
