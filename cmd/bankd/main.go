package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/example/bank-core/internal/account"
	"github.com/example/bank-core/internal/api"
	"github.com/example/bank-core/internal/config"
	"github.com/example/bank-core/internal/ledger"
	"github.com/example/bank-core/internal/logger"
	"github.com/example/bank-core/internal/notify"
	"github.com/example/bank-core/internal/schedule"
	"github.com/example/bank-core/internal/transfer"
	"github.com/example/bank-core/pkg/audit"
)

func main() {
	_ = godotenv.Load()

	log := logger.New("bankd")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create connection pool")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to reach database")
	}

	eventLog, err := notify.OpenEventLog(cfg.EventLogPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open event log")
	}
	defer eventLog.Close()

	sink := notify.NewAsyncSink(eventLog, 256, log)
	defer sink.Close()

	journal := audit.NewJournal()
	engine := transfer.NewEngine(transfer.NewPostgresStore(pool), sink, journal, log)

	router := api.NewRouter(api.Dependencies{
		Logger:    log,
		Accounts:  account.NewPostgresStore(pool),
		Ledger:    ledger.NewPostgresLedger(pool),
		Engine:    engine,
		Schedules: schedule.NewPostgresStore(pool),
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
