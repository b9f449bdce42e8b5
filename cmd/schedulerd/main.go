package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/bank-core/internal/config"
	"github.com/example/bank-core/internal/logger"
	"github.com/example/bank-core/internal/notify"
	"github.com/example/bank-core/internal/schedule"
	"github.com/example/bank-core/internal/transfer"
)

func main() {
	_ = godotenv.Load()

	log := logger.New("schedulerd")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer startCancel()

	pool, err := pgxpool.New(startCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create connection pool")
	}
	defer pool.Close()

	if err := pool.Ping(startCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to reach database")
	}

	engine := transfer.NewEngine(transfer.NewPostgresStore(pool), notify.LogSink{Log: log}, nil, log)
	sched := schedule.New(schedule.NewPostgresStore(pool), engine, log, cfg.SchedulerInterval, cfg.SchedulerBatch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Run(ctx)

	lis, err := net.Listen("tcp", cfg.HealthAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.HealthAddr).Msg("failed to listen")
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	// Health tracks database reachability.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
				status := healthpb.HealthCheckResponse_SERVING
				if err := pool.Ping(pingCtx); err != nil {
					status = healthpb.HealthCheckResponse_NOT_SERVING
				}
				pingCancel()
				healthServer.SetServingStatus("", status)
			}
		}
	}()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		log.Info().Str("addr", cfg.HealthAddr).Msg("health server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("health server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	cancel()
	grpcServer.GracefulStop()
}
