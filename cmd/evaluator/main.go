package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/db"
	"github.com/pulsewatch/pulsewatch/internal/evaluator"
	"github.com/pulsewatch/pulsewatch/internal/metrics"
	"github.com/pulsewatch/pulsewatch/internal/queue"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	database, err := db.NewConnection(cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	repo := db.NewRepository(database)

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Invalid redis URL", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	jobQueue := queue.NewRedisQueue(redisClient)
	collector := metrics.NewCollector(cfg.RemoteWrite)

	svc := evaluator.NewService(repo, jobQueue, logger, collector)
	expiry := evaluator.NewExpiryChecker(repo, jobQueue, logger, collector)

	ctx, cancel := context.WithCancel(context.Background())

	go collector.StartRemoteWrite(ctx)

	// A single ticker per sweep keeps at most one pass pending at a time;
	// a slow pass simply delays the next tick.
	go func() {
		ticker := time.NewTicker(cfg.Evaluator.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := svc.EvaluatePass(ctx); err != nil {
					logger.Error("evaluator pass failed", zap.Error(err))
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.Evaluator.ExpiryInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := expiry.Sweep(ctx); err != nil {
					logger.Error("expiry sweep failed", zap.Error(err))
				}
			}
		}
	}()

	logger.Info("Evaluator started",
		zap.Duration("sweep_interval", cfg.Evaluator.SweepInterval),
		zap.Duration("expiry_interval", cfg.Evaluator.ExpiryInterval),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down evaluator")
	cancel()
}
