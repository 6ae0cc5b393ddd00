package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/db"
	"github.com/pulsewatch/pulsewatch/internal/dispatch"
	"github.com/pulsewatch/pulsewatch/internal/metrics"
	"github.com/pulsewatch/pulsewatch/internal/notify"
	"github.com/pulsewatch/pulsewatch/internal/queue"
	"github.com/pulsewatch/pulsewatch/internal/router"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// chat-style channels share a vendor-side message rate budget.
var chatChannels = map[db.ChannelType]bool{
	db.ChannelSlack:   true,
	db.ChannelDiscord: true,
	db.ChannelTeams:   true,
}

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

	smsLimiter := notify.NewSMSRateLimiter(10, time.Hour)
	senders := notify.NewRegistry(cfg, repo, smsLimiter, logger)
	alertRouter := router.NewRouter(repo, jobQueue, logger, collector)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	go collector.StartRemoteWrite(ctx)

	// Router pool drains the incident dispatch queue.
	for i := 0; i < cfg.Dispatch.WorkerCount; i++ {
		worker := dispatch.NewRouterWorker(i, alertRouter, jobQueue, cfg.Dispatch.MaxAttempts, cfg.Dispatch.BaseBackoff, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	// One bounded pool per channel type; chat channels share a type-level
	// rate limiter to respect vendor limits.
	for channelType, sender := range senders {
		var limiter *rate.Limiter
		if chatChannels[channelType] {
			limiter = rate.NewLimiter(rate.Limit(cfg.Dispatch.ChatRatePerSec), cfg.Dispatch.ChatBurst)
		}

		for i := 0; i < cfg.Dispatch.WorkerCount; i++ {
			worker := dispatch.NewDeliveryWorker(i, channelType, sender, repo, jobQueue, limiter, cfg.Dispatch, logger, collector)
			wg.Add(1)
			go func() {
				defer wg.Done()
				worker.Run(ctx)
			}()
		}
	}

	// Queue depth sampler feeds the pulsewatch_queue_depth gauge.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				names := []string{queue.DispatchQueue}
				for channelType := range senders {
					names = append(names, queue.DeliveryQueue(string(channelType)))
				}
				for _, name := range names {
					depth, err := jobQueue.Length(ctx, name)
					if err != nil {
						continue
					}
					collector.RecordQueueDepth(name, depth)
				}
			}
		}
	}()

	logger.Info("Dispatcher started",
		zap.Int("workers_per_queue", cfg.Dispatch.WorkerCount),
		zap.Int("channel_types", len(senders)),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down dispatcher")
	cancel()
	wg.Wait()
}
