package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"music-notify-api/core"
)

func main() {
	cfg := core.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logCloser, err := core.SetupLogging(cfg, "worker.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	queue := core.NewRedisJobQueue(redisClient)
	processor := core.NewNotificationProcessor(queue, core.NewLogNotifier(logger), core.DefaultMaxAttempts, logger)
	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	workerID := core.NewWorkerID()
	hostname, _ := os.Hostname()
	logger.Info("notification worker started", "worker_id", workerID, "concurrency", concurrency, "queue", core.PendingNotificationsKey)

	visibility := core.DefaultVisibilityTimeout
	reclaimInterval := 15 * time.Second

	state := core.NewHeartbeatState(workerID, hostname, concurrency)
	go state.Start(ctx, redisClient)

	// requeue jobs whose worker died before ack
	go func() {
		ticker := time.NewTicker(reclaimInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := queue.RequeueExpired(ctx, time.Now())
				if err != nil {
					logger.Error("requeue expired failed", "error", err)
				} else if n > 0 {
					logger.Info("requeued expired notifications", "count", n)
				}
			}
		}
	}()

	state.Idle()
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			l := logger.With("slot", slot)
			for {
				job, raw, err := queue.Reserve(ctx, visibility)
				if err != nil {
					if errors.Is(err, core.ErrQueueEmpty) {
						select {
						case <-ctx.Done():
							return
						case <-time.After(200 * time.Millisecond):
							continue
						}
					}
					if ctx.Err() != nil {
						return
					}
					if raw != "" {
						processor.Discard(ctx, raw, err)
						continue
					}
					l.Error("reserve failed", "error", err)
					time.Sleep(time.Second)
					continue
				}

				state.JobStarted(job.ID)
				procErr := processor.Process(ctx, job, raw)
				state.JobFinished(job.ID, procErr)
			}
		}(i + 1)
	}

	wg.Wait()
	logger.Info("notification worker stopped", "worker_id", workerID)
}
