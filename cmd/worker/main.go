package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"veriflow/internal/config"
	"veriflow/internal/database"
	"veriflow/internal/logger"
	"veriflow/internal/repository"
	"veriflow/internal/webhook"
	"veriflow/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting veriflow webhook worker")

	pool, err := database.Connect(ctx, cfg.DatabaseDSN())
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatal("failed to ensure schema", zap.Error(err))
	}

	sessions := repository.NewSessionRepository(pool, log)
	subscriptions := repository.NewSubscriptionRepository(pool, log)
	deliveries := repository.NewDeliveryRepository(pool, log)

	dispatcher := webhook.NewDispatcher([]byte(cfg.Webhook.Secret), subscriptions, deliveries, sessions, webhook.Options{
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		BackoffBase:    cfg.Webhook.BackoffBase,
		RetryDelay:     cfg.Webhook.RetryDelay,
		RequestTimeout: cfg.Webhook.Timeout,
	}, log)

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, asynq.Config{
		Concurrency: cfg.Webhook.Concurrency,
	})
	processor := worker.NewProcessor(dispatcher, log)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(processor.Handler()); err != nil {
		log.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
	log.Info("worker exited")
}
