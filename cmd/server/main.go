package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"veriflow/internal/api"
	"veriflow/internal/assetstore"
	"veriflow/internal/auth"
	"veriflow/internal/config"
	"veriflow/internal/database"
	"veriflow/internal/logger"
	"veriflow/internal/messaging"
	"veriflow/internal/queue"
	"veriflow/internal/ratelimit"
	"veriflow/internal/repository"
	"veriflow/internal/service"
	"veriflow/internal/vision"
	"veriflow/internal/webhook"
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

	log.Info("starting veriflow api server")

	pool, err := database.Connect(ctx, cfg.DatabaseDSN())
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatal("failed to ensure schema", zap.Error(err))
	}

	sessions := repository.NewSessionRepository(pool, log)
	assets := repository.NewAssetRepository(pool, log)
	subscriptions := repository.NewSubscriptionRepository(pool, log)
	deliveries := repository.NewDeliveryRepository(pool, log)

	var urls service.AssetURLResolver
	if cfg.S3.Endpoint != "" {
		store, err := assetstore.New(cfg.S3)
		if err != nil {
			log.Fatal("failed to init asset store", zap.Error(err))
		}
		if err := store.EnsureBucket(ctx); err != nil {
			log.Fatal("failed to check asset bucket", zap.Error(err))
		}
		urls = store
	} else {
		log.Warn("no asset store configured, classifier relies on stored file urls")
	}

	var publisher messaging.Publisher
	if cfg.NATS.URL != "" {
		publisher, err = messaging.NewPublisher(cfg.NATS.URL, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer publisher.Close()
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()
	enqueuer := queue.NewClient(asynqClient)

	var remote *vision.RemoteClient
	if cfg.Classifier.Endpoint != "" {
		remote = vision.NewRemoteClient(cfg.Classifier.Endpoint, cfg.Classifier.APIKey, cfg.Classifier.Timeout)
	} else {
		log.Warn("no remote classifier configured, documents go through the filename heuristic")
	}
	classifier := vision.NewDocumentClassifier(remote, log)

	dispatcher := webhook.NewDispatcher([]byte(cfg.Webhook.Secret), subscriptions, deliveries, sessions, webhook.Options{
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		BackoffBase:    cfg.Webhook.BackoffBase,
		RetryDelay:     cfg.Webhook.RetryDelay,
		RequestTimeout: cfg.Webhook.Timeout,
	}, log)

	var pub service.EventPublisher
	if publisher != nil {
		pub = publisher
	}
	svc := service.NewVerificationService(sessions, assets, classifier, urls, pub, enqueuer, log)

	clientLimiter := ratelimit.New(cfg.RateLimit.ClientLimit, cfg.RateLimit.Window, cfg.RateLimit.SweepInterval)
	defer clientLimiter.Close()
	credLimiter := ratelimit.New(cfg.RateLimit.CredentialLimit, cfg.RateLimit.Window, cfg.RateLimit.SweepInterval)
	defer credLimiter.Close()

	verifier := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Enforce)

	srv := api.New(cfg, svc, dispatcher, sessions, deliveries, verifier, clientLimiter, credLimiter, log)
	if err := srv.Run(ctx); err != nil {
		log.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server exited")
}
