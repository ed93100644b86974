package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"paylink-be/internal/callback"
	"paylink-be/internal/client"
	"paylink-be/internal/config"
	"paylink-be/internal/db"
	"paylink-be/internal/logger"
	"paylink-be/internal/order"
	"paylink-be/internal/queue"
	"paylink-be/internal/shutdown"
	"paylink-be/internal/signature"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	log := logger.L()

	database := db.InitDB(cfg)
	defer database.Close()

	codec, err := signature.NewCodecFromFiles(cfg.PrivateKeyPath, cfg.PublicKeyPath)
	if err != nil {
		log.Fatal("failed to load signature keys", zap.Error(err))
	}

	tracker := shutdown.NewTracker()

	orderRepo := order.NewRepository(database)
	orderSvc := order.NewService(orderRepo)

	clientRepo := client.NewRepository(database)
	failedRepo := callback.NewFailedRepository(database)
	logRepo := callback.NewLogRepository(database)

	forwarder := callback.NewForwarder(clientRepo, failedRepo, logRepo, codec, tracker, cfg.MerchantID)

	producer, err := queue.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		log.Fatal("failed to connect kafka producer", zap.Error(err))
	}
	defer producer.Close()

	consumer, err := queue.NewConsumer(cfg.KafkaBrokers, producer, cfg.WorkerMaxRetries, cfg.DeadLetterTopic)
	if err != nil {
		log.Fatal("failed to connect kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	topics := queue.Topics{
		Events:     cfg.EventTopic,
		Forwards:   cfg.ForwardTopic,
		DeadLetter: cfg.DeadLetterTopic,
	}
	processor := queue.NewProcessor(orderSvc, forwarder, producer, topics)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := consumer.Consume(ctx, topics.Events, processor.HandleEvent); err != nil {
			log.Error("event consumer stopped", zap.Error(err))
			cancel()
		}
	}()

	go func() {
		defer wg.Done()
		if err := consumer.Consume(ctx, topics.Forwards, processor.HandleForward); err != nil {
			log.Error("forward consumer stopped", zap.Error(err))
			cancel()
		}
	}()

	log.Info("worker started",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("event_topic", topics.Events),
		zap.String("forward_topic", topics.Forwards),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutdown signal received")
	case <-ctx.Done():
	}

	// Stop consuming, then let any in-flight delivery finish before closing
	// the database.
	cancel()
	wg.Wait()
	tracker.Drain(cfg.ShutdownTimeout)

	log.Info("worker stopped")
}
