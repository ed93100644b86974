package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"paylink-be/internal/callback"
	"paylink-be/internal/client"
	"paylink-be/internal/config"
	"paylink-be/internal/db"
	"paylink-be/internal/logger"
	"paylink-be/internal/middleware"
	"paylink-be/internal/order"
	"paylink-be/internal/provider"
	"paylink-be/internal/reconcile"
	"paylink-be/internal/shutdown"
	"paylink-be/internal/signature"
	"paylink-be/internal/webhook"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	log := logger.L()

	database := db.InitDB(cfg)

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
	callbackHandler := callback.NewHandler(forwarder, clientRepo, orderRepo, logRepo)
	webhookHandler := webhook.NewHandler(clientRepo, codec, orderSvc, forwarder, logRepo, cfg.MerchantID)

	statusClient := provider.NewHTTPClient(cfg.ProviderBaseURL, cfg.MerchantID, codec, cfg.ProviderTimeout)
	scheduler := reconcile.NewScheduler(orderRepo, orderSvc, statusClient, forwarder, reconcile.Config{
		Interval:            cfg.ScheduleInterval,
		PrecheckWindow:      cfg.PrecheckWindow,
		PrecheckConcurrency: cfg.PrecheckConcurrency,
		PrecheckBatchSize:   cfg.PrecheckBatchSize,
		ExpireBatchSize:     cfg.ExpireBatchSize,
		CallTimeout:         cfg.ProviderTimeout,
	})

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	go scheduler.Run(schedulerCtx)

	mux := http.NewServeMux()
	webhookHandler.Routes(mux)
	mux.Handle("POST /retry/callback/{id}",
		middleware.RequireOperator(cfg.OperatorJWTSecret)(http.HandlerFunc(callbackHandler.RetryByID)))
	mux.HandleFunc("GET /callback/logs/{paymentId}", callbackHandler.Logs)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Ping(); err != nil {
			http.Error(w, "db unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	limiter := middleware.NewRateLimiter()
	handler := logger.RequestIDMiddleware(
		logger.LoggingMiddleware(
			limiter.Middleware(refuseWhenDraining(tracker, mux)),
		),
	)

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: handler,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.AppPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutdown signal received")
	stopScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}

	// In-flight forwards may legitimately outlast the HTTP server; give them
	// the same grace window before closing the database.
	if clean := tracker.Drain(cfg.ShutdownTimeout); !clean {
		log.Warn("forced exit with tasks still in flight",
			zap.Int64("active", tracker.Active()),
		)
	}

	if err := database.Close(); err != nil {
		log.Error("closing database failed", zap.Error(err))
	}
	log.Info("server stopped")
}

// refuseWhenDraining rejects new inbound work once shutdown has begun, so the
// task counter can only go down.
func refuseWhenDraining(tracker *shutdown.Tracker, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tracker.ShuttingDown() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}
