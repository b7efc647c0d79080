package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"atsinbox/config"
	"atsinbox/internal/gmail"
	"atsinbox/internal/httpserver"
	"atsinbox/internal/mqhandler"
	"atsinbox/internal/repository"
	"atsinbox/internal/service/mailsync"
	"atsinbox/internal/token"
	pkgconfig "atsinbox/pkg/config"
	"atsinbox/pkg/db"
	"atsinbox/pkg/logger"
	"atsinbox/pkg/mq"
	redisclient "atsinbox/pkg/redis"
	"atsinbox/pkg/trace"
	"atsinbox/pkg/util"
)

const (
	maxDeliveries = 3
	// must outlast the longest full sync
	syncLockTTL = 30 * time.Minute
)

func main() {
	// Load config
	cfg := config.Load()

	log := logger.NewLogger(cfg.Server.Development)
	defer log.Sync()

	log.Info("Starting sync worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init DB
	dbConn, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Init Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	// Init RabbitMQ Publisher (sync.completed events + DLQ)
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Init Repositories
	connRepo := repository.NewConnectionRepository(dbConn)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	tokens := token.NewManager(connRepo, token.Config{
		ClientID:     cfg.Gmail.ClientID,
		ClientSecret: cfg.Gmail.ClientSecret,
		TokenURL:     cfg.Gmail.TokenURL,
		ConnectionID: cfg.Gmail.ConnectionID,
		RefreshSkew:  cfg.Pipeline.RefreshSkew,
		HTTPClient:   httpClient,
	}, log)

	syncer := mailsync.NewSyncer(mailsync.Deps{
		Connections: connRepo,
		Tokens:      tokens,
		Gmail:       gmail.NewClient(cfg.Gmail.APIBase, httpClient),
		Companies:   repository.NewCompanyRepository(dbConn),
		Cache:       repository.NewMessageCacheRepository(dbConn),
		Inbox:       repository.NewInboxRepository(dbConn),
		Logs:        repository.NewSyncLogRepository(dbConn),
		Lock:        util.NewDeduper(rdb, syncLockTTL, log),
		Logger:      log,
	}, mailsync.Config{
		ConnectionID:  cfg.Gmail.ConnectionID,
		Label:         cfg.Gmail.Label,
		PageSize:      cfg.Gmail.PageSize,
		MaxTotal:      cfg.Gmail.MaxTotal,
		FullSyncAfter: cfg.Pipeline.FullSyncAfter,
		MaxAttempts:   cfg.Pipeline.SyncMaxAttempts,
		BaseDelay:     cfg.Pipeline.SyncBaseDelay,
	})
	handler := mqhandler.NewSyncRequestedHandler(syncer, publisher, cfg.Gmail.ConnectionID, log)

	// Consumer for on-demand sync requests
	log.Info("Initializing sync consumer", zap.String("queue", cfg.MQ.SyncQueue))
	consumer, err := mq.NewConsumer(cfg.MQ.URL, cfg.MQ.SyncQueue, mq.RoutingKeySyncRequested, log)
	if err != nil {
		log.Fatal("failed to init sync consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(handler.HandleSyncRequested)
	consumer.SetRetryPolicy(util.NewRetryCounter(rdb, 24*time.Hour), maxDeliveries, publisher)
	go func() {
		if err := consumer.StartConsuming(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal("sync consumer failed", zap.Error(err))
		}
	}()

	// Scheduled sync
	go func() {
		ticker := time.NewTicker(cfg.Pipeline.SyncInterval)
		defer ticker.Stop()
		log.Info("Scheduled sync enabled", zap.Duration("interval", cfg.Pipeline.SyncInterval))
		for {
			select {
			case <-ctx.Done():
				log.Info("Scheduled sync stopped")
				return
			case <-ticker.C:
				runCtx := trace.WithContext(ctx, trace.GenerateTraceID())
				res, err := syncer.RunWithRetry(runCtx, mailsync.Options{})
				if errors.Is(err, mailsync.ErrAlreadyRunning) {
					log.Info("Skipping scheduled sync, another run holds the lock")
					continue
				}
				handler.PublishCompleted(runCtx, res, err)
			}
		}
	}()

	// HTTP Server (for health checks)
	router := httpserver.NewRouter(dbConn)
	addr := pkgconfig.GetEnv("WORKER_HTTP_PORT", ":8081")
	srv := &http.Server{
		Addr:    addr,
		Handler: router.Engine,
	}
	go func() {
		log.Info("HTTP server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("sync worker is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down sync worker gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
}
