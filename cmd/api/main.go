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
	"atsinbox/internal/api"
	"atsinbox/internal/bodycache"
	"atsinbox/internal/gmail"
	"atsinbox/internal/reconcile"
	"atsinbox/internal/repository"
	"atsinbox/internal/service/inbox"
	"atsinbox/internal/token"
	"atsinbox/pkg/db"
	"atsinbox/pkg/logger"
	"atsinbox/pkg/mq"
	redisclient "atsinbox/pkg/redis"
	"atsinbox/pkg/util"
)

func main() {
	// Load config
	cfg := config.Load()

	log := logger.NewLogger(cfg.Server.Development)
	defer log.Sync()

	ctx := context.Background()

	// Init DB
	dbConn, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Init Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	deduper := util.NewDeduper(rdb, cfg.Pipeline.DedupTTL, log)

	// Init RabbitMQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Init Repositories
	inboxRepo := repository.NewInboxRepository(dbConn)
	applicantRepo := repository.NewApplicantRepository(dbConn)
	companyRepo := repository.NewCompanyRepository(dbConn)
	connRepo := repository.NewConnectionRepository(dbConn)
	cacheRepo := repository.NewMessageCacheRepository(dbConn)

	// Upstream
	httpClient := &http.Client{Timeout: 20 * time.Second}
	tokens := token.NewManager(connRepo, token.Config{
		ClientID:     cfg.Gmail.ClientID,
		ClientSecret: cfg.Gmail.ClientSecret,
		TokenURL:     cfg.Gmail.TokenURL,
		ConnectionID: cfg.Gmail.ConnectionID,
		RefreshSkew:  cfg.Pipeline.RefreshSkew,
		HTTPClient:   httpClient,
	}, log)
	gmailClient := gmail.NewClient(cfg.Gmail.APIBase, httpClient)

	// Init Services
	reconciler := reconcile.NewReconciler(inboxRepo, deduper, log, cfg.Pipeline.PromotionTimeout)
	inboxService := inbox.NewService(inbox.Deps{
		Messages:   inboxRepo,
		Applicants: applicantRepo,
		Companies:  companyRepo,
		Bodies:     bodycache.New(cacheRepo, tokens, gmailClient, log),
		Promoter:   reconciler,
		Location:   cfg.Pipeline.LoadLocation(),
		Logger:     log,
	})

	// Router
	inboxHandler := api.NewInboxHandler(inboxService, publisher, cfg.Gmail.ConnectionID, log)
	router := api.NewRouter(inboxHandler, dbConn, api.RouterConfig{
		JWTSecret:      cfg.JWT.Secret,
		RequestTimeout: cfg.Server.RequestTimeout,
		Development:    cfg.Server.Development,
	}, log)

	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: router.Engine,
	}
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// let in-flight promotions land before the pool closes
	reconciler.Wait()
	log.Info("API server stopped")
}
