package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"buildledger/internal/amqp"
	"buildledger/internal/auth"
	"buildledger/internal/cache"
	"buildledger/internal/config"
	"buildledger/internal/events"
	apphttp "buildledger/internal/http"
	"buildledger/internal/log"
	"buildledger/internal/services"
	"buildledger/internal/storage"
)

func main() {
	// Load .env for local development; absent in containers.
	_ = godotenv.Load()

	logger := log.New(log.DefaultConfig())
	log.SetDefault(logger)

	logger.Info("starting buildledger API", log.FieldOperation, log.OpStartup)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("initialize storage", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// AMQP is optional: without it approvals still commit, the ledger
	// export just waits for the worker's periodic sweep.
	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("AMQP unavailable, approval events will not be published", log.FieldError, err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
		}
	}

	hub := events.NewHub(logger)
	invalidator := cache.NewInvalidator()
	manager := cache.NewManager()

	views := services.NewViewService(repo, invalidator, manager, logger)
	approvals := services.NewApprovalService(repo, publisher, hub, invalidator, logger)
	authenticator := auth.NewAuthenticator(cfg.JWTSecret, cfg.TokenTTL)

	manager.StartCleanup(10 * time.Minute)
	defer manager.Stop()

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Storage:            repo,
		Approvals:          approvals,
		Views:              views,
		Authenticator:      authenticator,
		Hub:                hub,
		Invalidator:        invalidator,
		Logger:             logger,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", log.FieldOperation, log.OpShutdown, "signal", sig.String())
	case err := <-errCh:
		logger.Error("server stopped", log.FieldError, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("shutdown complete", log.FieldOperation, log.OpShutdown)
}
