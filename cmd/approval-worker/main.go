package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"buildledger/internal/amqp"
	"buildledger/internal/config"
	"buildledger/internal/log"
	"buildledger/internal/sheets"
	gsheet "buildledger/internal/sheets/google"
	"buildledger/internal/sheets/memory"
	"buildledger/internal/storage"
	"buildledger/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger := log.New(log.Config{Level: log.DefaultConfig().Level, Component: log.ComponentWorker})
	log.SetDefault(logger)

	logger.Info("starting approval worker", log.FieldOperation, log.OpStartup)

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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Without a spreadsheet configured the worker still marks
	// allocations exported, writing them to an in-memory ledger. That
	// keeps staging environments flowing without Google credentials.
	var ledger sheets.LedgerWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.New(ctx, gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleCredentialsJSON,
			CredentialsFile: cfg.GoogleCredentialsFile,
		})
		if err != nil {
			logger.Error("initialize sheets client", log.FieldError, err)
			os.Exit(1)
		}
		ledger = client
		logger.Info("google sheets ledger enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		ledger = memory.New()
		logger.Warn("no spreadsheet configured, using in-memory ledger")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	w := worker.NewApprovalWorker(repo, ledger, cfg.ExportBatchSize, logger)

	// Catch up on anything approved while the worker was down.
	if err := w.SweepUnexported(ctx); err != nil {
		logger.Error("startup sweep failed", log.FieldError, err)
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return amqpClient.ConsumeApprovals(ctx, func(event *amqp.ApprovalEvent) error {
			return w.HandleApprovalEvent(ctx, event)
		})
	})

	group.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := w.SweepUnexported(ctx); err != nil {
					logger.Error("periodic sweep failed", log.FieldError, err)
				}
			}
		}
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("shutdown complete", log.FieldOperation, log.OpShutdown)
}
