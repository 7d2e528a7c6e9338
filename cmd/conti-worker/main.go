package main

import (
	"context"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"conti/internal/amqp"
	"conti/internal/cli"
	"conti/internal/export"
	exportgoogle "conti/internal/export/google"
	exportmemory "conti/internal/export/memory"
	applog "conti/internal/log"
	"conti/internal/services"
	"conti/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, applog.ComponentWorker)

	logger.Info("Starting conti-worker")

	backend, err := export.ParseBackend(cfg.LedgerBackend)
	if err != nil {
		logger.Error("Invalid ledger backend", "error", err)
		os.Exit(1)
	}
	if backend == export.NoneBackend {
		logger.Info("Ledger export disabled - nothing for conti-worker to do")
		return
	}

	repo := cli.InitRepository(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	var ledger export.LedgerWriter
	switch backend {
	case export.SheetsBackend:
		client, err := exportgoogle.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		ledger = client
		logger.Info("Google Sheets ledger initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	case export.MemoryBackend:
		ledger = exportmemory.New()
		logger.Info("In-memory ledger initialized")
	}

	ledgerWorker := worker.NewLedgerWorker(repo, ledger)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	// Drain records that went pending while no worker was running.
	logger.Info("Performing startup sync check...")
	if err := ledgerWorker.StartupSyncCheck(ctx, cfg.SyncBatchSize); err != nil {
		logger.Error("Startup sync check failed", "error", err)
		// Keep going: the recovery scanner retries these.
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := amqpClient.ConsumeLedgerSync(groupCtx, func(msg *amqp.LedgerSyncMessage) error {
			return ledgerWorker.HandleSyncMessage(groupCtx, msg)
		})
		if err != nil && err != context.Canceled {
			logger.Error("Message consumption failed", "error", err)
			return err
		}
		return nil
	})

	// The recovery scanner requeues records whose publish got lost.
	scanner := services.NewRecoveryScanner(repo, amqpClient, services.RecoveryScannerConfig{
		PollInterval: cfg.SyncInterval,
		BatchSize:    cfg.SyncBatchSize,
		MinAge:       30 * time.Second,
	})
	if err := scanner.Start(groupCtx); err != nil {
		logger.Error("Failed to start recovery scanner", "error", err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = scanner.Stop(stopCtx)
	}()

	cli.WaitForShutdown(groupCtx, done)
	if err := group.Wait(); err != nil && err != context.Canceled {
		logger.Error("Worker exited with error", "error", err)
	}
	logger.Info("conti-worker stopped gracefully")
}
