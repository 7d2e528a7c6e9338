package main

import (
	"time"

	"conti/internal/amqp"
	"conti/internal/cli"
	applog "conti/internal/log"
	"conti/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, applog.ComponentRecurring)

	logger.Info("Starting recurring-worker")

	repo := cli.InitRepository(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// Publish ledger sync messages for the expenses we materialize, so
	// conti-worker exports them like any hand-entered expense.
	var expenseOpts []func(*services.ExpenseService)
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing in SQLite-only mode", "error", err)
		} else {
			defer amqpClient.Close()
			expenseOpts = append(expenseOpts, services.WithLedgerPublisher(amqpClient))
			logger.Info("AMQP client initialized - materialized expenses will sync via conti-worker")
		}
	} else {
		logger.Info("AMQP disabled - materialized expenses rely on the recovery scan")
	}

	expenseService := services.NewExpenseService(repo, expenseOpts...)
	defer expenseService.Close()

	processor := services.NewRecurringProcessor(repo, expenseService)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	logger.Info("Recurring expense processor configured",
		"interval", cfg.RecurringInterval,
		"sqlite_db", cfg.SQLiteDBPath)

	ticker := time.NewTicker(cfg.RecurringInterval)
	defer ticker.Stop()

	// Run initial processing on startup
	logger.Info("Running initial recurring expense processing...")
	if count, err := processor.ProcessDueExpenses(ctx, time.Now()); err != nil {
		logger.Error("Initial processing failed", "error", err)
	} else {
		logger.Info("Initial processing complete", "expenses_created", count)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				count, err := processor.ProcessDueExpenses(ctx, now)
				if err != nil {
					logger.Error("Periodic processing failed", "error", err)
				} else {
					logger.Info("Periodic processing complete",
						"expenses_created", count,
						"next_check", now.Add(cfg.RecurringInterval).Format("15:04:05"))
				}
			}
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("recurring-worker stopped gracefully")
}
