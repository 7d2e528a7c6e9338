package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"conti/internal/amqp"
	"conti/internal/auth"
	"conti/internal/cli"
	apphttp "conti/internal/http"
	applog "conti/internal/log"
	"conti/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, applog.ComponentApp)

	logger.Info("Starting conti server")

	repo := cli.InitRepository(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// AMQP is optional: without it writes still land in SQLite marked
	// pending, and the recovery scan in conti-worker picks them up once
	// the broker is back.
	var publisher services.LedgerPublisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without ledger sync", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled - ledger sync messages will not be published")
	}

	var expenseOpts []func(*services.ExpenseService)
	var paymentOpts []func(*services.PaymentService)
	if publisher != nil {
		expenseOpts = append(expenseOpts, services.WithLedgerPublisher(publisher))
		paymentOpts = append(paymentOpts, services.WithPaymentLedgerPublisher(publisher))
	}
	expenseService := services.NewExpenseService(repo, expenseOpts...)
	defer expenseService.Close()
	paymentService := services.NewPaymentService(repo, paymentOpts...)

	sessions := auth.NewSessionManager(cfg.SessionSecret, cfg.SessionTTL)

	srv := apphttp.NewServer(":"+cfg.Port, repo, expenseService, paymentService, sessions)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	logger.Info("Starting conti server", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
