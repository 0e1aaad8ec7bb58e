package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/expo-payments/backend/internal/config"
	"github.com/expo-payments/backend/internal/db"
	"github.com/expo-payments/backend/internal/events"
	"github.com/expo-payments/backend/internal/fx"
	"github.com/expo-payments/backend/internal/ledger"
	"github.com/expo-payments/backend/internal/logging"
	"github.com/expo-payments/backend/internal/metrics"
	"github.com/expo-payments/backend/internal/repositories"
	"github.com/expo-payments/backend/internal/services"
	"github.com/expo-payments/backend/internal/upi"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	reconcileBatch  = 200
	settlementBatch = 50
	// pendingRecheck gives an unconfirmed transaction time to land before
	// the contract is compared with the chain again.
	pendingRecheck = 30 * time.Second
)

func main() {
	cfg := config.Load()

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, db.PostgresOptions{
		DSN:              cfg.PostgresDSN,
		MaxConns:         int32(cfg.PostgresMaxConns),
		StatementTimeout: cfg.StatementTimeout,
		ConnectTimeout:   cfg.ConnectTimeout,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, cfg.ConnectTimeout, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Repos
	profileRepo := repositories.NewProfileRepo(pool)
	contractRepo := repositories.NewContractRepo(pool)
	quoteRepo := repositories.NewQuoteRepo(pool)
	txRepo := repositories.NewTransactionRepo(pool)
	merchantRepo := repositories.NewMerchantRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	signer := ledger.NewHTTPSigner(cfg.SignerURL, cfg.SignerToken, cfg.NetworkPassphrase, log)
	ledgerClient := ledger.NewRPCClient(ledger.Config{
		RPCURL:            cfg.LedgerRPCURL,
		AuthToken:         cfg.LedgerRPCToken,
		NetworkPassphrase: cfg.NetworkPassphrase,
		EscrowContractID:  cfg.EscrowContractID,
		TokenContractID:   cfg.TokenContractID,
		ConfirmTimeout:    cfg.ConfirmTimeout,
		PollInitial:       cfg.PollInitial,
		PollMax:           cfg.PollMax,
		RequestsPerSec:    cfg.LedgerRPS,
	}, signer, m, log)

	var settler upi.Settler
	if cfg.UPIPartnerURL != "" {
		settler = upi.NewPartnerClient(cfg.UPIPartnerURL, log)
	} else {
		sim, err := upi.NewSimulator(cfg.UPISettlementDelay)
		if err != nil {
			log.Fatal("failed to build settlement simulator", zap.Error(err))
		}
		settler = sim
	}

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)
	contractService := services.NewContractService(contractRepo, profileRepo, txRepo, auditRepo, ledgerClient, publisher, m, cfg, log)
	quoteService := services.NewQuoteService(quoteRepo, fx.NewEngine(), m, cfg, log)
	merchantService := services.NewMerchantService(profileRepo, quoteService, merchantRepo, ledgerClient, settler, publisher, m, cfg, log)

	if err := subscriber.Subscribe(ctx, events.StreamContract, func(e events.Event) {
		if e.Type != events.EventContractPending {
			return
		}
		id, err := uuid.Parse(fmt.Sprint(e.Payload["contract_id"]))
		if err != nil {
			log.Warn("pending event without contract id", zap.Any("payload", e.Payload))
			return
		}
		go recheckPending(ctx, contractService, id, log)
	}); err != nil {
		log.Fatal("failed to subscribe to contract events", zap.Error(err))
	}

	go serveOps(cfg.WorkerPort, log)

	log.Info("worker started",
		zap.Duration("reconcile_interval", cfg.ReconcileInterval),
		zap.Int("settlement_attempts", cfg.SettlementAttempts),
	)

	reconcileTicker := time.NewTicker(cfg.ReconcileInterval)
	settlementTicker := time.NewTicker(cfg.ReconcileInterval)
	defer reconcileTicker.Stop()
	defer settlementTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-reconcileTicker.C:
			runReconcile(ctx, contractService, log)
		case <-settlementTicker.C:
			runSettlementRetries(ctx, merchantService, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runReconcile(ctx context.Context, contracts *services.ContractService, log *zap.Logger) {
	report, err := contracts.ReconcileActive(ctx, reconcileBatch)
	if err != nil {
		log.Error("contract reconciliation failed", zap.Error(err))
		return
	}
	if report.Moved > 0 || report.Cleared > 0 || report.Failed > 0 {
		log.Info("contracts reconciled",
			zap.Int("checked", report.Checked),
			zap.Int("moved", report.Moved),
			zap.Int("cleared", report.Cleared),
			zap.Int("failed", report.Failed),
		)
	}
}

func runSettlementRetries(ctx context.Context, merchant *services.MerchantService, log *zap.Logger) {
	report, err := merchant.RetryDebts(ctx, settlementBatch)
	if err != nil {
		log.Error("settlement retry failed", zap.Error(err))
		return
	}
	if report.Checked > 0 {
		log.Info("settlement debts retried",
			zap.Int("checked", report.Checked),
			zap.Int("settled", report.Settled),
			zap.Int("retrying", report.Retrying),
			zap.Int("failed", report.Failed),
			zap.Int("voided", report.Voided),
		)
	}
}

func recheckPending(ctx context.Context, contracts *services.ContractService, id uuid.UUID, log *zap.Logger) {
	t := time.NewTimer(pendingRecheck)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}
	if err := contracts.ReconcileByID(ctx, id); err != nil {
		log.Warn("pending contract recheck failed", zap.String("contract_id", id.String()), zap.Error(err))
	}
}

// serveOps exposes health and metrics for the worker process.
func serveOps(port string, log *zap.Logger) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	if err := app.Listen(":" + port); err != nil {
		log.Error("worker ops server stopped", zap.Error(err))
	}
}
