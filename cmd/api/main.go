package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/expo-payments/backend/internal/apperr"
	"github.com/expo-payments/backend/internal/config"
	"github.com/expo-payments/backend/internal/db"
	"github.com/expo-payments/backend/internal/events"
	"github.com/expo-payments/backend/internal/fx"
	apphttp "github.com/expo-payments/backend/internal/http"
	"github.com/expo-payments/backend/internal/http/handlers"
	"github.com/expo-payments/backend/internal/ledger"
	"github.com/expo-payments/backend/internal/logging"
	"github.com/expo-payments/backend/internal/metrics"
	"github.com/expo-payments/backend/internal/middleware"
	"github.com/expo-payments/backend/internal/repositories"
	"github.com/expo-payments/backend/internal/services"
	"github.com/expo-payments/backend/internal/upi"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
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

	// Database
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

	if err := db.RunMigrations(ctx, pool, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, cfg.ConnectTimeout, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Repositories
	profileRepo := repositories.NewProfileRepo(pool)
	contractRepo := repositories.NewContractRepo(pool)
	quoteRepo := repositories.NewQuoteRepo(pool)
	txRepo := repositories.NewTransactionRepo(pool)
	merchantRepo := repositories.NewMerchantRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Ledger
	signer := ledger.NewHTTPSigner(cfg.SignerURL, cfg.SignerToken, cfg.NetworkPassphrase, log)
	ledgerClient := ledger.NewRPCClient(ledgerConfig(cfg), signer, m, log)

	settler, err := newSettler(cfg, log)
	if err != nil {
		log.Fatal("failed to build settlement partner", zap.Error(err))
	}

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	engine := fx.NewEngine()
	quoteService := services.NewQuoteService(quoteRepo, engine, m, cfg, log)
	contractService := services.NewContractService(contractRepo, profileRepo, txRepo, auditRepo, ledgerClient, publisher, m, cfg, log)
	paymentService := services.NewPaymentService(profileRepo, txRepo, ledgerClient, engine, services.NewRedisFence(rdb), publisher, m, cfg, log)
	merchantService := services.NewMerchantService(profileRepo, quoteService, merchantRepo, ledgerClient, settler, publisher, m, cfg, log)
	profileService := services.NewProfileService(profileRepo, auditRepo, ledgerClient, log)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code, msg := apperr.HTTPStatus(err), apperr.Message(err)
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code, msg = fe.Code, fe.Message
			}
			return c.Status(code).JSON(fiber.Map{"error": msg, "request_id": middleware.GetRequestID(c)})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, prometheus.DefaultGatherer, apphttp.Handlers{
		Contracts: handlers.NewContractHandler(contractService, log),
		Quotes:    handlers.NewQuoteHandler(quoteService, log),
		Payments:  handlers.NewPaymentHandler(paymentService, log),
		Merchant:  handlers.NewMerchantHandler(merchantService, log),
		Profile:   handlers.NewProfileHandler(profileService, log),
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func ledgerConfig(cfg *config.Config) ledger.Config {
	return ledger.Config{
		RPCURL:            cfg.LedgerRPCURL,
		AuthToken:         cfg.LedgerRPCToken,
		NetworkPassphrase: cfg.NetworkPassphrase,
		EscrowContractID:  cfg.EscrowContractID,
		TokenContractID:   cfg.TokenContractID,
		ConfirmTimeout:    cfg.ConfirmTimeout,
		PollInitial:       cfg.PollInitial,
		PollMax:           cfg.PollMax,
		RequestsPerSec:    cfg.LedgerRPS,
	}
}

// newSettler uses the partner API when configured, the simulator otherwise.
func newSettler(cfg *config.Config, log *zap.Logger) (upi.Settler, error) {
	if cfg.UPIPartnerURL != "" {
		log.Info("merchant settlement via partner", zap.String("url", cfg.UPIPartnerURL))
		return upi.NewPartnerClient(cfg.UPIPartnerURL, log), nil
	}
	log.Warn("UPI_PARTNER_URL not set, merchant settlements are simulated")
	return upi.NewSimulator(cfg.UPISettlementDelay)
}
