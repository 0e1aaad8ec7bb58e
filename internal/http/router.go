package http

import (
	"time"

	"github.com/expo-payments/backend/internal/config"
	"github.com/expo-payments/backend/internal/http/handlers"
	"github.com/expo-payments/backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handlers struct {
	Contracts *handlers.ContractHandler
	Quotes    *handlers.QuoteHandler
	Payments  *handlers.PaymentHandler
	Merchant  *handlers.MerchantHandler
	Profile   *handlers.ProfileHandler
}

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	gatherer prometheus.Gatherer,
	h Handlers,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := app.Group("/api/v1", middleware.AuthMiddleware(cfg, log))
	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute, log))

	// Contracts
	api.Post("/contracts", h.Contracts.CreateContract)
	api.Get("/contracts", h.Contracts.ListContracts)
	api.Get("/contracts/:id", h.Contracts.GetContract)
	api.Get("/contracts/:id/activity", h.Contracts.ContractActivity)
	api.Post("/contracts/fund", h.Contracts.FundContract)
	api.Post("/contracts/deliver", h.Contracts.DeliverContract)
	api.Post("/contracts/release", h.Contracts.ReleaseContract)
	api.Post("/contracts/dispute", h.Contracts.DisputeContract)
	api.Post("/contracts/refund", h.Contracts.RefundContract)

	// FX
	api.Post("/fx/quote", h.Quotes.CreateFXQuote)
	api.Get("/fx/quote", h.Quotes.GetQuote)
	api.Get("/fx/currencies", h.Quotes.Currencies)

	// Payments
	api.Post("/payments/send", h.Payments.Send)
	api.Get("/payments/history", h.Payments.History)

	// Merchant
	api.Post("/merchant/quote", h.Quotes.CreateMerchantQuote)
	api.Get("/merchant/quote", h.Quotes.GetQuote)
	api.Post("/merchant/pay", h.Merchant.Pay)
	api.Get("/merchant/history", h.Merchant.History)
	api.Post("/merchant/parse-qr", h.Merchant.ParseQR)

	// Profile
	api.Post("/me/pin", h.Profile.SetPin)
	api.Get("/me/balance", h.Profile.Balance)
	api.Get("/ids/resolve", h.Profile.Resolve)
}
