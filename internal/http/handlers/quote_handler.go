package handlers

import (
	"strings"

	"github.com/expo-payments/backend/internal/http/dto"
	"github.com/expo-payments/backend/internal/middleware"
	"github.com/expo-payments/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// QuoteHandler serves both FX quotes and merchant (INR to XLM) quotes.
type QuoteHandler struct {
	quoteService *services.QuoteService
	log          *zap.Logger
}

func NewQuoteHandler(quoteService *services.QuoteService, log *zap.Logger) *QuoteHandler {
	return &QuoteHandler{quoteService: quoteService, log: log}
}

func (h *QuoteHandler) CreateFXQuote(c *fiber.Ctx) error {
	var req dto.FXQuoteRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	from := strings.ToUpper(strings.TrimSpace(req.FromCurrency))
	to := strings.ToUpper(strings.TrimSpace(req.ToCurrency))

	quote, err := h.quoteService.CreateFX(c.Context(), middleware.GetUserID(c), from, to, req.Amount, req.ExpirySeconds)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: quote})
}

func (h *QuoteHandler) CreateMerchantQuote(c *fiber.Ctx) error {
	var req dto.MerchantQuoteRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	quote, err := h.quoteService.CreateMerchant(c.Context(), middleware.GetUserID(c), req.INRAmount, req.ExpirySeconds)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: quote})
}

// GetQuote answers both GET /fx/quote and GET /merchant/quote.
func (h *QuoteHandler) GetQuote(c *fiber.Ctx) error {
	id, valid := optionalID(c.Query("id"))
	if !valid {
		return badRequest(c, "invalid quote id")
	}
	quote, err := h.quoteService.Get(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, quote)
}

func (h *QuoteHandler) Currencies(c *fiber.Ctx) error {
	return list(c, h.quoteService.Currencies())
}
