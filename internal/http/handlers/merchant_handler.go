package handlers

import (
	"github.com/expo-payments/backend/internal/http/dto"
	"github.com/expo-payments/backend/internal/middleware"
	"github.com/expo-payments/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type MerchantHandler struct {
	merchantService *services.MerchantService
	log             *zap.Logger
}

func NewMerchantHandler(merchantService *services.MerchantService, log *zap.Logger) *MerchantHandler {
	return &MerchantHandler{merchantService: merchantService, log: log}
}

func (h *MerchantHandler) Pay(c *fiber.Ctx) error {
	var req dto.MerchantPayRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	quoteID, valid := optionalID(req.QuoteID)
	if !valid {
		return badRequest(c, "invalid quote_id")
	}

	res, err := h.merchantService.Pay(c.Context(), middleware.GetUserID(c), services.MerchantPayInput{
		QuoteID:       quoteID,
		MerchantName:  req.MerchantName,
		MerchantUPIID: req.MerchantUPIID,
		Pin:           req.Pin,
	})
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, dto.MerchantPayResponse{
		Payment:           res.Payment,
		UTRNumber:         res.Settlement.UTRNumber,
		ExplorerURL:       res.Payment.ExplorerURL,
		SettledAt:         res.Settlement.SettledAt,
		SettlementMessage: res.Settlement.Message,
	})
}

func (h *MerchantHandler) History(c *fiber.Ctx) error {
	payments, err := h.merchantService.History(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return list(c, payments)
}

func (h *MerchantHandler) ParseQR(c *fiber.Ctx) error {
	var req dto.ParseQRRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	parsed, err := h.merchantService.ParseQR(req.QRData)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, parsed)
}
