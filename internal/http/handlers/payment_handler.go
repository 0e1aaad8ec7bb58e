package handlers

import (
	"strings"

	"github.com/expo-payments/backend/internal/http/dto"
	"github.com/expo-payments/backend/internal/middleware"
	"github.com/expo-payments/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
	log            *zap.Logger
}

func NewPaymentHandler(paymentService *services.PaymentService, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService, log: log}
}

func (h *PaymentHandler) Send(c *fiber.Ctx) error {
	var req dto.SendPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	res, err := h.paymentService.Send(c.Context(), middleware.GetUserID(c), services.SendInput{
		Recipient: strings.TrimSpace(req.Recipient),
		Amount:    req.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(req.Currency)),
		Note:      strings.TrimSpace(req.Note),
		Purpose:   strings.TrimSpace(req.Purpose),
		Pin:       req.Pin,
	})
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, res)
}

func (h *PaymentHandler) History(c *fiber.Ctx) error {
	txs, err := h.paymentService.History(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return list(c, txs)
}
