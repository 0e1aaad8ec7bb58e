package handlers

import (
	"github.com/expo-payments/backend/internal/http/dto"
	"github.com/expo-payments/backend/internal/middleware"
	"github.com/expo-payments/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type ProfileHandler struct {
	profileService *services.ProfileService
	log            *zap.Logger
}

func NewProfileHandler(profileService *services.ProfileService, log *zap.Logger) *ProfileHandler {
	return &ProfileHandler{profileService: profileService, log: log}
}

func (h *ProfileHandler) SetPin(c *fiber.Ctx) error {
	var req dto.SetPinRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if err := h.profileService.SetPin(c.Context(), middleware.GetUserID(c), req.CurrentPin, req.NewPin); err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Message: "PIN updated"})
}

func (h *ProfileHandler) Balance(c *fiber.Ctx) error {
	view, err := h.profileService.Balance(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, view)
}

func (h *ProfileHandler) Resolve(c *fiber.Ctx) error {
	resolved, err := h.profileService.Resolve(c.Context(), c.Query("username"))
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, resolved)
}
