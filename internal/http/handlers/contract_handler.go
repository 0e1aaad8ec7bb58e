package handlers

import (
	"github.com/expo-payments/backend/internal/http/dto"
	"github.com/expo-payments/backend/internal/middleware"
	"github.com/expo-payments/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ContractHandler struct {
	contractService *services.ContractService
	log             *zap.Logger
}

func NewContractHandler(contractService *services.ContractService, log *zap.Logger) *ContractHandler {
	return &ContractHandler{contractService: contractService, log: log}
}

func (h *ContractHandler) CreateContract(c *fiber.Ctx) error {
	var req dto.CreateContractRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	contract, err := h.contractService.Create(c.Context(), middleware.GetUserID(c), services.CreateContractInput{
		FreelancerUsername: req.FreelancerUsername,
		Amount:             req.Amount,
		Title:              req.Title,
		Description:        req.Description,
		ExpiryDays:         req.ExpiryDays,
	})
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: contract})
}

func (h *ContractHandler) ListContracts(c *fiber.Ctx) error {
	contracts, err := h.contractService.List(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return list(c, contracts)
}

func (h *ContractHandler) GetContract(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	contract, err := h.contractService.Get(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, contract)
}

func (h *ContractHandler) ContractActivity(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	entries, err := h.contractService.Activity(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return list(c, entries)
}

// parseAction reads the shared action body.
func (h *ContractHandler) parseAction(c *fiber.Ctx) (dto.ContractActionRequest, uuid.UUID, bool) {
	var req dto.ContractActionRequest
	if err := c.BodyParser(&req); err != nil {
		return req, uuid.Nil, false
	}
	id, valid := optionalID(req.ContractID)
	return req, id, valid
}

func (h *ContractHandler) FundContract(c *fiber.Ctx) error {
	_, id, valid := h.parseAction(c)
	if !valid {
		return badRequest(c, "invalid request")
	}
	contract, err := h.contractService.FundStatus(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{
		OK:      true,
		Message: "Contract already funded. Funds are locked on creation.",
		Data:    contract,
	})
}

func (h *ContractHandler) DeliverContract(c *fiber.Ctx) error {
	req, id, valid := h.parseAction(c)
	if !valid {
		return badRequest(c, "invalid request")
	}
	contract, err := h.contractService.Deliver(c.Context(), middleware.GetUserID(c), id, req.DeliveryNote)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, contract)
}

func (h *ContractHandler) ReleaseContract(c *fiber.Ctx) error {
	req, id, valid := h.parseAction(c)
	if !valid {
		return badRequest(c, "invalid request")
	}
	contract, err := h.contractService.Release(c.Context(), middleware.GetUserID(c), id, req.Pin)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, contract)
}

func (h *ContractHandler) DisputeContract(c *fiber.Ctx) error {
	req, id, valid := h.parseAction(c)
	if !valid {
		return badRequest(c, "invalid request")
	}
	contract, err := h.contractService.Dispute(c.Context(), middleware.GetUserID(c), id, req.Reason)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, contract)
}

func (h *ContractHandler) RefundContract(c *fiber.Ctx) error {
	req, id, valid := h.parseAction(c)
	if !valid {
		return badRequest(c, "invalid request")
	}
	contract, err := h.contractService.Refund(c.Context(), middleware.GetUserID(c), id, req.Pin)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, contract)
}
