package dto

import (
	"time"

	"github.com/expo-payments/backend/internal/models"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type MerchantPayResponse struct {
	Payment           *models.MerchantPayment `json:"payment"`
	UTRNumber         string                  `json:"utr_number"`
	ExplorerURL       string                  `json:"stellar_explorer_url"`
	SettledAt         time.Time               `json:"settled_at"`
	SettlementMessage string                  `json:"settlement_message,omitempty"`
}

type ListResponse struct {
	Items any `json:"items"`
	Count int `json:"count"`
}
