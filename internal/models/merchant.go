package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	SettlementStatusSettled = "settled"

	// SettlementDebtUnconfirmed is a debit whose submission timed out; the
	// worker checks its hash before paying the merchant.
	SettlementDebtUnconfirmed = "unconfirmed"
	SettlementDebtPending     = "pending"
	SettlementDebtSettled     = "settled"
	SettlementDebtFailed      = "failed"
	// SettlementDebtVoid is a debit the ledger rejected; nothing is owed.
	SettlementDebtVoid     = "void"
	MerchantPaymentSuccess = "completed"
)

type MerchantPayment struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	QuoteID          uuid.UUID       `json:"quote_id"`
	MerchantName     string          `json:"merchant_name"`
	MerchantUPIID    string          `json:"merchant_upi_id"`
	INRAmount        decimal.Decimal `json:"inr_amount"`
	XLMAmount        decimal.Decimal `json:"xlm_amount"`
	ExchangeRate     decimal.Decimal `json:"exchange_rate"`
	TxHash           string          `json:"tx_hash"`
	ExplorerURL      string          `json:"stellar_explorer_url"`
	Status           string          `json:"status"`
	SettlementStatus string          `json:"settlement_status"`
	UTRNumber        string          `json:"utr_number"`
	CreatedAt        time.Time       `json:"created_at"`
}

// SettlementDebt records a debit that reached the platform wallet
// without the merchant being paid.
type SettlementDebt struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	QuoteID       uuid.UUID       `json:"quote_id"`
	MerchantName  string          `json:"merchant_name"`
	MerchantUPIID string          `json:"merchant_upi_id"`
	INRAmount     decimal.Decimal `json:"inr_amount"`
	XLMAmount     decimal.Decimal `json:"xlm_amount"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	TxHash        string          `json:"tx_hash"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     *string         `json:"last_error,omitempty"`
	UTRNumber     *string         `json:"utr_number,omitempty"` // set once the partner has paid
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
