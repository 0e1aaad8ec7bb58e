package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const TransactionStatusCompleted = "completed"

// Transaction mirrors one confirmed ledger transfer.
type Transaction struct {
	ID                   uuid.UUID       `json:"id"`
	SenderID             uuid.UUID       `json:"sender_id"`
	SenderUniversalID    string          `json:"sender_universal_id"`
	RecipientID          *uuid.UUID      `json:"recipient_id,omitempty"` // nil for unregistered addresses
	RecipientUniversalID string          `json:"recipient_universal_id"`
	RecipientAddress     string          `json:"recipient_address"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	TxHash               string          `json:"tx_hash"`
	Status               string          `json:"status"`
	Note                 *string         `json:"note,omitempty"`
	Purpose              *string         `json:"purpose,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}
