package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Contract statuses
const (
	// ContractStatusCreated is kept for compatibility with clients that render it.
	// Creation always funds, so no transition leads here.
	ContractStatusCreated   = "created"
	ContractStatusFunded    = "funded"
	ContractStatusDelivered = "delivered"
	ContractStatusReleased  = "released"
	ContractStatusDisputed  = "disputed"
	ContractStatusRefunded  = "refunded"
)

// Contract actions, used for transition claims and audit entries.
const (
	ContractActionDeliver = "deliver"
	ContractActionRelease = "release"
	ContractActionDispute = "dispute"
	ContractActionRefund  = "refund"
)

// Valid state transitions: from -> []to
var ValidContractTransitions = map[string][]string{
	ContractStatusCreated:   {},
	ContractStatusFunded:    {ContractStatusDelivered, ContractStatusReleased, ContractStatusDisputed, ContractStatusRefunded},
	ContractStatusDelivered: {ContractStatusReleased, ContractStatusDisputed, ContractStatusRefunded},
	ContractStatusDisputed:  {ContractStatusRefunded},
	ContractStatusReleased:  {},
	ContractStatusRefunded:  {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidContractTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	return status == ContractStatusReleased || status == ContractStatusRefunded
}

// ActionTarget returns the status an action moves a contract into.
func ActionTarget(action string) (string, bool) {
	switch action {
	case ContractActionDeliver:
		return ContractStatusDelivered, true
	case ContractActionRelease:
		return ContractStatusReleased, true
	case ContractActionDispute:
		return ContractStatusDisputed, true
	case ContractActionRefund:
		return ContractStatusRefunded, true
	}
	return "", false
}

// ActionSources lists the statuses an action may start from.
func ActionSources(action string) []string {
	target, ok := ActionTarget(action)
	if !ok {
		return nil
	}
	var from []string
	for _, s := range []string{ContractStatusFunded, ContractStatusDelivered, ContractStatusDisputed} {
		if IsValidTransition(s, target) {
			from = append(from, s)
		}
	}
	return from
}

type Contract struct {
	ID                    uuid.UUID       `json:"id"`
	EscrowID              int64           `json:"escrow_id"`
	PayerID               uuid.UUID       `json:"payer_id"`
	FreelancerID          uuid.UUID       `json:"freelancer_id"`
	PayerUniversalID      string          `json:"payer_universal_id"`
	FreelancerUniversalID string          `json:"freelancer_universal_id"`
	PayerAddress          string          `json:"payer_stellar_address"`
	FreelancerAddress     string          `json:"freelancer_stellar_address"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	Title                 string          `json:"title"`
	Description           *string         `json:"description,omitempty"`
	ExpiryTimestamp       int64           `json:"expiry_timestamp"` // unix seconds
	Status                string          `json:"status"`
	DisputeReason         *string         `json:"dispute_reason,omitempty"`
	PendingAction         *string         `json:"pending_action,omitempty"`
	PendingSince          *time.Time      `json:"pending_since,omitempty"`
	// PendingTxHash is the submitted but unconfirmed transaction of PendingAction.
	PendingTxHash *string `json:"pending_tx_hash,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	FundedAt    *time.Time `json:"funded_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
	DisputedAt  *time.Time `json:"disputed_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`

	TxHashCreate  *string `json:"tx_hash_create,omitempty"`
	TxHashDeliver *string `json:"tx_hash_deliver,omitempty"`
	TxHashRelease *string `json:"tx_hash_release,omitempty"`
	TxHashDispute *string `json:"tx_hash_dispute,omitempty"`
	TxHashRefund  *string `json:"tx_hash_refund,omitempty"`
}

func (c *Contract) IsExpired(now time.Time) bool {
	return c.ExpiryTimestamp > 0 && now.Unix() > c.ExpiryTimestamp
}

// IsParty reports whether the user is the payer or the freelancer.
func (c *Contract) IsParty(userID uuid.UUID) bool {
	return c.PayerID == userID || c.FreelancerID == userID
}
