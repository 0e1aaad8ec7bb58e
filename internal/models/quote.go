package models

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	QuoteKindFX       = "fx"
	QuoteKindMerchant = "merchant"
)

// QuoteLock reserves a rate for a single downstream payment until ExpiresAt.
type QuoteLock struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Kind         string          `json:"kind"`
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	SourceAmount decimal.Decimal `json:"source_amount"`
	TargetAmount decimal.Decimal `json:"target_amount"`
	Rate         decimal.Decimal `json:"rate"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Used         bool            `json:"used"`
	UsedAt       *time.Time      `json:"used_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// SecondsRemaining is floor(expires_at - now), never negative.
func (q *QuoteLock) SecondsRemaining(now time.Time) int64 {
	secs := math.Floor(q.ExpiresAt.Sub(now).Seconds())
	if secs < 0 {
		return 0
	}
	return int64(secs)
}

// Expired is the complement of Consumable. SecondsRemaining can read zero
// during the final second while the quote is still usable.
func (q *QuoteLock) Expired(now time.Time) bool {
	return !q.Consumable(now)
}

// Consumable reports whether a payment may still use this quote.
func (q *QuoteLock) Consumable(now time.Time) bool {
	return !q.Used && now.Before(q.ExpiresAt)
}
