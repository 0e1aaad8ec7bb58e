package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile links an authenticated user to a Universal ID and a ledger account.
// KeyRef identifies the account key inside the external signing service.
type Profile struct {
	ID                uuid.UUID `json:"id"`
	UniversalID       string    `json:"universal_id"`
	DisplayName       *string   `json:"display_name,omitempty"`
	Address           string    `json:"stellar_address"`
	KeyRef            string    `json:"-"`
	PinHash           *string   `json:"-"`
	PreferredCurrency *string   `json:"preferred_currency,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func (p *Profile) HasWallet() bool {
	return p.Address != ""
}

func (p *Profile) CanSign() bool {
	return p.Address != "" && p.KeyRef != ""
}

func (p *Profile) HasPin() bool {
	return p.PinHash != nil && *p.PinHash != ""
}
