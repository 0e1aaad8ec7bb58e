package services

import (
	"context"
	"errors"

	"github.com/expo-payments/backend/internal/apperr"
	"github.com/expo-payments/backend/internal/fx"
	"github.com/expo-payments/backend/internal/ledger"
	"github.com/expo-payments/backend/internal/models"
	"github.com/expo-payments/backend/internal/pin"
	"github.com/expo-payments/backend/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ProfileService struct {
	profiles ProfileStore
	audit    AuditLogger
	ledger   ledger.Client
	log      *zap.Logger
}

func NewProfileService(profiles ProfileStore, audit AuditLogger, ledgerClient ledger.Client, log *zap.Logger) *ProfileService {
	return &ProfileService{
		profiles: profiles,
		audit:    audit,
		ledger:   ledgerClient,
		log:      log,
	}
}

// SetPin sets or changes the 4-digit payment PIN. Changing an existing PIN
// requires the current one.
func (s *ProfileService) SetPin(ctx context.Context, userID uuid.UUID, currentPin, newPin string) error {
	if !pin.IsValidFormat(newPin) {
		return apperr.Validation("PIN must be exactly 4 digits")
	}
	p, err := s.profiles.GetByID(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return apperr.NotFound("Profile not found")
	}
	if err != nil {
		return apperr.Persistence("Failed to load profile", err)
	}
	if p.HasPin() {
		ok, err := pin.Verify(currentPin, *p.PinHash)
		if err != nil {
			return apperr.Internal("PIN check failed", err)
		}
		if !ok {
			return apperr.InvalidCredential("Current PIN is incorrect")
		}
	}

	hash, err := pin.Hash(newPin)
	if err != nil {
		return apperr.Internal("Failed to hash PIN", err)
	}
	if err := s.profiles.SetPinHash(ctx, userID, hash); err != nil {
		return apperr.Persistence("Failed to save PIN", err)
	}

	if err := s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &userID,
		ActorType:   models.ActorTypeUser,
		Action:      "pin_updated",
		EntityType:  "profile",
		EntityID:    &userID,
	}); err != nil {
		s.log.Warn("audit log failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	return nil
}

type ResolvedID struct {
	UniversalID       string  `json:"universal_id"`
	Address           string  `json:"stellar_address"`
	DisplayName       *string `json:"display_name,omitempty"`
	PreferredCurrency *string `json:"preferred_currency,omitempty"`
}

// Resolve maps a Universal ID to its ledger address.
func (s *ProfileService) Resolve(ctx context.Context, username string) (*ResolvedID, error) {
	id := NormalizeUniversalID(username)
	if id == "" {
		return nil, apperr.Validation("Username is required")
	}
	p, err := s.profiles.GetByUniversalID(ctx, id)
	if err != nil || !p.HasWallet() {
		return nil, apperr.NotFound("Universal ID not found")
	}
	return &ResolvedID{
		UniversalID:       p.UniversalID,
		Address:           p.Address,
		DisplayName:       p.DisplayName,
		PreferredCurrency: p.PreferredCurrency,
	}, nil
}

type BalanceView struct {
	Address           string           `json:"stellar_address"`
	Balances          []ledger.Balance `json:"balances"`
	XLMBalance        decimal.Decimal  `json:"xlm_balance"`
	PreferredCurrency string           `json:"preferred_currency"`
	ConvertedBalance  decimal.Decimal  `json:"converted_balance"`
}

// Balance reads the caller's ledger balances. An unfunded account reports zero.
func (s *ProfileService) Balance(ctx context.Context, userID uuid.UUID) (*BalanceView, error) {
	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil || !p.HasWallet() {
		return nil, apperr.NotFound("Wallet not found")
	}
	balances, err := s.ledger.Balances(ctx, p.Address)
	if err != nil {
		return nil, ledgerError(err)
	}

	xlm := decimal.Zero
	for _, b := range balances {
		if b.Asset == "native" || b.Asset == ledger.NativeAsset {
			if v, err := decimal.NewFromString(b.Balance); err == nil {
				xlm = v
			}
		}
	}

	currency := fx.XLM
	if p.PreferredCurrency != nil && *p.PreferredCurrency != "" {
		currency = *p.PreferredCurrency
	}
	converted := xlm
	if currency != fx.XLM {
		// balances are shown at the table rate; quotes carry the live one
		rate, err := fx.BaseRate(fx.XLM, currency)
		if err != nil {
			s.log.Debug("no rate for preferred currency", zap.String("currency", currency))
			currency = fx.XLM
		} else {
			converted = xlm.Mul(rate).Round(2)
		}
	}

	return &BalanceView{
		Address:           p.Address,
		Balances:          balances,
		XLMBalance:        xlm,
		PreferredCurrency: currency,
		ConvertedBalance:  converted,
	}, nil
}
