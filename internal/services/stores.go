package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/expo-payments/backend/internal/apperr"
	"github.com/expo-payments/backend/internal/ledger"
	"github.com/expo-payments/backend/internal/models"
	"github.com/expo-payments/backend/internal/pin"
	"github.com/expo-payments/backend/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// The stores below are satisfied by the pgx repositories.

type ProfileStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	GetByUniversalID(ctx context.Context, universalID string) (*models.Profile, error)
	GetByAddress(ctx context.Context, address string) (*models.Profile, error)
	SetPinHash(ctx context.Context, id uuid.UUID, hash string) error
}

type ContractStore interface {
	Create(ctx context.Context, c *models.Contract) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	ListByParty(ctx context.Context, userID uuid.UUID) ([]models.Contract, error)
	ListActive(ctx context.Context, limit int) ([]models.Contract, error)
	Claim(ctx context.Context, id uuid.UUID, action string, allowed []string, now time.Time) (*models.Contract, error)
	ReleaseClaim(ctx context.Context, id uuid.UUID, action string) error
	Finalize(ctx context.Context, id uuid.UUID, action, status, txHash string, now time.Time, change repositories.ContractChange) (*models.Contract, error)
	SetPendingHash(ctx context.Context, id uuid.UUID, action, txHash string) error
	MoveStatus(ctx context.Context, id uuid.UUID, from, to string, txHash *string, now time.Time) (*models.Contract, error)
	ClearStaleClaim(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error)
}

type QuoteStore interface {
	Create(ctx context.Context, q *models.QuoteLock) error
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.QuoteLock, error)
	Consume(ctx context.Context, id, userID uuid.UUID, kind string, now time.Time) (*models.QuoteLock, error)
}

type TransactionStore interface {
	Create(ctx context.Context, t *models.Transaction) error
	HasRecent(ctx context.Context, senderID uuid.UUID, recipientAddr string, amount decimal.Decimal, currency string, since time.Time) (bool, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error)
}

type MerchantStore interface {
	CreatePayment(ctx context.Context, p *models.MerchantPayment) error
	ListPayments(ctx context.Context, userID uuid.UUID, limit int) ([]models.MerchantPayment, error)
	CreateDebt(ctx context.Context, d *models.SettlementDebt) error
	ListOpenDebts(ctx context.Context, limit int) ([]models.SettlementDebt, error)
	ConfirmDebit(ctx context.Context, debtID uuid.UUID) error
	VoidDebt(ctx context.Context, debtID uuid.UUID, reason string) error
	MarkDebtPaid(ctx context.Context, debtID uuid.UUID, utr string) error
	SettleDebt(ctx context.Context, debtID uuid.UUID, p *models.MerchantPayment) error
	RecordDebtFailure(ctx context.Context, debtID uuid.UUID, reason string, maxAttempts int) (string, error)
}

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

// AuditStore also reads the trail back.
type AuditStore interface {
	AuditLogger
	ListForEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]models.AuditLog, error)
}

const historyLimit = 50

// ledgerError classifies a ledger failure for the caller.
func ledgerError(err error) error {
	if ledger.IsTimeout(err) {
		return apperr.LedgerTimeout("Ledger confirmation timed out. The outcome will be reconciled.", err)
	}
	var txErr *ledger.TxError
	if errors.As(err, &txErr) {
		return apperr.Ledger(txErr.Error(), err)
	}
	return apperr.Ledger("Ledger request failed", err)
}

// checkPin enforces the caller's PIN when one is configured.
func checkPin(p *models.Profile, supplied, missingMsg, invalidMsg string) error {
	if !p.HasPin() {
		return nil
	}
	if supplied == "" {
		return apperr.Validation(missingMsg)
	}
	if !pin.IsValidFormat(supplied) {
		return apperr.Validation("PIN must be exactly 4 digits")
	}
	ok, err := pin.Verify(supplied, *p.PinHash)
	if err != nil {
		return apperr.Internal("PIN check failed", err)
	}
	if !ok {
		return apperr.InvalidCredential(invalidMsg)
	}
	return nil
}

// NormalizeUniversalID strips the optional @expo suffix and surrounding space.
func NormalizeUniversalID(s string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "@expo"))
}

func strPtr(s string) *string { return &s }
