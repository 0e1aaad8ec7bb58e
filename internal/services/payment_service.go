package services

import (
	"context"
	"errors"
	"time"

	"github.com/expo-payments/backend/internal/apperr"
	"github.com/expo-payments/backend/internal/config"
	"github.com/expo-payments/backend/internal/events"
	"github.com/expo-payments/backend/internal/fx"
	"github.com/expo-payments/backend/internal/ledger"
	"github.com/expo-payments/backend/internal/metrics"
	"github.com/expo-payments/backend/internal/models"
	"github.com/expo-payments/backend/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const duplicateMessage = "Possible duplicate transaction detected. Please wait 10 seconds."

// PaymentService sends native-asset transfers between users.
type PaymentService struct {
	profiles  ProfileStore
	txs       TransactionStore
	ledger    ledger.Client
	engine    *fx.Engine
	fence     Fence
	publisher events.Publisher
	metrics   *metrics.Metrics
	cfg       *config.Config
	log       *zap.Logger
	now       func() time.Time
}

func NewPaymentService(
	profiles ProfileStore,
	txs TransactionStore,
	ledgerClient ledger.Client,
	engine *fx.Engine,
	fence Fence,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg *config.Config,
	log *zap.Logger,
) *PaymentService {
	return &PaymentService{
		profiles:  profiles,
		txs:       txs,
		ledger:    ledgerClient,
		engine:    engine,
		fence:     fence,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

type SendInput struct {
	Recipient string
	Amount    decimal.Decimal
	Currency  string
	Note      string
	Purpose   string
	Pin       string
}

type SendResult struct {
	TxHash      string              `json:"tx_hash"`
	AmountSent  decimal.Decimal     `json:"amount_sent"`
	Currency    string              `json:"currency"`
	XLMAmount   decimal.Decimal     `json:"xlm_amount"`
	Transaction *models.Transaction `json:"transaction"`
}

// IsRawAddress reports whether s looks like a ledger account address
// rather than a Universal ID.
func IsRawAddress(s string) bool {
	if len(s) != 56 || s[0] != 'G' {
		return false
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z' || r >= '2' && r <= '7') {
			return false
		}
	}
	return true
}

// BuildMemo tags a transfer with its purpose (or note) and the two parties.
func BuildMemo(purpose, note, sender, recipient string) string {
	route := sender + ">" + recipient
	switch {
	case purpose != "":
		return ledger.TruncateMemo(purpose + "|" + route)
	case note != "":
		return ledger.TruncateMemo(note + "|" + route)
	}
	return ledger.TruncateMemo(route)
}

func (s *PaymentService) Send(ctx context.Context, senderID uuid.UUID, in SendInput) (*SendResult, error) {
	if in.Recipient == "" || in.Amount.IsZero() {
		return nil, apperr.Validation("Recipient and amount are required")
	}
	if in.Amount.IsNegative() {
		return nil, apperr.Validation("Amount must be positive")
	}

	sender, err := s.profiles.GetByID(ctx, senderID)
	if err != nil || !sender.CanSign() {
		return nil, apperr.NotFound("Sender wallet not found")
	}
	if err := checkPin(sender, in.Pin, "PIN is required to authorize payment", "Invalid PIN. Please try again."); err != nil {
		return nil, err
	}

	recipientAddr, recipient, err := s.resolveRecipient(ctx, in.Recipient)
	if err != nil {
		return nil, err
	}
	if (recipient != nil && recipient.ID == sender.ID) || recipientAddr == sender.Address {
		return nil, apperr.Validation("You cannot send money to yourself")
	}

	currency := in.Currency
	if currency == "" && sender.PreferredCurrency != nil {
		currency = *sender.PreferredCurrency
	}
	if currency == "" {
		currency = fx.XLM
	}

	since := s.now().Add(-s.cfg.DuplicateWindow)
	dup, err := s.txs.HasRecent(ctx, sender.ID, recipientAddr, in.Amount, currency, since)
	if err != nil {
		return nil, apperr.Persistence("Failed to check recent payments", err)
	}
	if dup {
		s.metrics.Payment("p2p", "duplicate")
		return nil, apperr.InvalidState(duplicateMessage)
	}

	native, _, err := s.engine.Convert(in.Amount, currency, fx.XLM)
	if err != nil {
		return nil, err
	}
	native = native.Round(ledger.Decimals)
	if !native.IsPositive() {
		return nil, apperr.Validation("Amount must be positive")
	}

	recipientName := NormalizeUniversalID(in.Recipient)
	recipientLabel := in.Recipient
	if recipient != nil {
		recipientName = recipient.UniversalID
		recipientLabel = recipient.UniversalID
	}
	memo := BuildMemo(in.Purpose, in.Note, sender.UniversalID, recipientName)

	key := paymentFenceKey(sender.ID, recipientAddr, in.Amount, currency)
	acquired, err := s.fence.Acquire(ctx, key, s.cfg.DuplicateWindow)
	if err != nil {
		s.log.Warn("duplicate fence unavailable", zap.Error(err))
	} else if !acquired {
		s.metrics.Payment("p2p", "duplicate")
		return nil, apperr.InvalidState(duplicateMessage)
	}

	from := ledger.Account{Address: sender.Address, KeyRef: sender.KeyRef}
	txHash, err := s.ledger.NativeTransfer(ctx, from, recipientAddr, native, memo)
	if err != nil {
		if acquired && !ledger.IsTimeout(err) {
			_ = s.fence.Release(ctx, key)
		}
		s.metrics.Payment("p2p", "ledger_error")
		s.log.Warn("payment failed", zap.String("sender_id", sender.ID.String()), zap.String("recipient", recipientAddr), zap.Error(err))
		return nil, ledgerError(err)
	}

	tx := &models.Transaction{
		SenderID:             sender.ID,
		SenderUniversalID:    sender.UniversalID,
		RecipientUniversalID: recipientLabel,
		RecipientAddress:     recipientAddr,
		Amount:               in.Amount,
		Currency:             currency,
		TxHash:               txHash,
		Status:               models.TransactionStatusCompleted,
		Note:                 strPtr("XLM:" + ledger.FormatAmount(native)),
	}
	if recipient != nil {
		tx.RecipientID = &recipient.ID
	}
	if in.Purpose != "" {
		tx.Purpose = &in.Purpose
	}
	if err := s.txs.Create(ctx, tx); err != nil {
		s.metrics.Payment("p2p", "persistence_error")
		s.log.Error("payment confirmed but not recorded",
			zap.String("sender_id", sender.ID.String()),
			zap.String("tx_hash", txHash),
			zap.Error(err),
		)
		return nil, apperr.Persistence("Payment sent but could not be recorded", err)
	}

	s.metrics.Payment("p2p", "ok")
	s.log.Info("payment sent",
		zap.String("sender_id", sender.ID.String()),
		zap.String("recipient", recipientAddr),
		zap.String("xlm_amount", native.String()),
		zap.String("tx_hash", txHash),
	)
	_ = s.publisher.Publish(ctx, events.StreamPayment, events.Event{
		Type: events.EventPaymentCompleted,
		Payload: map[string]any{
			"kind":      "p2p",
			"sender_id": sender.ID.String(),
			"tx_hash":   txHash,
		},
	})

	return &SendResult{
		TxHash:      txHash,
		AmountSent:  in.Amount,
		Currency:    currency,
		XLMAmount:   native,
		Transaction: tx,
	}, nil
}

// resolveRecipient accepts a raw address or a Universal ID. Raw addresses
// may belong to no registered profile.
func (s *PaymentService) resolveRecipient(ctx context.Context, identifier string) (string, *models.Profile, error) {
	if IsRawAddress(identifier) {
		p, err := s.profiles.GetByAddress(ctx, identifier)
		if err != nil {
			if !errors.Is(err, repositories.ErrNotFound) {
				s.log.Warn("recipient lookup by address failed", zap.Error(err))
			}
			return identifier, nil, nil
		}
		return identifier, p, nil
	}

	p, err := s.profiles.GetByUniversalID(ctx, NormalizeUniversalID(identifier))
	if err != nil || !p.HasWallet() {
		return "", nil, apperr.NotFound("Recipient Universal ID not found")
	}
	return p.Address, p, nil
}

func (s *PaymentService) History(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	txs, err := s.txs.ListForUser(ctx, userID, historyLimit)
	if err != nil {
		return nil, apperr.Persistence("Failed to load history", err)
	}
	return txs, nil
}
