package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/expo-payments/backend/internal/apperr"
	"github.com/expo-payments/backend/internal/config"
	"github.com/expo-payments/backend/internal/events"
	"github.com/expo-payments/backend/internal/ledger"
	"github.com/expo-payments/backend/internal/metrics"
	"github.com/expo-payments/backend/internal/models"
	"github.com/expo-payments/backend/internal/upi"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const merchantMemoNameLen = 20

// MerchantService pays UPI merchants: the user's native asset is debited to
// the platform wallet, then a partner pays the merchant in INR.
type MerchantService struct {
	profiles  ProfileStore
	quotes    *QuoteService
	merchants MerchantStore
	ledger    ledger.Client
	settler   upi.Settler
	publisher events.Publisher
	metrics   *metrics.Metrics
	cfg       *config.Config
	log       *zap.Logger
}

func NewMerchantService(
	profiles ProfileStore,
	quotes *QuoteService,
	merchants MerchantStore,
	ledgerClient ledger.Client,
	settler upi.Settler,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg *config.Config,
	log *zap.Logger,
) *MerchantService {
	return &MerchantService{
		profiles:  profiles,
		quotes:    quotes,
		merchants: merchants,
		ledger:    ledgerClient,
		settler:   settler,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		log:       log,
	}
}

type MerchantPayInput struct {
	QuoteID       uuid.UUID
	MerchantName  string
	MerchantUPIID string
	Pin           string
}

type MerchantPayResult struct {
	Payment    *models.MerchantPayment
	Settlement *upi.SettlementResult
}

func merchantMemo(name string) string {
	r := []rune(name)
	if len(r) > merchantMemoNameLen {
		r = r[:merchantMemoNameLen]
	}
	return ledger.TruncateMemo("PAY:" + string(r))
}

func (s *MerchantService) explorerURL(txHash string) string {
	return fmt.Sprintf(s.cfg.ExplorerTxURL, txHash)
}

func (s *MerchantService) Pay(ctx context.Context, userID uuid.UUID, in MerchantPayInput) (*MerchantPayResult, error) {
	name := strings.TrimSpace(in.MerchantName)
	upiID := strings.TrimSpace(in.MerchantUPIID)
	if in.QuoteID == uuid.Nil || name == "" || upiID == "" {
		return nil, apperr.Validation("Missing required fields")
	}

	payer, err := s.profiles.GetByID(ctx, userID)
	if err != nil || !payer.CanSign() {
		return nil, apperr.NotFound("Wallet not found")
	}
	if !payer.HasPin() {
		return nil, apperr.Validation("Please set a PIN in Settings before making payments")
	}
	if err := checkPin(payer, in.Pin, "PIN is required to authorize payment", "Invalid PIN. Please try again."); err != nil {
		return nil, err
	}
	if s.cfg.PlatformMerchantAddr == "" {
		return nil, apperr.Internal("Merchant payments are not configured", nil)
	}

	quote, err := s.quotes.Consume(ctx, userID, in.QuoteID, models.QuoteKindMerchant)
	if err != nil {
		return nil, err
	}

	xlm := quote.TargetAmount.Round(ledger.Decimals)
	from := ledger.Account{Address: payer.Address, KeyRef: payer.KeyRef}
	txHash, err := s.ledger.NativeTransfer(ctx, from, s.cfg.PlatformMerchantAddr, xlm, merchantMemo(name))
	if err != nil {
		s.metrics.Payment("merchant", "ledger_error")
		s.log.Warn("merchant debit failed",
			zap.String("user_id", userID.String()),
			zap.String("quote_id", quote.ID.String()),
			zap.Error(err),
		)
		if hash := ledger.TimeoutHash(err); hash != "" {
			s.recordUnconfirmed(ctx, payer.ID, quote, name, upiID, xlm, hash, err)
		}
		return nil, ledgerError(err)
	}
	s.log.Info("merchant debit confirmed",
		zap.String("user_id", userID.String()),
		zap.String("quote_id", quote.ID.String()),
		zap.String("xlm_amount", xlm.String()),
		zap.String("tx_hash", txHash),
	)

	settlement, err := s.settler.Settle(ctx, upi.SettlementRequest{
		MerchantUPIID: upiID,
		MerchantName:  name,
		AmountINR:     quote.SourceAmount,
		Reference:     txHash,
	})
	if err != nil {
		return nil, s.recordDebt(ctx, payer.ID, quote, name, upiID, xlm, txHash, err)
	}

	payment := &models.MerchantPayment{
		UserID:           payer.ID,
		QuoteID:          quote.ID,
		MerchantName:     name,
		MerchantUPIID:    upiID,
		INRAmount:        quote.SourceAmount,
		XLMAmount:        xlm,
		ExchangeRate:     quote.Rate,
		TxHash:           txHash,
		ExplorerURL:      s.explorerURL(txHash),
		Status:           models.MerchantPaymentSuccess,
		SettlementStatus: models.SettlementStatusSettled,
		UTRNumber:        settlement.UTRNumber,
	}
	if err := s.merchants.CreatePayment(ctx, payment); err != nil {
		s.metrics.Payment("merchant", "persistence_error")
		s.log.Error("merchant payment settled but not recorded",
			zap.String("tx_hash", txHash),
			zap.String("utr", settlement.UTRNumber),
			zap.Error(err),
		)
		return nil, apperr.Persistence("Payment settled but could not be recorded", err)
	}

	s.metrics.Payment("merchant", "ok")
	_ = s.publisher.Publish(ctx, events.StreamPayment, events.Event{
		Type: events.EventPaymentCompleted,
		Payload: map[string]any{
			"kind":       "merchant",
			"payment_id": payment.ID.String(),
			"tx_hash":    txHash,
			"utr_number": settlement.UTRNumber,
		},
	})
	return &MerchantPayResult{Payment: payment, Settlement: settlement}, nil
}

func newDebt(userID uuid.UUID, quote *models.QuoteLock, name, upiID string, xlm decimal.Decimal, txHash, status string, attempts int, cause error) *models.SettlementDebt {
	reason := cause.Error()
	return &models.SettlementDebt{
		UserID:        userID,
		QuoteID:       quote.ID,
		MerchantName:  name,
		MerchantUPIID: upiID,
		INRAmount:     quote.SourceAmount,
		XLMAmount:     xlm,
		ExchangeRate:  quote.Rate,
		TxHash:        txHash,
		Status:        status,
		Attempts:      attempts,
		LastError:     &reason,
	}
}

// recordUnconfirmed keeps a debit that timed out so the worker can look its
// hash up and either settle the merchant or void the debt.
func (s *MerchantService) recordUnconfirmed(ctx context.Context, userID uuid.UUID, quote *models.QuoteLock, name, upiID string, xlm decimal.Decimal, txHash string, cause error) {
	debt := newDebt(userID, quote, name, upiID, xlm, txHash, models.SettlementDebtUnconfirmed, 0, cause)
	if err := s.merchants.CreateDebt(ctx, debt); err != nil {
		s.log.Error("unconfirmed merchant debit not recorded",
			zap.String("quote_id", quote.ID.String()),
			zap.String("tx_hash", txHash),
			zap.String("xlm_amount", xlm.String()),
			zap.Error(err),
		)
		return
	}
	s.metrics.SettlementDebt("unconfirmed")
	s.log.Warn("merchant debit unconfirmed, debt kept for the worker",
		zap.String("debt_id", debt.ID.String()),
		zap.String("tx_hash", txHash),
	)
	_ = s.publisher.Publish(ctx, events.StreamPayment, events.Event{
		Type: events.EventSettlementDebt,
		Payload: map[string]any{
			"debt_id": debt.ID.String(),
			"tx_hash": txHash,
			"status":  debt.Status,
		},
	})
}

// recordDebt keeps a debit whose merchant leg failed so the worker can retry it.
func (s *MerchantService) recordDebt(ctx context.Context, userID uuid.UUID, quote *models.QuoteLock, name, upiID string, xlm decimal.Decimal, txHash string, cause error) error {
	s.metrics.Payment("merchant", "settlement_error")
	debt := newDebt(userID, quote, name, upiID, xlm, txHash, models.SettlementDebtPending, 1, cause)
	if err := s.merchants.CreateDebt(ctx, debt); err != nil {
		s.log.Error("merchant settlement failed and debt not recorded",
			zap.String("tx_hash", txHash),
			zap.String("xlm_amount", xlm.String()),
			zap.NamedError("settlement_error", cause),
			zap.Error(err),
		)
		return apperr.Persistence("Payment debited but merchant settlement could not be recorded", err)
	}

	s.metrics.SettlementDebt("created")
	s.log.Error("merchant settlement failed after debit",
		zap.String("debt_id", debt.ID.String()),
		zap.String("tx_hash", txHash),
		zap.Error(cause),
	)
	_ = s.publisher.Publish(ctx, events.StreamPayment, events.Event{
		Type: events.EventSettlementDebt,
		Payload: map[string]any{
			"debt_id": debt.ID.String(),
			"tx_hash": txHash,
			"status":  debt.Status,
		},
	})
	return apperr.Ledger("Payment debited but merchant settlement pending", cause)
}

type SettlementReport struct {
	Checked  int `json:"checked"`
	Settled  int `json:"settled"`
	Retrying int `json:"retrying"`
	Failed   int `json:"failed"`
	Voided   int `json:"voided"`
}

// RetryDebts works through open debts. Unconfirmed debits are looked up on
// chain first. A debt carrying a UTR has already been paid and only needs its
// payment row. A debt is marked failed once it reaches the attempt limit.
func (s *MerchantService) RetryDebts(ctx context.Context, limit int) (SettlementReport, error) {
	var report SettlementReport
	debts, err := s.merchants.ListOpenDebts(ctx, limit)
	if err != nil {
		return report, err
	}

	for i := range debts {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		d := &debts[i]
		report.Checked++
		if d.Status == models.SettlementDebtUnconfirmed && !s.confirmDebit(ctx, d, &report) {
			continue
		}
		s.settleDebt(ctx, d, &report)
	}
	return report, nil
}

// confirmDebit resolves an unconfirmed debit and reports whether the
// merchant is owed.
func (s *MerchantService) confirmDebit(ctx context.Context, d *models.SettlementDebt, report *SettlementReport) bool {
	status, err := s.ledger.TransactionStatus(ctx, d.TxHash)
	if err != nil {
		report.Retrying++
		s.log.Warn("debit lookup failed", zap.String("debt_id", d.ID.String()), zap.String("tx_hash", d.TxHash), zap.Error(err))
		return false
	}

	switch status {
	case ledger.TxStatusSuccess:
		if err := s.merchants.ConfirmDebit(ctx, d.ID); err != nil {
			s.log.Error("failed to confirm merchant debit", zap.String("debt_id", d.ID.String()), zap.Error(err))
			return false
		}
		d.Status = models.SettlementDebtPending
		s.metrics.SettlementDebt("confirmed")
		s.log.Info("unconfirmed merchant debit landed", zap.String("debt_id", d.ID.String()), zap.String("tx_hash", d.TxHash))
		return true
	case ledger.TxStatusFailed:
		if err := s.merchants.VoidDebt(ctx, d.ID, "debit failed on chain"); err != nil {
			s.log.Error("failed to void merchant debt", zap.String("debt_id", d.ID.String()), zap.Error(err))
			return false
		}
		report.Voided++
		s.metrics.SettlementDebt("void")
		s.log.Info("merchant debit failed on chain, debt voided", zap.String("debt_id", d.ID.String()), zap.String("tx_hash", d.TxHash))
		return false
	default:
		s.recordFailure(ctx, d, errors.New("debit not found on chain"), report)
		return false
	}
}

func (s *MerchantService) settleDebt(ctx context.Context, d *models.SettlementDebt, report *SettlementReport) {
	var utr string
	if d.UTRNumber != nil {
		utr = *d.UTRNumber
	} else {
		res, err := s.settler.Settle(ctx, upi.SettlementRequest{
			MerchantUPIID: d.MerchantUPIID,
			MerchantName:  d.MerchantName,
			AmountINR:     d.INRAmount,
			Reference:     d.TxHash,
		})
		if err != nil {
			s.recordFailure(ctx, d, err, report)
			return
		}
		utr = res.UTRNumber
		if err := s.merchants.MarkDebtPaid(ctx, d.ID, utr); err != nil {
			// the partner dedupes on the reference, so a repeat settle returns this UTR
			s.log.Error("merchant paid but UTR not stored on debt",
				zap.String("debt_id", d.ID.String()),
				zap.String("utr", utr),
				zap.Error(err),
			)
		}
	}

	payment := &models.MerchantPayment{
		UserID:           d.UserID,
		QuoteID:          d.QuoteID,
		MerchantName:     d.MerchantName,
		MerchantUPIID:    d.MerchantUPIID,
		INRAmount:        d.INRAmount,
		XLMAmount:        d.XLMAmount,
		ExchangeRate:     d.ExchangeRate,
		TxHash:           d.TxHash,
		ExplorerURL:      s.explorerURL(d.TxHash),
		Status:           models.MerchantPaymentSuccess,
		SettlementStatus: models.SettlementStatusSettled,
		UTRNumber:        utr,
	}
	if err := s.merchants.SettleDebt(ctx, d.ID, payment); err != nil {
		report.Retrying++
		s.log.Error("merchant paid but payment not recorded, will retry",
			zap.String("debt_id", d.ID.String()),
			zap.String("utr", utr),
			zap.Error(err),
		)
		return
	}
	report.Settled++
	s.metrics.SettlementDebt("settled")
	s.log.Info("settlement debt settled", zap.String("debt_id", d.ID.String()), zap.String("utr", utr))
}

func (s *MerchantService) recordFailure(ctx context.Context, d *models.SettlementDebt, cause error, report *SettlementReport) {
	status, err := s.merchants.RecordDebtFailure(ctx, d.ID, cause.Error(), s.cfg.SettlementAttempts)
	if err != nil {
		s.log.Error("failed to record settlement retry", zap.String("debt_id", d.ID.String()), zap.Error(err))
		return
	}
	if status == models.SettlementDebtFailed {
		report.Failed++
		s.metrics.SettlementDebt("failed")
		s.log.Error("settlement debt needs manual handling",
			zap.String("debt_id", d.ID.String()),
			zap.String("tx_hash", d.TxHash),
			zap.Error(cause),
		)
		return
	}
	report.Retrying++
	s.metrics.SettlementDebt("retry")
}

func (s *MerchantService) History(ctx context.Context, userID uuid.UUID) ([]models.MerchantPayment, error) {
	payments, err := s.merchants.ListPayments(ctx, userID, historyLimit)
	if err != nil {
		return nil, apperr.Persistence("Failed to load merchant history", err)
	}
	return payments, nil
}

func (s *MerchantService) ParseQR(data string) (upi.ParsedQR, error) {
	if strings.TrimSpace(data) == "" {
		return upi.ParsedQR{}, apperr.Validation("QR data is required")
	}
	return upi.ParseQR(data), nil
}
