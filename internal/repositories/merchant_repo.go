package repositories

import (
	"context"

	"github.com/expo-payments/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MerchantRepo struct {
	pool *pgxpool.Pool
}

func NewMerchantRepo(pool *pgxpool.Pool) *MerchantRepo {
	return &MerchantRepo{pool: pool}
}

func (r *MerchantRepo) CreatePayment(ctx context.Context, p *models.MerchantPayment) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO merchant_payments (user_id, quote_id, merchant_name, merchant_upi_id, inr_amount, xlm_amount,
			exchange_rate, tx_hash, stellar_explorer_url, status, settlement_status, utr_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`, p.UserID, p.QuoteID, p.MerchantName, p.MerchantUPIID, p.INRAmount, p.XLMAmount,
		p.ExchangeRate, p.TxHash, p.ExplorerURL, p.Status, p.SettlementStatus, p.UTRNumber).Scan(&p.ID, &p.CreatedAt)
}

func (r *MerchantRepo) ListPayments(ctx context.Context, userID uuid.UUID, limit int) ([]models.MerchantPayment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, quote_id, merchant_name, merchant_upi_id, inr_amount, xlm_amount, exchange_rate,
			tx_hash, stellar_explorer_url, status, settlement_status, utr_number, created_at
		FROM merchant_payments WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []models.MerchantPayment{}
	for rows.Next() {
		var p models.MerchantPayment
		if err := rows.Scan(&p.ID, &p.UserID, &p.QuoteID, &p.MerchantName, &p.MerchantUPIID, &p.INRAmount, &p.XLMAmount, &p.ExchangeRate,
			&p.TxHash, &p.ExplorerURL, &p.Status, &p.SettlementStatus, &p.UTRNumber, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *MerchantRepo) CreateDebt(ctx context.Context, d *models.SettlementDebt) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO settlement_debts (user_id, quote_id, merchant_name, merchant_upi_id, inr_amount, xlm_amount,
			exchange_rate, tx_hash, status, attempts, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`, d.UserID, d.QuoteID, d.MerchantName, d.MerchantUPIID, d.INRAmount, d.XLMAmount,
		d.ExchangeRate, d.TxHash, d.Status, d.Attempts, d.LastError).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

// ListOpenDebts returns unconfirmed and pending debts, oldest first.
func (r *MerchantRepo) ListOpenDebts(ctx context.Context, limit int) ([]models.SettlementDebt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, quote_id, merchant_name, merchant_upi_id, inr_amount, xlm_amount, exchange_rate,
			tx_hash, status, attempts, last_error, utr_number, created_at, updated_at
		FROM settlement_debts WHERE status IN ('unconfirmed', 'pending')
		ORDER BY created_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	debts := []models.SettlementDebt{}
	for rows.Next() {
		var d models.SettlementDebt
		if err := rows.Scan(&d.ID, &d.UserID, &d.QuoteID, &d.MerchantName, &d.MerchantUPIID, &d.INRAmount, &d.XLMAmount, &d.ExchangeRate,
			&d.TxHash, &d.Status, &d.Attempts, &d.LastError, &d.UTRNumber, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		debts = append(debts, d)
	}
	return debts, rows.Err()
}

// ConfirmDebit moves an unconfirmed debt to pending once its debit is seen on chain.
func (r *MerchantRepo) ConfirmDebit(ctx context.Context, debtID uuid.UUID) error {
	return r.moveDebt(ctx, debtID, models.SettlementDebtUnconfirmed, models.SettlementDebtPending, nil)
}

// VoidDebt closes an unconfirmed debt whose debit failed on chain.
func (r *MerchantRepo) VoidDebt(ctx context.Context, debtID uuid.UUID, reason string) error {
	return r.moveDebt(ctx, debtID, models.SettlementDebtUnconfirmed, models.SettlementDebtVoid, &reason)
}

func (r *MerchantRepo) moveDebt(ctx context.Context, debtID uuid.UUID, from, to string, reason *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE settlement_debts SET status = $3, last_error = COALESCE($4, last_error), updated_at = now()
		WHERE id = $1 AND status = $2
	`, debtID, from, to, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// MarkDebtPaid stores the partner's UTR on a pending debt. Retries of a debt
// carrying a UTR only write the payment row.
func (r *MerchantRepo) MarkDebtPaid(ctx context.Context, debtID uuid.UUID, utr string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE settlement_debts SET utr_number = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending' AND utr_number IS NULL
	`, debtID, utr)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// SettleDebt closes a pending debt and records the merchant payment it stood for.
func (r *MerchantRepo) SettleDebt(ctx context.Context, debtID uuid.UUID, p *models.MerchantPayment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE settlement_debts SET status = 'settled', attempts = attempts + 1, last_error = NULL,
			utr_number = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, debtID, p.UTRNumber)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO merchant_payments (user_id, quote_id, merchant_name, merchant_upi_id, inr_amount, xlm_amount,
			exchange_rate, tx_hash, stellar_explorer_url, status, settlement_status, utr_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`, p.UserID, p.QuoteID, p.MerchantName, p.MerchantUPIID, p.INRAmount, p.XLMAmount,
		p.ExchangeRate, p.TxHash, p.ExplorerURL, p.Status, p.SettlementStatus, p.UTRNumber).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecordDebtFailure bumps the attempt counter and marks the debt failed once
// maxAttempts is reached. It returns the resulting status.
func (r *MerchantRepo) RecordDebtFailure(ctx context.Context, debtID uuid.UUID, reason string, maxAttempts int) (string, error) {
	var status string
	err := r.pool.QueryRow(ctx, `
		UPDATE settlement_debts SET attempts = attempts + 1, last_error = $2, updated_at = now(),
			status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE status END
		WHERE id = $1 AND status IN ('unconfirmed', 'pending')
		RETURNING status
	`, debtID, reason, maxAttempts).Scan(&status)
	if err != nil {
		return "", mapNoRows(err, ErrConflict)
	}
	return status, nil
}
