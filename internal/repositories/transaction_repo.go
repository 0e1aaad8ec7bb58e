package repositories

import (
	"context"
	"time"

	"github.com/expo-payments/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func (r *TransactionRepo) Create(ctx context.Context, t *models.Transaction) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO transactions (sender_id, sender_universal_id, recipient_id, recipient_universal_id,
			recipient_address, amount, currency, tx_hash, status, note, purpose)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`, t.SenderID, t.SenderUniversalID, t.RecipientID, t.RecipientUniversalID,
		t.RecipientAddress, t.Amount, t.Currency, t.TxHash, t.Status, t.Note, t.Purpose).Scan(&t.ID, &t.CreatedAt)
}

// HasRecent reports whether the sender recorded a transfer of the same amount
// and currency to the same address at or after since.
func (r *TransactionRepo) HasRecent(ctx context.Context, senderID uuid.UUID, recipientAddr string, amount decimal.Decimal, currency string, since time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE sender_id = $1 AND recipient_address = $2 AND amount = $3 AND currency = $4 AND created_at >= $5
		)
	`, senderID, recipientAddr, amount, currency, since).Scan(&exists)
	return exists, err
}

// ListForUser returns transactions the user sent or received, newest first.
func (r *TransactionRepo) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, sender_id, sender_universal_id, recipient_id, recipient_universal_id, recipient_address,
			amount, currency, tx_hash, status, note, purpose, created_at
		FROM transactions
		WHERE sender_id = $1 OR recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.SenderID, &t.SenderUniversalID, &t.RecipientID, &t.RecipientUniversalID, &t.RecipientAddress,
			&t.Amount, &t.Currency, &t.TxHash, &t.Status, &t.Note, &t.Purpose, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
