package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/expo-payments/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type QuoteRepo struct {
	pool *pgxpool.Pool
}

func NewQuoteRepo(pool *pgxpool.Pool) *QuoteRepo {
	return &QuoteRepo{pool: pool}
}

const quoteColumns = `id, user_id, kind, from_currency, to_currency, source_amount, target_amount, rate,
	expires_at, used, used_at, created_at`

func scanQuote(row pgx.Row) (*models.QuoteLock, error) {
	var q models.QuoteLock
	err := row.Scan(&q.ID, &q.UserID, &q.Kind, &q.FromCurrency, &q.ToCurrency, &q.SourceAmount, &q.TargetAmount, &q.Rate,
		&q.ExpiresAt, &q.Used, &q.UsedAt, &q.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err, ErrNotFound)
	}
	return &q, nil
}

func (r *QuoteRepo) Create(ctx context.Context, q *models.QuoteLock) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO quote_locks (user_id, kind, from_currency, to_currency, source_amount, target_amount, rate, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, q.UserID, q.Kind, q.FromCurrency, q.ToCurrency, q.SourceAmount, q.TargetAmount, q.Rate, q.ExpiresAt).Scan(&q.ID, &q.CreatedAt)
}

// GetForUser only returns quotes owned by the user.
func (r *QuoteRepo) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.QuoteLock, error) {
	return scanQuote(r.pool.QueryRow(ctx, `
		SELECT `+quoteColumns+` FROM quote_locks WHERE id = $1 AND user_id = $2
	`, id, userID))
}

// Consume marks an unused, unexpired quote as used. A quote already used or
// expired yields ErrConflict; callers re-read to tell the cases apart.
func (r *QuoteRepo) Consume(ctx context.Context, id, userID uuid.UUID, kind string, now time.Time) (*models.QuoteLock, error) {
	q, err := scanQuote(r.pool.QueryRow(ctx, `
		UPDATE quote_locks SET used = true, used_at = $4
		WHERE id = $1 AND user_id = $2 AND kind = $3 AND used = false AND expires_at > $4
		RETURNING `+quoteColumns, id, userID, kind, now))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConflict
	}
	return q, err
}
