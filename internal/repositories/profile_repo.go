package repositories

import (
	"context"

	"github.com/expo-payments/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

const profileColumns = `id, universal_id, display_name, stellar_address, key_ref, pin_hash, preferred_currency, created_at`

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.ID, &p.UniversalID, &p.DisplayName, &p.Address, &p.KeyRef, &p.PinHash, &p.PreferredCurrency, &p.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err, ErrNotFound)
	}
	return &p, nil
}

func (r *ProfileRepo) Create(ctx context.Context, p *models.Profile) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO profiles (universal_id, display_name, stellar_address, key_ref, preferred_currency)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, p.UniversalID, p.DisplayName, p.Address, p.KeyRef, p.PreferredCurrency).Scan(&p.ID, &p.CreatedAt)
}

func (r *ProfileRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
}

func (r *ProfileRepo) GetByUniversalID(ctx context.Context, universalID string) (*models.Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE universal_id = $1`, universalID))
}

func (r *ProfileRepo) GetByAddress(ctx context.Context, address string) (*models.Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `
		SELECT `+profileColumns+` FROM profiles WHERE stellar_address = $1
		ORDER BY created_at LIMIT 1
	`, address))
}

func (r *ProfileRepo) SetPinHash(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE profiles SET pin_hash = $1 WHERE id = $2`, hash, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
