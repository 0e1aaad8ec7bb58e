package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/expo-payments/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ContractRepo struct {
	pool *pgxpool.Pool
}

func NewContractRepo(pool *pgxpool.Pool) *ContractRepo {
	return &ContractRepo{pool: pool}
}

const contractColumns = `id, escrow_id, payer_id, freelancer_id, payer_universal_id, freelancer_universal_id,
	payer_stellar_address, freelancer_stellar_address, amount, currency, title, description,
	expiry_timestamp, status, dispute_reason, pending_action, pending_since, pending_tx_hash,
	created_at, funded_at, delivered_at, released_at, disputed_at, refunded_at,
	tx_hash_create, tx_hash_deliver, tx_hash_release, tx_hash_dispute, tx_hash_refund`

func scanContract(row pgx.Row) (*models.Contract, error) {
	var c models.Contract
	err := row.Scan(&c.ID, &c.EscrowID, &c.PayerID, &c.FreelancerID, &c.PayerUniversalID, &c.FreelancerUniversalID,
		&c.PayerAddress, &c.FreelancerAddress, &c.Amount, &c.Currency, &c.Title, &c.Description,
		&c.ExpiryTimestamp, &c.Status, &c.DisputeReason, &c.PendingAction, &c.PendingSince, &c.PendingTxHash,
		&c.CreatedAt, &c.FundedAt, &c.DeliveredAt, &c.ReleasedAt, &c.DisputedAt, &c.RefundedAt,
		&c.TxHashCreate, &c.TxHashDeliver, &c.TxHashRelease, &c.TxHashDispute, &c.TxHashRefund)
	if err != nil {
		return nil, mapNoRows(err, ErrNotFound)
	}
	return &c, nil
}

func scanContracts(rows pgx.Rows) ([]models.Contract, error) {
	defer rows.Close()
	out := []models.Contract{}
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// statusColumns maps a status to the timestamp and hash columns stamped when
// a contract enters it.
var statusColumns = map[string]struct{ at, hash string }{
	models.ContractStatusFunded:    {"funded_at", "tx_hash_create"},
	models.ContractStatusDelivered: {"delivered_at", "tx_hash_deliver"},
	models.ContractStatusReleased:  {"released_at", "tx_hash_release"},
	models.ContractStatusDisputed:  {"disputed_at", "tx_hash_dispute"},
	models.ContractStatusRefunded:  {"refunded_at", "tx_hash_refund"},
}

func (r *ContractRepo) Create(ctx context.Context, c *models.Contract) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO contracts (escrow_id, payer_id, freelancer_id, payer_universal_id, freelancer_universal_id,
			payer_stellar_address, freelancer_stellar_address, amount, currency, title, description,
			expiry_timestamp, status, funded_at, tx_hash_create)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at
	`, c.EscrowID, c.PayerID, c.FreelancerID, c.PayerUniversalID, c.FreelancerUniversalID,
		c.PayerAddress, c.FreelancerAddress, c.Amount, c.Currency, c.Title, c.Description,
		c.ExpiryTimestamp, c.Status, c.FundedAt, c.TxHashCreate).Scan(&c.ID, &c.CreatedAt)
}

func (r *ContractRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	return scanContract(r.pool.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id))
}

// ListByParty returns contracts where the user is payer or freelancer, newest first.
func (r *ContractRepo) ListByParty(ctx context.Context, userID uuid.UUID) ([]models.Contract, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+contractColumns+` FROM contracts
		WHERE payer_id = $1 OR freelancer_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return scanContracts(rows)
}

// ListActive returns non-terminal contracts, oldest first.
func (r *ContractRepo) ListActive(ctx context.Context, limit int) ([]models.Contract, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+contractColumns+` FROM contracts
		WHERE status NOT IN ('released', 'refunded')
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return scanContracts(rows)
}

// Claim marks an action as in flight. It only succeeds while the contract is
// in one of the allowed statuses and no other action holds the claim.
func (r *ContractRepo) Claim(ctx context.Context, id uuid.UUID, action string, allowed []string, now time.Time) (*models.Contract, error) {
	c, err := scanContract(r.pool.QueryRow(ctx, `
		UPDATE contracts SET pending_action = $2, pending_since = $3, pending_tx_hash = NULL
		WHERE id = $1 AND status = ANY($4) AND pending_action IS NULL
		RETURNING `+contractColumns, id, action, now, allowed))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConflict
	}
	return c, err
}

// ReleaseClaim drops a claim after a definitive ledger failure.
func (r *ContractRepo) ReleaseClaim(ctx context.Context, id uuid.UUID, action string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE contracts SET pending_action = NULL, pending_since = NULL, pending_tx_hash = NULL
		WHERE id = $1 AND pending_action = $2
	`, id, action)
	return err
}

// SetPendingHash records the transaction submitted for a claim whose outcome
// is not yet known.
func (r *ContractRepo) SetPendingHash(ctx context.Context, id uuid.UUID, action, txHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contracts SET pending_tx_hash = $3
		WHERE id = $1 AND pending_action = $2
	`, id, action, txHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// ContractChange carries the optional fields an action writes alongside the status.
type ContractChange struct {
	Description   *string
	DisputeReason *string
}

// Finalize applies the result of a confirmed ledger call to the contract that
// holds the matching claim.
func (r *ContractRepo) Finalize(ctx context.Context, id uuid.UUID, action, status, txHash string, now time.Time, change ContractChange) (*models.Contract, error) {
	cols, ok := statusColumns[status]
	if !ok {
		return nil, fmt.Errorf("no columns for status %q", status)
	}
	c, err := scanContract(r.pool.QueryRow(ctx, `
		UPDATE contracts SET status = $2, `+cols.at+` = $3, `+cols.hash+` = $4,
			description = COALESCE($5, description),
			dispute_reason = COALESCE($6, dispute_reason),
			pending_action = NULL, pending_since = NULL, pending_tx_hash = NULL
		WHERE id = $1 AND pending_action = $7
		RETURNING `+contractColumns, id, status, now, txHash, change.Description, change.DisputeReason, action))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConflict
	}
	return c, err
}

// MoveStatus advances a contract from one status to another as observed on
// the ledger. txHash, when known, is stamped as the hash of the transition.
// Any pending claim is cleared.
func (r *ContractRepo) MoveStatus(ctx context.Context, id uuid.UUID, from, to string, txHash *string, now time.Time) (*models.Contract, error) {
	cols, ok := statusColumns[to]
	if !ok {
		return nil, fmt.Errorf("no columns for status %q", to)
	}
	c, err := scanContract(r.pool.QueryRow(ctx, `
		UPDATE contracts SET status = $3, `+cols.at+` = COALESCE(`+cols.at+`, $4),
			`+cols.hash+` = COALESCE(`+cols.hash+`, $5),
			pending_action = NULL, pending_since = NULL, pending_tx_hash = NULL
		WHERE id = $1 AND status = $2
		RETURNING `+contractColumns, id, from, to, now, txHash))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConflict
	}
	return c, err
}

// ClearStaleClaim drops a claim that has been pending since before cutoff.
func (r *ContractRepo) ClearStaleClaim(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contracts SET pending_action = NULL, pending_since = NULL, pending_tx_hash = NULL
		WHERE id = $1 AND pending_action IS NOT NULL AND pending_since < $2
	`, id, cutoff)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
