package services

import (
	"context"
	"errors"

	"github.com/expo-payments/backend/internal/ledger"
	"github.com/expo-payments/backend/internal/models"
	"github.com/expo-payments/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var chainStatuses = map[string]string{
	ledger.EscrowFunded:    models.ContractStatusFunded,
	ledger.EscrowDelivered: models.ContractStatusDelivered,
	ledger.EscrowReleased:  models.ContractStatusReleased,
	ledger.EscrowDisputed:  models.ContractStatusDisputed,
	ledger.EscrowRefunded:  models.ContractStatusRefunded,
}

type ReconcileReport struct {
	Checked int `json:"checked"`
	Moved   int `json:"moved"`
	Cleared int `json:"cleared"`
	Failed  int `json:"failed"`
}

// Reconcile brings a stored contract in line with the escrow on chain. Read
// failures leave the stored contract as it is.
func (s *ContractService) Reconcile(ctx context.Context, c *models.Contract) (*models.Contract, error) {
	out, _, _, err := s.reconcile(ctx, c)
	if err != nil {
		s.log.Warn("contract reconciliation skipped", zap.String("contract_id", c.ID.String()), zap.Error(err))
		return c, nil
	}
	return out, nil
}

// ReconcileByID is used when a pending transition is announced.
func (s *ContractService) ReconcileByID(ctx context.Context, id uuid.UUID) error {
	c, err := s.contracts.GetByID(ctx, id)
	if err != nil {
		return err
	}
	_, _, _, err = s.reconcile(ctx, c)
	return err
}

// ReconcileActive walks non-terminal contracts, oldest first.
func (s *ContractService) ReconcileActive(ctx context.Context, limit int) (ReconcileReport, error) {
	var report ReconcileReport
	active, err := s.contracts.ListActive(ctx, limit)
	if err != nil {
		return report, err
	}
	for i := range active {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		_, moved, cleared, err := s.reconcile(ctx, &active[i])
		if err != nil {
			report.Failed++
			s.log.Warn("reconcile contract failed", zap.String("contract_id", active[i].ID.String()), zap.Error(err))
			continue
		}
		if moved {
			report.Moved++
		}
		if cleared {
			report.Cleared++
		}
	}
	return report, nil
}

func (s *ContractService) reconcile(ctx context.Context, c *models.Contract) (*models.Contract, bool, bool, error) {
	if models.IsTerminalStatus(c.Status) && c.PendingAction == nil {
		return c, false, false, nil
	}

	esc, err := s.ledger.GetEscrow(ctx, uint64(c.EscrowID))
	if err != nil {
		return c, false, false, err
	}
	chainStatus, ok := chainStatuses[esc.Status]
	if !ok {
		return c, false, false, errors.New("unknown escrow status " + esc.Status)
	}

	moved := false
	if chainStatus != c.Status && models.IsValidTransition(c.Status, chainStatus) {
		txHash := pendingHashFor(c, chainStatus)
		updated, err := s.contracts.MoveStatus(ctx, c.ID, c.Status, chainStatus, txHash, s.now())
		switch {
		case errors.Is(err, repositories.ErrConflict):
			// someone else moved it first
			if fresh, getErr := s.contracts.GetByID(ctx, c.ID); getErr == nil {
				return fresh, false, false, nil
			}
			return c, false, false, nil
		case err != nil:
			return c, false, false, err
		}
		s.log.Info("contract reconciled from chain",
			zap.String("contract_id", c.ID.String()),
			zap.String("old_status", c.Status),
			zap.String("new_status", chainStatus),
		)
		meta := map[string]any{"escrow_id": c.EscrowID}
		if txHash != nil {
			meta["tx_hash"] = *txHash
		}
		s.record(ctx, updated, c.Status, chainStatus, "contract_reconciled", nil, meta)
		if chainStatus == models.ContractStatusReleased {
			if txHash != nil {
				_ = s.recordRelease(ctx, updated, *txHash)
			} else {
				s.log.Warn("release observed on chain without a known transaction, payment record not written",
					zap.String("contract_id", c.ID.String()),
					zap.Int64("escrow_id", c.EscrowID),
				)
			}
		}
		c = updated
		moved = true
	}

	cleared := false
	if c.PendingAction != nil && c.PendingSince != nil {
		cutoff := s.now().Add(-s.cfg.StaleClaimAfter)
		if c.PendingSince.Before(cutoff) {
			ok, err := s.contracts.ClearStaleClaim(ctx, c.ID, cutoff)
			if err != nil {
				return c, moved, false, err
			}
			if ok {
				s.log.Info("stale contract claim cleared",
					zap.String("contract_id", c.ID.String()),
					zap.String("action", *c.PendingAction),
				)
				c.PendingAction = nil
				c.PendingSince = nil
				cleared = true
			}
		}
	}
	return c, moved, cleared, nil
}

// pendingHashFor returns the unconfirmed hash of the claimed action when that
// action is the one that produced status on chain.
func pendingHashFor(c *models.Contract, status string) *string {
	if c.PendingAction == nil || c.PendingTxHash == nil {
		return nil
	}
	if target, _ := models.ActionTarget(*c.PendingAction); target != status {
		return nil
	}
	h := *c.PendingTxHash
	return &h
}
