package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/expo-payments/backend/internal/apperr"
	"github.com/expo-payments/backend/internal/config"
	"github.com/expo-payments/backend/internal/events"
	"github.com/expo-payments/backend/internal/ledger"
	"github.com/expo-payments/backend/internal/metrics"
	"github.com/expo-payments/backend/internal/models"
	"github.com/expo-payments/backend/internal/rbac"
	"github.com/expo-payments/backend/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	secondsPerDay   = 86400
	minDisputeChars = 10

	entityContract = "contract"
)

type ContractService struct {
	contracts ContractStore
	profiles  ProfileStore
	txs       TransactionStore
	audit     AuditStore
	ledger    ledger.Client
	publisher events.Publisher
	metrics   *metrics.Metrics
	cfg       *config.Config
	log       *zap.Logger
	now       func() time.Time
}

func NewContractService(
	contracts ContractStore,
	profiles ProfileStore,
	txs TransactionStore,
	audit AuditStore,
	ledgerClient ledger.Client,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg *config.Config,
	log *zap.Logger,
) *ContractService {
	return &ContractService{
		contracts: contracts,
		profiles:  profiles,
		txs:       txs,
		audit:     audit,
		ledger:    ledgerClient,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

type CreateContractInput struct {
	FreelancerUsername string
	Amount             decimal.Decimal
	Title              string
	Description        *string
	ExpiryDays         int
}

// Create locks the payer's funds in a new on-chain escrow and records the
// contract as funded.
func (s *ContractService) Create(ctx context.Context, payerID uuid.UUID, in CreateContractInput) (*models.Contract, error) {
	username := NormalizeUniversalID(in.FreelancerUsername)
	title := strings.TrimSpace(in.Title)
	if username == "" || title == "" || in.Amount.IsZero() {
		return nil, apperr.Validation("Missing required fields")
	}
	if in.Amount.IsNegative() {
		return nil, apperr.Validation("Amount must be positive")
	}

	payer, err := s.profiles.GetByID(ctx, payerID)
	if err != nil || !payer.CanSign() {
		return nil, apperr.NotFound("Payer wallet not found")
	}
	freelancer, err := s.profiles.GetByUniversalID(ctx, username)
	if err != nil || !freelancer.HasWallet() {
		return nil, apperr.NotFound("Freelancer not found or has no wallet")
	}
	if freelancer.ID == payer.ID {
		return nil, apperr.Validation("Cannot create contract with yourself")
	}

	days := in.ExpiryDays
	if days <= 0 {
		days = s.cfg.ContractExpiryDays
	}

	latest, err := s.ledger.LatestLedger(ctx)
	if err != nil {
		return nil, ledgerError(err)
	}
	buyer := ledger.Account{Address: payer.Address, KeyRef: payer.KeyRef}
	txHash, escrowID, err := s.ledger.CreateEscrow(ctx, buyer, freelancer.Address, in.Amount, ledger.DeadlineLedger(latest, days))
	if err != nil {
		s.metrics.ContractTransition("create", "ledger_error")
		s.log.Warn("escrow create failed", zap.String("payer", payer.UniversalID), zap.Error(err))
		return nil, ledgerError(err)
	}

	now := s.now()
	contract := &models.Contract{
		EscrowID:              int64(escrowID),
		PayerID:               payer.ID,
		FreelancerID:          freelancer.ID,
		PayerUniversalID:      payer.UniversalID,
		FreelancerUniversalID: freelancer.UniversalID,
		PayerAddress:          payer.Address,
		FreelancerAddress:     freelancer.Address,
		Amount:                in.Amount,
		Currency:              ledger.NativeAsset,
		Title:                 title,
		Description:           in.Description,
		ExpiryTimestamp:       now.Unix() + int64(days)*secondsPerDay,
		Status:                models.ContractStatusFunded,
		FundedAt:              &now,
		TxHashCreate:          &txHash,
	}
	if err := s.contracts.Create(ctx, contract); err != nil {
		s.metrics.ContractTransition("create", "persistence_error")
		s.log.Error("escrow funded but contract not saved",
			zap.Uint64("escrow_id", escrowID),
			zap.String("tx_hash", txHash),
			zap.String("payer_id", payer.ID.String()),
			zap.Error(err),
		)
		return nil, apperr.Persistence("Escrow funded on-chain but the contract could not be saved", err)
	}

	s.metrics.ContractTransition("create", "ok")
	s.log.Info("contract created",
		zap.String("contract_id", contract.ID.String()),
		zap.Uint64("escrow_id", escrowID),
		zap.String("tx_hash", txHash),
	)
	s.record(ctx, contract, "", models.ContractStatusFunded, "contract_created", &payer.ID, map[string]any{
		"escrow_id": escrowID,
		"tx_hash":   txHash,
	})
	return contract, nil
}

func (s *ContractService) List(ctx context.Context, userID uuid.UUID) ([]models.Contract, error) {
	contracts, err := s.contracts.ListByParty(ctx, userID)
	if err != nil {
		return nil, apperr.Persistence("Failed to load contracts", err)
	}
	return contracts, nil
}

// Get returns a contract visible to either party, brought up to date with the chain.
func (s *ContractService) Get(ctx context.Context, userID, contractID uuid.UUID) (*models.Contract, error) {
	c, err := s.load(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(c, userID, rbac.PermView) {
		return nil, apperr.Forbidden(rbac.DeniedMessage(rbac.PermView))
	}
	return s.Reconcile(ctx, c)
}

// Activity returns the audit trail of a contract, newest first.
func (s *ContractService) Activity(ctx context.Context, userID, contractID uuid.UUID) ([]models.AuditLog, error) {
	c, err := s.load(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(c, userID, rbac.PermView) {
		return nil, apperr.Forbidden(rbac.DeniedMessage(rbac.PermView))
	}
	entries, err := s.audit.ListForEntity(ctx, entityContract, c.ID, historyLimit)
	if err != nil {
		return nil, apperr.Persistence("Failed to load contract activity", err)
	}
	return entries, nil
}

// FundStatus reports whether a contract holds funds. Creation always funds,
// so there is no separate funding step.
func (s *ContractService) FundStatus(ctx context.Context, userID, contractID uuid.UUID) (*models.Contract, error) {
	c, err := s.load(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(c, userID, rbac.PermFund) {
		return nil, apperr.Forbidden(rbac.DeniedMessage(rbac.PermFund))
	}
	if c.Status != models.ContractStatusFunded && c.Status != models.ContractStatusDelivered {
		return nil, apperr.InvalidState(fmt.Sprintf("Contract status is %s. Cannot fund.", c.Status))
	}
	return c, nil
}

func (s *ContractService) Deliver(ctx context.Context, userID, contractID uuid.UUID, note string) (*models.Contract, error) {
	c, err := s.load(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(c, userID, rbac.PermDeliver) {
		return nil, apperr.Forbidden(rbac.DeniedMessage(rbac.PermDeliver))
	}
	if c.Status != models.ContractStatusFunded {
		return nil, apperr.InvalidState(fmt.Sprintf("Cannot deliver. Contract status: %s", c.Status))
	}
	actor, err := s.actor(ctx, userID, rbac.PermDeliver, "")
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(note) == "" {
		note = "Work delivered"
	}
	desc := ""
	if c.Description != nil {
		desc = *c.Description
	}
	change := repositories.ContractChange{
		Description: strPtr(desc + "\n\n--- DELIVERY NOTE ---\n" + note),
	}
	return s.perform(ctx, c, models.ContractActionDeliver, actor, change, s.ledger.DeliverEscrow)
}

// Release pays the escrowed amount to the freelancer and records the payment.
func (s *ContractService) Release(ctx context.Context, userID, contractID uuid.UUID, pinCode string) (*models.Contract, error) {
	c, err := s.load(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(c, userID, rbac.PermRelease) {
		return nil, apperr.Forbidden(rbac.DeniedMessage(rbac.PermRelease))
	}
	if c.Status != models.ContractStatusFunded && c.Status != models.ContractStatusDelivered {
		return nil, apperr.InvalidState(fmt.Sprintf("Cannot release. Contract status: %s", c.Status))
	}
	actor, err := s.actor(ctx, userID, rbac.PermRelease, pinCode)
	if err != nil {
		return nil, err
	}

	updated, err := s.perform(ctx, c, models.ContractActionRelease, actor, repositories.ContractChange{}, s.ledger.ReleaseEscrow)
	if err != nil {
		return nil, err
	}
	if err := s.recordRelease(ctx, updated, *updated.TxHashRelease); err != nil {
		return nil, apperr.Persistence("Funds released but the payment record could not be saved", err)
	}
	return updated, nil
}

// recordRelease writes the payment a release made to the freelancer.
func (s *ContractService) recordRelease(ctx context.Context, c *models.Contract, txHash string) error {
	tx := &models.Transaction{
		SenderID:             c.PayerID,
		SenderUniversalID:    c.PayerUniversalID,
		RecipientID:          &c.FreelancerID,
		RecipientUniversalID: c.FreelancerUniversalID,
		RecipientAddress:     c.FreelancerAddress,
		Amount:               c.Amount,
		Currency:             c.Currency,
		TxHash:               txHash,
		Status:               models.TransactionStatusCompleted,
		Note:                 strPtr("Contract Payment: " + c.Title),
		Purpose:              strPtr("Contract Release"),
	}
	if err := s.txs.Create(ctx, tx); err != nil {
		s.log.Error("release confirmed but payment record not saved",
			zap.String("contract_id", c.ID.String()),
			zap.String("tx_hash", txHash),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *ContractService) Dispute(ctx context.Context, userID, contractID uuid.UUID, reason string) (*models.Contract, error) {
	if len([]rune(strings.TrimSpace(reason))) < minDisputeChars {
		return nil, apperr.Validation("Please provide a detailed reason for the dispute (min 10 characters)")
	}
	c, err := s.load(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(c, userID, rbac.PermDispute) {
		return nil, apperr.Forbidden(rbac.DeniedMessage(rbac.PermDispute))
	}
	if models.IsTerminalStatus(c.Status) {
		return nil, apperr.InvalidState(fmt.Sprintf("Cannot dispute. Contract already %s", c.Status))
	}
	if c.Status == models.ContractStatusDisputed {
		return nil, apperr.InvalidState("Contract already in dispute")
	}
	actor, err := s.actor(ctx, userID, rbac.PermDispute, "")
	if err != nil {
		return nil, err
	}

	change := repositories.ContractChange{DisputeReason: &reason}
	return s.perform(ctx, c, models.ContractActionDispute, actor, change, s.ledger.DisputeEscrow)
}

// Refund returns escrowed funds to the payer. Only disputed or expired
// contracts qualify.
func (s *ContractService) Refund(ctx context.Context, userID, contractID uuid.UUID, pinCode string) (*models.Contract, error) {
	c, err := s.load(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(c, userID, rbac.PermRefund) {
		return nil, apperr.Forbidden(rbac.DeniedMessage(rbac.PermRefund))
	}
	if models.IsTerminalStatus(c.Status) {
		return nil, apperr.InvalidState(fmt.Sprintf("Cannot refund. Contract already %s", c.Status))
	}
	if c.Status != models.ContractStatusDisputed && !c.IsExpired(s.now()) {
		return nil, apperr.InvalidState("Can only refund if contract is disputed or expired")
	}
	actor, err := s.actor(ctx, userID, rbac.PermRefund, pinCode)
	if err != nil {
		return nil, err
	}

	return s.perform(ctx, c, models.ContractActionRefund, actor, repositories.ContractChange{}, s.ledger.RefundEscrow)
}

type escrowCall func(ctx context.Context, party ledger.Account, escrowID uint64) (string, error)

// perform claims the transition, submits the ledger call and persists the
// result. The stored status only moves after the chain confirms.
func (s *ContractService) perform(ctx context.Context, c *models.Contract, action string, actor *models.Profile, change repositories.ContractChange, call escrowCall) (*models.Contract, error) {
	target, _ := models.ActionTarget(action)

	claimed, err := s.contracts.Claim(ctx, c.ID, action, models.ActionSources(action), s.now())
	if err != nil {
		s.metrics.ContractTransition(action, "conflict")
		if errors.Is(err, repositories.ErrConflict) {
			return nil, s.claimConflict(ctx, c.ID)
		}
		return nil, apperr.Persistence("Failed to lock contract", err)
	}

	party := ledger.Account{Address: actor.Address, KeyRef: actor.KeyRef}
	txHash, err := call(ctx, party, uint64(claimed.EscrowID))
	if err != nil {
		if ledger.IsTimeout(err) {
			s.metrics.ContractTransition(action, "timeout")
			s.log.Warn("escrow call unconfirmed, claim kept for reconciliation",
				zap.String("contract_id", c.ID.String()),
				zap.String("action", action),
				zap.Error(err),
			)
			if hash := ledger.TimeoutHash(err); hash != "" {
				if setErr := s.contracts.SetPendingHash(ctx, c.ID, action, hash); setErr != nil {
					s.log.Error("failed to store pending transaction hash",
						zap.String("contract_id", c.ID.String()),
						zap.String("tx_hash", hash),
						zap.Error(setErr),
					)
				}
			}
			_ = s.publisher.Publish(ctx, events.StreamContract, events.Event{
				Type: events.EventContractPending,
				Payload: map[string]any{
					"contract_id": c.ID.String(),
					"action":      action,
				},
			})
			return nil, ledgerError(err)
		}
		s.metrics.ContractTransition(action, "ledger_error")
		if relErr := s.contracts.ReleaseClaim(ctx, c.ID, action); relErr != nil {
			s.log.Error("failed to release contract claim", zap.String("contract_id", c.ID.String()), zap.Error(relErr))
		}
		s.log.Warn("escrow call failed", zap.String("contract_id", c.ID.String()), zap.String("action", action), zap.Error(err))
		return nil, ledgerError(err)
	}

	updated, err := s.contracts.Finalize(ctx, c.ID, action, target, txHash, s.now(), change)
	if err != nil {
		s.metrics.ContractTransition(action, "persistence_error")
		s.log.Error("escrow call confirmed but contract not updated",
			zap.String("contract_id", c.ID.String()),
			zap.Int64("escrow_id", claimed.EscrowID),
			zap.String("action", action),
			zap.String("tx_hash", txHash),
			zap.Error(err),
		)
		return nil, apperr.Persistence("Ledger transaction succeeded but the contract could not be updated", err)
	}

	s.metrics.ContractTransition(action, "ok")
	s.log.Info("contract transition",
		zap.String("contract_id", c.ID.String()),
		zap.String("action", action),
		zap.String("status", target),
		zap.String("tx_hash", txHash),
	)
	s.record(ctx, updated, claimed.Status, target, "contract_"+action, &actor.ID, map[string]any{"tx_hash": txHash})
	return updated, nil
}

// claimConflict explains why a claim was refused.
func (s *ContractService) claimConflict(ctx context.Context, id uuid.UUID) error {
	current, err := s.contracts.GetByID(ctx, id)
	if err != nil {
		return apperr.InvalidState("Contract changed concurrently. Please retry.")
	}
	if current.PendingAction != nil {
		return apperr.InvalidState("Contract has a transition in progress")
	}
	return apperr.InvalidState(fmt.Sprintf("Contract status changed to %s", current.Status))
}

func (s *ContractService) load(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	if id == uuid.Nil {
		return nil, apperr.Validation("Contract ID required")
	}
	c, err := s.contracts.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperr.NotFound("Contract not found")
	}
	if err != nil {
		return nil, apperr.Persistence("Failed to load contract", err)
	}
	return c, nil
}

// actor loads the signing profile for permission, checking the PIN when the
// permission moves funds.
func (s *ContractService) actor(ctx context.Context, userID uuid.UUID, permission, pinCode string) (*models.Profile, error) {
	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil || !p.CanSign() {
		return nil, apperr.NotFound("Wallet not found")
	}
	if rbac.RequiresPin(permission) {
		if err := checkPin(p, pinCode, "PIN required", "Invalid PIN"); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// record writes the audit entry and publishes the status event.
func (s *ContractService) record(ctx context.Context, c *models.Contract, oldStatus, newStatus, action string, actorID *uuid.UUID, meta map[string]any) {
	actorType := models.ActorTypeUser
	if actorID == nil {
		actorType = models.ActorTypeSystem
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["old_status"] = oldStatus
	meta["new_status"] = newStatus

	if err := s.audit.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      action,
		EntityType:  entityContract,
		EntityID:    &c.ID,
		Meta:        meta,
	}); err != nil {
		s.log.Warn("audit log failed", zap.String("contract_id", c.ID.String()), zap.Error(err))
	}

	_ = s.publisher.Publish(ctx, events.StreamContract, events.Event{
		Type: events.EventContractStatusChanged,
		Payload: map[string]any{
			"contract_id": c.ID.String(),
			"old_status":  oldStatus,
			"new_status":  newStatus,
		},
	})
}
