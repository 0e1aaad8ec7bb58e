package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/expo-payments/backend/internal/config"
	"github.com/expo-payments/backend/internal/events"
	"github.com/expo-payments/backend/internal/ledger"
	"github.com/expo-payments/backend/internal/models"
	"github.com/expo-payments/backend/internal/pin"
	"github.com/expo-payments/backend/internal/repositories"
	"github.com/expo-payments/backend/internal/upi"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: testNow} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() *config.Config {
	return &config.Config{
		PlatformMerchantAddr: "GPLATFORM",
		ExplorerTxURL:        "https://stellar.expert/explorer/testnet/tx/%s",
		QuoteDefaultExpiry:   45 * time.Second,
		QuoteMaxExpiry:       10 * time.Minute,
		DuplicateWindow:      10 * time.Second,
		ContractExpiryDays:   30,
		SettlementAttempts:   3,
		StaleClaimAfter:      5 * time.Minute,
	}
}

func mustHash(p string) *string {
	h, err := pin.Hash(p)
	if err != nil {
		panic(err)
	}
	return &h
}

// profiles

type fakeProfiles struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.Profile
}

func newFakeProfiles(ps ...*models.Profile) *fakeProfiles {
	f := &fakeProfiles{byID: map[uuid.UUID]*models.Profile{}}
	for _, p := range ps {
		f.byID[p.ID] = p
	}
	return f
}

func newProfile(universalID string) *models.Profile {
	return &models.Profile{
		ID:          uuid.New(),
		UniversalID: universalID,
		Address:     "G" + universalID,
		KeyRef:      "key-" + universalID,
	}
}

func (f *fakeProfiles) GetByID(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) GetByUniversalID(_ context.Context, universalID string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byID {
		if p.UniversalID == universalID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeProfiles) GetByAddress(_ context.Context, address string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byID {
		if p.Address == address {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeProfiles) SetPinHash(_ context.Context, id uuid.UUID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return repositories.ErrNotFound
	}
	p.PinHash = &hash
	return nil
}

// contracts

type fakeContracts struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]*models.Contract
	createErr error
	finalErr  error
}

func newFakeContracts() *fakeContracts {
	return &fakeContracts{byID: map[uuid.UUID]*models.Contract{}}
}

func (f *fakeContracts) put(c *models.Contract) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	f.byID[c.ID] = c
}

func (f *fakeContracts) get(id uuid.UUID) *models.Contract {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.byID[id]
	return &cp
}

func (f *fakeContracts) Create(_ context.Context, c *models.Contract) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = testNow
	cp := *c
	f.byID[c.ID] = &cp
	return nil
}

func (f *fakeContracts) GetByID(_ context.Context, id uuid.UUID) (*models.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeContracts) ListByParty(_ context.Context, userID uuid.UUID) ([]models.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Contract{}
	for _, c := range f.byID {
		if c.IsParty(userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeContracts) ListActive(_ context.Context, limit int) ([]models.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Contract{}
	for _, c := range f.byID {
		if !models.IsTerminalStatus(c.Status) && len(out) < limit {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeContracts) Claim(_ context.Context, id uuid.UUID, action string, allowed []string, now time.Time) (*models.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok || c.PendingAction != nil {
		return nil, repositories.ErrConflict
	}
	for _, s := range allowed {
		if c.Status == s {
			c.PendingAction = &action
			c.PendingSince = &now
			cp := *c
			return &cp, nil
		}
	}
	return nil, repositories.ErrConflict
}

func (f *fakeContracts) ReleaseClaim(_ context.Context, id uuid.UUID, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.byID[id]; ok && c.PendingAction != nil && *c.PendingAction == action {
		c.PendingAction, c.PendingSince, c.PendingTxHash = nil, nil, nil
	}
	return nil
}

func (f *fakeContracts) Finalize(_ context.Context, id uuid.UUID, action, status, txHash string, now time.Time, change repositories.ContractChange) (*models.Contract, error) {
	if f.finalErr != nil {
		return nil, f.finalErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok || c.PendingAction == nil || *c.PendingAction != action {
		return nil, repositories.ErrConflict
	}
	c.Status = status
	h := txHash
	at := now
	switch status {
	case models.ContractStatusDelivered:
		c.DeliveredAt, c.TxHashDeliver = &at, &h
	case models.ContractStatusReleased:
		c.ReleasedAt, c.TxHashRelease = &at, &h
	case models.ContractStatusDisputed:
		c.DisputedAt, c.TxHashDispute = &at, &h
	case models.ContractStatusRefunded:
		c.RefundedAt, c.TxHashRefund = &at, &h
	}
	if change.Description != nil {
		c.Description = change.Description
	}
	if change.DisputeReason != nil {
		c.DisputeReason = change.DisputeReason
	}
	c.PendingAction, c.PendingSince, c.PendingTxHash = nil, nil, nil
	cp := *c
	return &cp, nil
}

func (f *fakeContracts) SetPendingHash(_ context.Context, id uuid.UUID, action, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok || c.PendingAction == nil || *c.PendingAction != action {
		return repositories.ErrConflict
	}
	h := txHash
	c.PendingTxHash = &h
	return nil
}

func (f *fakeContracts) MoveStatus(_ context.Context, id uuid.UUID, from, to string, txHash *string, now time.Time) (*models.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok || c.Status != from {
		return nil, repositories.ErrConflict
	}
	c.Status = to
	at := now
	keep := func(cur *string) *string {
		if cur != nil || txHash == nil {
			return cur
		}
		h := *txHash
		return &h
	}
	switch to {
	case models.ContractStatusDelivered:
		c.DeliveredAt, c.TxHashDeliver = &at, keep(c.TxHashDeliver)
	case models.ContractStatusReleased:
		c.ReleasedAt, c.TxHashRelease = &at, keep(c.TxHashRelease)
	case models.ContractStatusDisputed:
		c.DisputedAt, c.TxHashDispute = &at, keep(c.TxHashDispute)
	case models.ContractStatusRefunded:
		c.RefundedAt, c.TxHashRefund = &at, keep(c.TxHashRefund)
	}
	c.PendingAction, c.PendingSince, c.PendingTxHash = nil, nil, nil
	cp := *c
	return &cp, nil
}

func (f *fakeContracts) ClearStaleClaim(_ context.Context, id uuid.UUID, cutoff time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok || c.PendingAction == nil || !c.PendingSince.Before(cutoff) {
		return false, nil
	}
	c.PendingAction, c.PendingSince, c.PendingTxHash = nil, nil, nil
	return true, nil
}

// quotes

type fakeQuotes struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.QuoteLock
}

func newFakeQuotes() *fakeQuotes {
	return &fakeQuotes{byID: map[uuid.UUID]*models.QuoteLock{}}
}

func (f *fakeQuotes) Create(_ context.Context, q *models.QuoteLock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q.ID = uuid.New()
	cp := *q
	f.byID[q.ID] = &cp
	return nil
}

func (f *fakeQuotes) GetForUser(_ context.Context, id, userID uuid.UUID) (*models.QuoteLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.byID[id]
	if !ok || q.UserID != userID {
		return nil, repositories.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (f *fakeQuotes) Consume(_ context.Context, id, userID uuid.UUID, kind string, now time.Time) (*models.QuoteLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.byID[id]
	if !ok || q.UserID != userID || q.Kind != kind || q.Used || !now.Before(q.ExpiresAt) {
		return nil, repositories.ErrConflict
	}
	q.Used = true
	q.UsedAt = &now
	cp := *q
	return &cp, nil
}

// transactions

type fakeTxs struct {
	mu        sync.Mutex
	rows      []models.Transaction
	createErr error
	now       func() time.Time
}

func newFakeTxs(now func() time.Time) *fakeTxs {
	return &fakeTxs{now: now}
}

func (f *fakeTxs) Create(_ context.Context, t *models.Transaction) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = uuid.New()
	t.CreatedAt = f.now()
	f.rows = append(f.rows, *t)
	return nil
}

func (f *fakeTxs) HasRecent(_ context.Context, senderID uuid.UUID, recipientAddr string, amount decimal.Decimal, currency string, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.rows {
		same := t.SenderID == senderID && t.RecipientAddress == recipientAddr && t.Amount.Equal(amount) && t.Currency == currency
		if same && !t.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTxs) ListForUser(_ context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Transaction{}
	for i := len(f.rows) - 1; i >= 0 && len(out) < limit; i-- {
		t := f.rows[i]
		if t.SenderID == userID || (t.RecipientID != nil && *t.RecipientID == userID) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTxs) all() []models.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Transaction(nil), f.rows...)
}

// merchant records

type fakeMerchants struct {
	mu       sync.Mutex
	payments []models.MerchantPayment
	debts    map[uuid.UUID]*models.SettlementDebt
	// settleErr is returned by the next SettleDebt when set.
	settleErr error
}

func newFakeMerchants() *fakeMerchants {
	return &fakeMerchants{debts: map[uuid.UUID]*models.SettlementDebt{}}
}

func (f *fakeMerchants) CreatePayment(_ context.Context, p *models.MerchantPayment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = uuid.New()
	f.payments = append(f.payments, *p)
	return nil
}

func (f *fakeMerchants) ListPayments(_ context.Context, userID uuid.UUID, limit int) ([]models.MerchantPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.MerchantPayment{}
	for _, p := range f.payments {
		if p.UserID == userID && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeMerchants) CreateDebt(_ context.Context, d *models.SettlementDebt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.ID = uuid.New()
	cp := *d
	f.debts[d.ID] = &cp
	return nil
}

func (f *fakeMerchants) ListOpenDebts(_ context.Context, limit int) ([]models.SettlementDebt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.SettlementDebt{}
	for _, d := range f.debts {
		open := d.Status == models.SettlementDebtPending || d.Status == models.SettlementDebtUnconfirmed
		if open && len(out) < limit {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeMerchants) onlyDebt(t *testing.T) models.SettlementDebt {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.debts, 1)
	for _, d := range f.debts {
		return *d
	}
	return models.SettlementDebt{}
}

func (f *fakeMerchants) moveDebt(id uuid.UUID, from, to string) (*models.SettlementDebt, error) {
	d, ok := f.debts[id]
	if !ok || d.Status != from {
		return nil, repositories.ErrConflict
	}
	d.Status = to
	return d, nil
}

func (f *fakeMerchants) ConfirmDebit(_ context.Context, debtID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.moveDebt(debtID, models.SettlementDebtUnconfirmed, models.SettlementDebtPending)
	return err
}

func (f *fakeMerchants) VoidDebt(_ context.Context, debtID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.moveDebt(debtID, models.SettlementDebtUnconfirmed, models.SettlementDebtVoid)
	if err != nil {
		return err
	}
	d.LastError = &reason
	return nil
}

func (f *fakeMerchants) MarkDebtPaid(_ context.Context, debtID uuid.UUID, utr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.debts[debtID]
	if !ok || d.Status != models.SettlementDebtPending || d.UTRNumber != nil {
		return repositories.ErrConflict
	}
	d.UTRNumber = &utr
	return nil
}

func (f *fakeMerchants) SettleDebt(_ context.Context, debtID uuid.UUID, p *models.MerchantPayment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settleErr != nil {
		err := f.settleErr
		f.settleErr = nil
		return err
	}
	d, ok := f.debts[debtID]
	if !ok || d.Status != models.SettlementDebtPending {
		return repositories.ErrConflict
	}
	d.Status = models.SettlementDebtSettled
	utr := p.UTRNumber
	d.UTRNumber = &utr
	d.Attempts++
	p.ID = uuid.New()
	f.payments = append(f.payments, *p)
	return nil
}

func (f *fakeMerchants) RecordDebtFailure(_ context.Context, debtID uuid.UUID, reason string, maxAttempts int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.debts[debtID]
	if !ok || (d.Status != models.SettlementDebtPending && d.Status != models.SettlementDebtUnconfirmed) {
		return "", repositories.ErrConflict
	}
	d.Attempts++
	d.LastError = &reason
	if d.Attempts >= maxAttempts {
		d.Status = models.SettlementDebtFailed
	}
	return d.Status, nil
}

// audit and events

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (f *fakeAudit) Log(_ context.Context, e models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) ListForEntity(_ context.Context, entityType string, entityID uuid.UUID, limit int) ([]models.AuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.AuditLog{}
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := f.entries[i]
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakePublisher) Publish(_ context.Context, _ string, e events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

// ledger

type ledgerCall struct {
	Method   string
	From     string
	To       string
	Amount   decimal.Decimal
	Memo     string
	EscrowID uint64
	Deadline uint64
}

type fakeLedger struct {
	mu       sync.Mutex
	calls    []ledgerCall
	nextID   uint64
	seq      int
	latest   uint64
	escrows  map[uint64]*ledger.Escrow
	balances map[string][]ledger.Balance
	// failWith is returned by the next submission when set.
	failWith error
	// gate, when set, blocks submissions until closed.
	gate chan struct{}
	// txStatus answers TransactionStatus; unknown hashes are NOT_FOUND.
	txStatus map[string]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		nextID:   41,
		latest:   1000,
		escrows:  map[uint64]*ledger.Escrow{},
		balances: map[string][]ledger.Balance{},
		txStatus: map[string]string{},
	}
}

func (f *fakeLedger) submit(c ledgerCall) (string, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.failWith != nil {
		err := f.failWith
		f.failWith = nil
		return "", err
	}
	f.seq++
	return fmt.Sprintf("tx%03d", f.seq), nil
}

func (f *fakeLedger) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (f *fakeLedger) lastCall() ledgerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeLedger) setEscrowStatus(id uint64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.escrows[id]; ok {
		e.Status = status
		return
	}
	f.escrows[id] = &ledger.Escrow{Status: status}
}

func (f *fakeLedger) LatestLedger(context.Context) (uint64, error) { return f.latest, nil }

func (f *fakeLedger) Balances(_ context.Context, address string) ([]ledger.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[address]; ok {
		return b, nil
	}
	return []ledger.Balance{}, nil
}

func (f *fakeLedger) NativeTransfer(_ context.Context, from ledger.Account, to string, amount decimal.Decimal, memo string) (string, error) {
	return f.submit(ledgerCall{Method: "transfer", From: from.Address, To: to, Amount: amount, Memo: memo})
}

func (f *fakeLedger) CreateEscrow(_ context.Context, buyer ledger.Account, seller string, amount decimal.Decimal, deadline uint64) (string, uint64, error) {
	hash, err := f.submit(ledgerCall{Method: "create", From: buyer.Address, To: seller, Amount: amount, Deadline: deadline})
	if err != nil {
		return "", 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.escrows[f.nextID] = &ledger.Escrow{Buyer: buyer.Address, Seller: seller, Amount: ledger.ToStroops(amount), Deadline: deadline, Status: ledger.EscrowFunded}
	return hash, f.nextID, nil
}

func (f *fakeLedger) escrowCall(method, status string, party ledger.Account, id uint64) (string, error) {
	hash, err := f.submit(ledgerCall{Method: method, From: party.Address, EscrowID: id})
	if err != nil {
		return "", err
	}
	f.setEscrowStatus(id, status)
	return hash, nil
}

func (f *fakeLedger) DeliverEscrow(_ context.Context, p ledger.Account, id uint64) (string, error) {
	return f.escrowCall("deliver", ledger.EscrowDelivered, p, id)
}

func (f *fakeLedger) ReleaseEscrow(_ context.Context, p ledger.Account, id uint64) (string, error) {
	return f.escrowCall("release", ledger.EscrowReleased, p, id)
}

func (f *fakeLedger) DisputeEscrow(_ context.Context, p ledger.Account, id uint64) (string, error) {
	return f.escrowCall("dispute", ledger.EscrowDisputed, p, id)
}

func (f *fakeLedger) RefundEscrow(_ context.Context, p ledger.Account, id uint64) (string, error) {
	return f.escrowCall("refund", ledger.EscrowRefunded, p, id)
}

func (f *fakeLedger) setTxStatus(hash, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txStatus[hash] = status
}

func (f *fakeLedger) TransactionStatus(_ context.Context, hash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.txStatus[hash]; ok {
		return st, nil
	}
	return ledger.TxStatusNotFound, nil
}

func (f *fakeLedger) GetEscrow(_ context.Context, id uint64) (*ledger.Escrow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.escrows[id]
	if !ok {
		return nil, ledger.ErrEscrowNotFound
	}
	cp := *e
	return &cp, nil
}

// fence

type memFence struct {
	mu   sync.Mutex
	now  func() time.Time
	held map[string]time.Time
}

func newMemFence(now func() time.Time) *memFence {
	return &memFence{now: now, held: map[string]time.Time{}}
}

func (f *memFence) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if until, ok := f.held[key]; ok && f.now().Before(until) {
		return false, nil
	}
	f.held[key] = f.now().Add(ttl)
	return true, nil
}

func (f *memFence) Release(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	return nil
}

// settler

type fakeSettler struct {
	mu    sync.Mutex
	fails int
	calls int
	// paid counts settlements that reached the merchant.
	paid int
}

var errPartnerDown = errors.New("partner unavailable")

func (f *fakeSettler) Settle(_ context.Context, req upi.SettlementRequest) (*upi.SettlementResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return nil, errPartnerDown
	}
	f.paid++
	return &upi.SettlementResult{UTRNumber: fmt.Sprintf("UTR%d", f.calls), SettledAt: testNow}, nil
}
