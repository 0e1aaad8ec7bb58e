package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/expo-payments/backend/internal/apperr"
	"github.com/expo-payments/backend/internal/events"
	"github.com/expo-payments/backend/internal/fx"
	"github.com/expo-payments/backend/internal/ledger"
	"github.com/expo-payments/backend/internal/metrics"
	"github.com/expo-payments/backend/internal/models"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type merchantEnv struct {
	svc       *MerchantService
	quoteSvc  *QuoteService
	quotes    *fakeQuotes
	merchants *fakeMerchants
	ledger    *fakeLedger
	settler   *fakeSettler
	pub       *fakePublisher
	clock     *clock
	user      *models.Profile
}

func newMerchantEnv(t *testing.T) *merchantEnv {
	t.Helper()
	env := &merchantEnv{
		quotes:    newFakeQuotes(),
		merchants: newFakeMerchants(),
		ledger:    newFakeLedger(),
		settler:   &fakeSettler{},
		pub:       &fakePublisher{},
		clock:     newClock(),
		user:      newProfile("alice"),
	}
	env.user.PinHash = mustHash("1234")
	m := metrics.New(prometheus.NewRegistry())
	cfg := testConfig()
	engine := fx.NewEngine(fx.WithJitter(fx.NoJitter), fx.WithClock(env.clock.Now))
	env.quoteSvc = NewQuoteService(env.quotes, engine, m, cfg, zap.NewNop())
	env.quoteSvc.now = env.clock.Now
	env.svc = NewMerchantService(newFakeProfiles(env.user), env.quoteSvc, env.merchants, env.ledger, env.settler, env.pub, m, cfg, zap.NewNop())
	return env
}

func (e *merchantEnv) quote(t *testing.T, inr int64) uuid.UUID {
	t.Helper()
	q, err := e.quoteSvc.CreateMerchant(context.Background(), e.user.ID, decimal.NewFromInt(inr), 0)
	require.NoError(t, err)
	return q.ID
}

func (e *merchantEnv) input(quoteID uuid.UUID) MerchantPayInput {
	return MerchantPayInput{
		QuoteID:       quoteID,
		MerchantName:  "Chai Point",
		MerchantUPIID: "chaipoint@okaxis",
		Pin:           "1234",
	}
}

func TestMerchantPay(t *testing.T) {
	env := newMerchantEnv(t)
	quoteID := env.quote(t, 1000)

	res, err := env.svc.Pay(context.Background(), env.user.ID, env.input(quoteID))
	require.NoError(t, err)

	call := env.ledger.lastCall()
	assert.Equal(t, "transfer", call.Method)
	assert.Equal(t, env.user.Address, call.From)
	assert.Equal(t, "GPLATFORM", call.To)
	assert.True(t, call.Amount.Equal(decimal.NewFromInt(74)), "got %s", call.Amount)
	assert.Equal(t, "PAY:Chai Point", call.Memo)

	p := res.Payment
	assert.Equal(t, quoteID, p.QuoteID)
	assert.True(t, p.INRAmount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, p.XLMAmount.Equal(decimal.NewFromInt(74)))
	assert.Equal(t, "tx001", p.TxHash)
	assert.Equal(t, "https://stellar.expert/explorer/testnet/tx/tx001", p.ExplorerURL)
	assert.Equal(t, models.MerchantPaymentSuccess, p.Status)
	assert.Equal(t, models.SettlementStatusSettled, p.SettlementStatus)
	assert.Equal(t, "UTR1", p.UTRNumber)
	assert.Equal(t, "UTR1", res.Settlement.UTRNumber)

	stored, err := env.quoteSvc.Get(context.Background(), env.user.ID, quoteID)
	require.NoError(t, err)
	assert.True(t, stored.Used)
	assert.Equal(t, []string{events.EventPaymentCompleted}, env.pub.types())
}

func TestMerchantPayQuoteReplay(t *testing.T) {
	env := newMerchantEnv(t)
	quoteID := env.quote(t, 200)
	ctx := context.Background()

	_, err := env.svc.Pay(ctx, env.user.ID, env.input(quoteID))
	require.NoError(t, err)

	_, err = env.svc.Pay(ctx, env.user.ID, env.input(quoteID))
	requireKind(t, err, apperr.KindInvalidState, "Quote already used")
	assert.Equal(t, 1, env.ledger.callCount("transfer"))
	assert.Equal(t, 1, env.settler.calls)
}

func TestMerchantPayExpiredQuote(t *testing.T) {
	env := newMerchantEnv(t)
	quoteID := env.quote(t, 200)
	env.clock.Advance(46 * time.Second)

	_, err := env.svc.Pay(context.Background(), env.user.ID, env.input(quoteID))
	requireKind(t, err, apperr.KindInvalidState, "Quote expired. Please generate a new quote.")
	assert.Zero(t, env.ledger.callCount("transfer"))
}

func TestMerchantPayRejectsFXQuote(t *testing.T) {
	env := newMerchantEnv(t)
	q, err := env.quoteSvc.CreateFX(context.Background(), env.user.ID, fx.INR, fx.XLM, decimal.NewFromInt(100), 0)
	require.NoError(t, err)

	_, err = env.svc.Pay(context.Background(), env.user.ID, env.input(q.ID))
	requireKind(t, err, apperr.KindNotFound, "Quote not found")
}

func TestMerchantPayPinChecks(t *testing.T) {
	env := newMerchantEnv(t)
	quoteID := env.quote(t, 200)
	ctx := context.Background()

	in := env.input(quoteID)
	in.Pin = ""
	_, err := env.svc.Pay(ctx, env.user.ID, in)
	requireKind(t, err, apperr.KindValidation, "PIN is required to authorize payment")

	in.Pin = "0000"
	_, err = env.svc.Pay(ctx, env.user.ID, in)
	requireKind(t, err, apperr.KindInvalidCredential, "Invalid PIN. Please try again.")

	in.Pin = "12ab"
	_, err = env.svc.Pay(ctx, env.user.ID, in)
	requireKind(t, err, apperr.KindValidation, "PIN must be exactly 4 digits")
	assert.Zero(t, env.ledger.callCount("transfer"))

	// rejected attempts leave the quote usable
	_, err = env.svc.Pay(ctx, env.user.ID, env.input(quoteID))
	require.NoError(t, err)
}

func TestMerchantPayRequiresPinSetup(t *testing.T) {
	env := newMerchantEnv(t)
	env.svc.profiles.(*fakeProfiles).byID[env.user.ID].PinHash = nil
	quoteID := env.quote(t, 200)

	_, err := env.svc.Pay(context.Background(), env.user.ID, env.input(quoteID))
	requireKind(t, err, apperr.KindValidation, "Please set a PIN in Settings before making payments")
}

func TestMerchantPayValidation(t *testing.T) {
	env := newMerchantEnv(t)
	ctx := context.Background()

	_, err := env.svc.Pay(ctx, env.user.ID, MerchantPayInput{MerchantName: "x", MerchantUPIID: "x@y"})
	requireKind(t, err, apperr.KindValidation, "Missing required fields")

	_, err = env.svc.Pay(ctx, env.user.ID, MerchantPayInput{QuoteID: uuid.New(), MerchantUPIID: "x@y"})
	requireKind(t, err, apperr.KindValidation, "Missing required fields")

	_, err = env.svc.Pay(ctx, uuid.New(), env.input(uuid.New()))
	requireKind(t, err, apperr.KindNotFound, "Wallet not found")
}

func TestMerchantPayNotConfigured(t *testing.T) {
	env := newMerchantEnv(t)
	env.svc.cfg.PlatformMerchantAddr = ""
	quoteID := env.quote(t, 200)

	_, err := env.svc.Pay(context.Background(), env.user.ID, env.input(quoteID))
	requireKind(t, err, apperr.KindInternal, "")
	assert.Zero(t, env.ledger.callCount("transfer"))
}

func TestMerchantDebitFailureSpendsQuote(t *testing.T) {
	env := newMerchantEnv(t)
	quoteID := env.quote(t, 200)
	env.ledger.failWith = &ledger.TxError{Method: "transfer", Status: "FAILED"}
	ctx := context.Background()

	_, err := env.svc.Pay(ctx, env.user.ID, env.input(quoteID))
	requireKind(t, err, apperr.KindLedger, "")
	assert.Zero(t, env.settler.calls)

	_, err = env.svc.Pay(ctx, env.user.ID, env.input(quoteID))
	requireKind(t, err, apperr.KindInvalidState, "Quote already used")
}

func TestMerchantSettlementFailureRecordsDebt(t *testing.T) {
	env := newMerchantEnv(t)
	env.settler.fails = 1
	quoteID := env.quote(t, 1000)
	ctx := context.Background()

	_, err := env.svc.Pay(ctx, env.user.ID, env.input(quoteID))
	requireKind(t, err, apperr.KindLedger, "Payment debited but merchant settlement pending")
	assert.Contains(t, env.pub.types(), events.EventSettlementDebt)

	debts, err := env.merchants.ListOpenDebts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, debts, 1)
	assert.Equal(t, "tx001", debts[0].TxHash)
	assert.Equal(t, 1, debts[0].Attempts)
	assert.Empty(t, env.merchants.payments)

	report, err := env.svc.RetryDebts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SettlementReport{Checked: 1, Settled: 1}, report)

	hist, err := env.svc.History(ctx, env.user.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "UTR2", hist[0].UTRNumber)
	assert.Equal(t, "tx001", hist[0].TxHash)
	assert.Equal(t, 1, env.ledger.callCount("transfer"), "retries never debit again")
}

func TestMerchantDebtRetryAfterRecordFailurePaysOnce(t *testing.T) {
	env := newMerchantEnv(t)
	env.settler.fails = 1
	quoteID := env.quote(t, 500)
	ctx := context.Background()

	_, err := env.svc.Pay(ctx, env.user.ID, env.input(quoteID))
	require.Error(t, err)

	// the merchant is paid but the payment row cannot be written
	env.merchants.settleErr = errors.New("db down")
	report, err := env.svc.RetryDebts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SettlementReport{Checked: 1, Retrying: 1}, report)
	assert.Equal(t, 1, env.settler.paid)

	d := env.merchants.onlyDebt(t)
	assert.Equal(t, models.SettlementDebtPending, d.Status)
	require.NotNil(t, d.UTRNumber)
	assert.Equal(t, "UTR2", *d.UTRNumber)

	report, err = env.svc.RetryDebts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SettlementReport{Checked: 1, Settled: 1}, report)
	assert.Equal(t, 1, env.settler.paid, "merchant paid exactly once")
	assert.Equal(t, 2, env.settler.calls)

	hist, err := env.svc.History(ctx, env.user.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "UTR2", hist[0].UTRNumber)
}

func TestMerchantDebitTimeoutLeavesUnconfirmedDebt(t *testing.T) {
	env := newMerchantEnv(t)
	quoteID := env.quote(t, 1000)
	env.ledger.failWith = &ledger.TimeoutError{Method: "transfer", Hash: "txlate"}
	ctx := context.Background()

	_, err := env.svc.Pay(ctx, env.user.ID, env.input(quoteID))
	requireKind(t, err, apperr.KindLedgerTimeout, "")
	assert.Zero(t, env.settler.calls)
	assert.Contains(t, env.pub.types(), events.EventSettlementDebt)

	d := env.merchants.onlyDebt(t)
	assert.Equal(t, models.SettlementDebtUnconfirmed, d.Status)
	assert.Equal(t, "txlate", d.TxHash)
	assert.True(t, d.INRAmount.Equal(decimal.NewFromInt(1000)))
	assert.Zero(t, d.Attempts)

	// not visible yet
	report, err := env.svc.RetryDebts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SettlementReport{Checked: 1, Retrying: 1}, report)
	assert.Zero(t, env.settler.calls)

	env.ledger.setTxStatus("txlate", ledger.TxStatusSuccess)
	report, err = env.svc.RetryDebts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SettlementReport{Checked: 1, Settled: 1}, report)

	hist, err := env.svc.History(ctx, env.user.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "txlate", hist[0].TxHash)
	assert.Equal(t, 1, env.settler.paid)
	assert.Equal(t, 1, env.ledger.callCount("transfer"))
}

func TestMerchantDebitFailedOnChainVoidsDebt(t *testing.T) {
	env := newMerchantEnv(t)
	quoteID := env.quote(t, 200)
	env.ledger.failWith = &ledger.TimeoutError{Method: "transfer", Hash: "txdead"}
	ctx := context.Background()

	_, err := env.svc.Pay(ctx, env.user.ID, env.input(quoteID))
	requireKind(t, err, apperr.KindLedgerTimeout, "")

	env.ledger.setTxStatus("txdead", ledger.TxStatusFailed)
	report, err := env.svc.RetryDebts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SettlementReport{Checked: 1, Voided: 1}, report)
	assert.Zero(t, env.settler.calls)
	assert.Equal(t, models.SettlementDebtVoid, env.merchants.onlyDebt(t).Status)

	report, err = env.svc.RetryDebts(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
}

func TestMerchantDebtGivesUpAfterAttempts(t *testing.T) {
	env := newMerchantEnv(t)
	env.settler.fails = 10
	quoteID := env.quote(t, 300)
	ctx := context.Background()

	_, err := env.svc.Pay(ctx, env.user.ID, env.input(quoteID))
	require.Error(t, err)

	report, err := env.svc.RetryDebts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SettlementReport{Checked: 1, Retrying: 1}, report)

	report, err = env.svc.RetryDebts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SettlementReport{Checked: 1, Failed: 1}, report)

	report, err = env.svc.RetryDebts(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
}

func TestMerchantMemoTruncatesName(t *testing.T) {
	assert.Equal(t, "PAY:Chai Point", merchantMemo("Chai Point"))
	assert.Equal(t, "PAY:ABCDEFGHIJKLMNOPQRST", merchantMemo("ABCDEFGHIJKLMNOPQRSTUVWXYZ"))
	assert.LessOrEqual(t, len(merchantMemo("चायचायचायचायचायचायचाय")), ledger.MaxMemoBytes)
}

func TestParseQR(t *testing.T) {
	env := newMerchantEnv(t)

	_, err := env.svc.ParseQR("  ")
	requireKind(t, err, apperr.KindValidation, "QR data is required")

	qr, err := env.svc.ParseQR("upi://pay?pa=chaipoint@okaxis&pn=Chai%20Point&am=120")
	require.NoError(t, err)
	assert.True(t, qr.IsValid)
	assert.Equal(t, "chaipoint@okaxis", qr.MerchantUPIID)
	assert.Equal(t, "Chai Point", qr.MerchantName)
	require.NotNil(t, qr.Amount)
	assert.True(t, qr.Amount.Equal(decimal.NewFromInt(120)))
}
