// Package ledger talks to the blockchain network: native transfers, balance
// queries and invocations of the escrow contract.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	// StroopsPerUnit is the number of base units in one native asset unit.
	StroopsPerUnit = 10_000_000
	// Decimals is the precision of native amounts.
	Decimals = 7
	// LedgersPerDay assumes a ~5s close time.
	LedgersPerDay = 17280
	// MaxMemoBytes is the protocol limit for a text memo.
	MaxMemoBytes = 28

	NativeAsset = "XLM"
)

// Account is a signing party: its address and the key reference the
// signing service holds for it.
type Account struct {
	Address string
	KeyRef  string
}

type Balance struct {
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

// Escrow statuses as reported by the contract's get method.
const (
	EscrowFunded    = "Funded"
	EscrowDelivered = "Delivered"
	EscrowReleased  = "Released"
	EscrowDisputed  = "Disputed"
	EscrowRefunded  = "Refunded"
)

type Escrow struct {
	Buyer    string `json:"buyer"`
	Seller   string `json:"seller"`
	Token    string `json:"token"`
	Amount   int64  `json:"amount,string"` // stroops
	Deadline uint64 `json:"deadline,string"`
	Status   string `json:"status"`
}

// Client is what the settlement services need from the ledger.
type Client interface {
	LatestLedger(ctx context.Context) (uint64, error)
	Balances(ctx context.Context, address string) ([]Balance, error)
	NativeTransfer(ctx context.Context, from Account, to string, amount decimal.Decimal, memo string) (string, error)

	CreateEscrow(ctx context.Context, buyer Account, seller string, amount decimal.Decimal, deadlineLedger uint64) (txHash string, escrowID uint64, err error)
	DeliverEscrow(ctx context.Context, seller Account, escrowID uint64) (string, error)
	ReleaseEscrow(ctx context.Context, buyer Account, escrowID uint64) (string, error)
	DisputeEscrow(ctx context.Context, buyer Account, escrowID uint64) (string, error)
	RefundEscrow(ctx context.Context, buyer Account, escrowID uint64) (string, error)
	GetEscrow(ctx context.Context, escrowID uint64) (*Escrow, error)

	// TransactionStatus reports where a submitted transaction stands
	// without waiting: TxStatusSuccess, TxStatusFailed or TxStatusNotFound.
	TransactionStatus(ctx context.Context, hash string) (string, error)
}

// Transaction statuses reported by getTransaction.
const (
	TxStatusSuccess  = "SUCCESS"
	TxStatusFailed   = "FAILED"
	TxStatusNotFound = "NOT_FOUND"
)

// ErrTimeout means a submitted transaction did not reach a terminal status
// before the confirmation deadline. Its outcome is unknown.
var ErrTimeout = errors.New("ledger confirmation timed out")

var ErrEscrowNotFound = errors.New("escrow not found")

// TimeoutError carries the hash of a transaction whose outcome is unknown.
type TimeoutError struct {
	Method string
	Hash   string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: transaction %s not confirmed: %v", e.Method, e.Hash, ErrTimeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// TimeoutHash returns the hash of the unconfirmed transaction behind err, or
// "" when err is not a timeout.
func TimeoutHash(err error) string {
	var te *TimeoutError
	if errors.As(err, &te) {
		return te.Hash
	}
	return ""
}

// TxError is a terminal non-success status reported by the network.
type TxError struct {
	Method  string
	Hash    string
	Status  string
	Payload string // raw result/error payload from the node
}

func (e *TxError) Error() string {
	if e.Payload != "" {
		return fmt.Sprintf("Transaction failed: %s (%s)", e.Status, e.Payload)
	}
	return fmt.Sprintf("Transaction failed: %s", e.Status)
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// ToStroops converts an asset amount to base units, discarding digits
// beyond the seventh decimal.
func ToStroops(amount decimal.Decimal) int64 {
	return amount.Shift(Decimals).Floor().IntPart()
}

func FromStroops(stroops int64) decimal.Decimal {
	return decimal.New(stroops, -Decimals)
}

// FormatAmount renders an amount the way payment operations expect it.
func FormatAmount(amount decimal.Decimal) string {
	return amount.Truncate(Decimals).StringFixed(Decimals)
}

// DeadlineLedger returns the ledger sequence days from latest.
func DeadlineLedger(latest uint64, days int) uint64 {
	if days < 0 {
		days = 0
	}
	return latest + uint64(days)*LedgersPerDay
}

// TruncateMemo cuts s to at most MaxMemoBytes without splitting a UTF-8 rune.
func TruncateMemo(s string) string {
	if len(s) <= MaxMemoBytes {
		return s
	}
	cut := MaxMemoBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
