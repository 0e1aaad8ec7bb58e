package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	contractFee         = "100000"
	contractTimeoutSecs = 60
	paymentFee          = "100"
	paymentTimeoutSecs  = 30
)

func addressArg(addr string) ScVal { return scVal("address", addr) }
func i128Arg(v int64) ScVal       { return scVal("i128", strconv.FormatInt(v, 10)) }
func u64Arg(v uint64) ScVal       { return scVal("u64", strconv.FormatUint(v, 10)) }

func (c *RPCClient) invoke(ctx context.Context, source Account, function string, args ...ScVal) (*getTransactionResult, string, error) {
	return c.submit(ctx, function, prepareParams{
		Source:            source.Address,
		NetworkPassphrase: c.cfg.NetworkPassphrase,
		Fee:               contractFee,
		TimeoutSeconds:    contractTimeoutSecs,
		Operation: operation{
			Type:       "invoke_contract",
			ContractID: c.cfg.EscrowContractID,
			Function:   function,
			Args:       args,
		},
	}, source)
}

// CreateEscrow locks amount from buyer in a new escrow and returns the
// id assigned by the contract.
func (c *RPCClient) CreateEscrow(ctx context.Context, buyer Account, seller string, amount decimal.Decimal, deadlineLedger uint64) (string, uint64, error) {
	res, hash, err := c.invoke(ctx, buyer, "create",
		addressArg(buyer.Address),
		addressArg(seller),
		addressArg(c.cfg.TokenContractID),
		i128Arg(ToStroops(amount)),
		u64Arg(deadlineLedger),
	)
	if err != nil {
		return hash, 0, err
	}
	// Funds are locked on chain from here on; errors carry the hash so the
	// caller can reconcile.
	if res.ReturnValue == nil {
		c.log.Error("escrow created without a return value", zap.String("tx_hash", hash))
		return hash, 0, fmt.Errorf("create %s: %w", hash, errNoEscrowID)
	}
	escrowID, err := decodeUint(res.ReturnValue.Value)
	if err != nil {
		c.log.Error("failed to decode escrow id", zap.String("tx_hash", hash), zap.Error(err))
		return hash, 0, fmt.Errorf("decode escrow id from %s: %w", hash, err)
	}
	if escrowID == 0 {
		c.log.Error("escrow created with id 0", zap.String("tx_hash", hash))
		return hash, 0, fmt.Errorf("create %s: %w", hash, errNoEscrowID)
	}
	return hash, escrowID, nil
}

var errNoEscrowID = errors.New("contract returned no escrow id")

func (c *RPCClient) DeliverEscrow(ctx context.Context, seller Account, escrowID uint64) (string, error) {
	_, hash, err := c.invoke(ctx, seller, "deliver", u64Arg(escrowID))
	return hash, err
}

func (c *RPCClient) ReleaseEscrow(ctx context.Context, buyer Account, escrowID uint64) (string, error) {
	_, hash, err := c.invoke(ctx, buyer, "release", u64Arg(escrowID))
	return hash, err
}

func (c *RPCClient) DisputeEscrow(ctx context.Context, buyer Account, escrowID uint64) (string, error) {
	_, hash, err := c.invoke(ctx, buyer, "dispute", u64Arg(escrowID))
	return hash, err
}

func (c *RPCClient) RefundEscrow(ctx context.Context, buyer Account, escrowID uint64) (string, error) {
	_, hash, err := c.invoke(ctx, buyer, "refund", u64Arg(escrowID))
	return hash, err
}

type simulateParams struct {
	NetworkPassphrase string    `json:"network_passphrase"`
	Operation         operation `json:"operation"`
}

type simulateResult struct {
	Error  string `json:"error,omitempty"`
	Result *struct {
		Retval ScVal `json:"retval"`
	} `json:"result,omitempty"`
}

// GetEscrow reads escrow state through a simulated, unsigned invocation.
func (c *RPCClient) GetEscrow(ctx context.Context, escrowID uint64) (*Escrow, error) {
	var res simulateResult
	err := c.call(ctx, "simulateTransaction", simulateParams{
		NetworkPassphrase: c.cfg.NetworkPassphrase,
		Operation: operation{
			Type:       "invoke_contract",
			ContractID: c.cfg.EscrowContractID,
			Function:   "get",
			Args:       []ScVal{u64Arg(escrowID)},
		},
	}, &res)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrEscrowNotFound
		}
		return nil, err
	}
	if res.Error != "" {
		if strings.Contains(strings.ToLower(res.Error), "not found") {
			return nil, ErrEscrowNotFound
		}
		return nil, fmt.Errorf("simulate get(%d): %s", escrowID, res.Error)
	}
	if res.Result == nil {
		return nil, ErrEscrowNotFound
	}
	var e Escrow
	if err := json.Unmarshal(res.Result.Retval.Value, &e); err != nil {
		return nil, fmt.Errorf("decode escrow %d: %w", escrowID, err)
	}
	return &e, nil
}

// NativeTransfer pays amount of the native asset from one account to another.
func (c *RPCClient) NativeTransfer(ctx context.Context, from Account, to string, amount decimal.Decimal, memo string) (string, error) {
	_, hash, err := c.submit(ctx, "payment", prepareParams{
		Source:            from.Address,
		NetworkPassphrase: c.cfg.NetworkPassphrase,
		Fee:               paymentFee,
		TimeoutSeconds:    paymentTimeoutSecs,
		Memo:              TruncateMemo(memo),
		Operation: operation{
			Type:        "payment",
			Destination: to,
			Asset:       "native",
			Amount:      FormatAmount(amount),
		},
	}, from)
	return hash, err
}

// decodeUint accepts either a JSON number or a decimal string.
func decodeUint(raw json.RawMessage) (uint64, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	return strconv.ParseUint(s, 10, 64)
}
