package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/expo-payments/backend/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Node error code for a missing account or contract entry.
const codeNotFound = -32004

type Config struct {
	RPCURL            string
	AuthToken         string
	NetworkPassphrase string
	EscrowContractID  string
	TokenContractID   string

	ConfirmTimeout time.Duration
	PollInitial    time.Duration
	PollMax        time.Duration
	RequestsPerSec int
}

// RPCClient implements Client against the network's JSON-RPC endpoint.
// Transactions are prepared by the node, signed by the external Signer,
// then submitted and polled until they reach a terminal status.
type RPCClient struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	signer  Signer
	metrics *metrics.Metrics
	log     *zap.Logger
	nextID  atomic.Int64
}

func NewRPCClient(cfg Config, signer Signer, m *metrics.Metrics, log *zap.Logger) *RPCClient {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.PollInitial <= 0 {
		cfg.PollInitial = 500 * time.Millisecond
	}
	if cfg.PollMax <= 0 {
		cfg.PollMax = 5 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
		burst = cfg.RequestsPerSec
	}
	return &RPCClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(limit, burst),
		signer:  signer,
		metrics: m,
		log:     log,
	}
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("node rpc error %d: %s", e.Code, e.Message)
}

func isNotFound(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == codeNotFound
}

func (c *RPCClient) call(ctx context.Context, method string, params any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	buf, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.cfg.AuthToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("node rpc %s unavailable: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("node rpc %s failed: status=%d body=%s", method, resp.StatusCode, string(body))
	}

	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

type latestLedgerResult struct {
	Sequence uint64 `json:"sequence"`
}

func (c *RPCClient) LatestLedger(ctx context.Context) (uint64, error) {
	var res latestLedgerResult
	if err := c.call(ctx, "getLatestLedger", nil, &res); err != nil {
		return 0, err
	}
	return res.Sequence, nil
}

type balancesResult struct {
	Balances []Balance `json:"balances"`
}

// Balances returns an empty list for accounts the network does not know.
func (c *RPCClient) Balances(ctx context.Context, address string) ([]Balance, error) {
	var res balancesResult
	err := c.call(ctx, "getBalances", map[string]string{"address": address}, &res)
	if err != nil {
		if isNotFound(err) {
			return []Balance{}, nil
		}
		return nil, err
	}
	if res.Balances == nil {
		return []Balance{}, nil
	}
	return res.Balances, nil
}
