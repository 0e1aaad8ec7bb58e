package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ScVal is a typed contract argument or return value.
type ScVal struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func scVal(typ string, v any) ScVal {
	raw, _ := json.Marshal(v)
	return ScVal{Type: typ, Value: raw}
}

type operation struct {
	Type string `json:"type"` // invoke_contract / payment

	ContractID string  `json:"contract_id,omitempty"`
	Function   string  `json:"function,omitempty"`
	Args       []ScVal `json:"args,omitempty"`

	Destination string `json:"destination,omitempty"`
	Asset       string `json:"asset,omitempty"`
	Amount      string `json:"amount,omitempty"`
}

type prepareParams struct {
	Source            string    `json:"source"`
	NetworkPassphrase string    `json:"network_passphrase"`
	Fee               string    `json:"fee"`
	TimeoutSeconds    int       `json:"timeout_seconds"`
	Memo              string    `json:"memo,omitempty"`
	Operation         operation `json:"operation"`
}

type prepareResult struct {
	Envelope string `json:"envelope"`
	Hash     string `json:"hash"`
}

type signature struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

type sendParams struct {
	Envelope   string      `json:"envelope"`
	Signatures []signature `json:"signatures"`
}

type sendResult struct {
	Hash        string `json:"hash"`
	Status      string `json:"status"` // PENDING / DUPLICATE / TRY_AGAIN_LATER / ERROR
	ErrorResult string `json:"error_result,omitempty"`
}

type getTransactionResult struct {
	Status      string `json:"status"` // NOT_FOUND / SUCCESS / FAILED
	Ledger      uint64 `json:"ledger,omitempty"`
	ReturnValue *ScVal `json:"return_value,omitempty"`
	ResultXDR   string `json:"result_xdr,omitempty"`
}

var errNotYetConfirmed = errors.New("transaction not yet confirmed")

// submit prepares, signs and sends a transaction, then waits for a terminal status.
func (c *RPCClient) submit(ctx context.Context, method string, params prepareParams, signer Account) (*getTransactionResult, string, error) {
	var prepared prepareResult
	if err := c.call(ctx, "prepareTransaction", params, &prepared); err != nil {
		c.metrics.LedgerSubmission(method, "prepare_error", 0)
		return nil, "", &TxError{Method: method, Status: "PREPARE_FAILED", Payload: err.Error()}
	}

	sig, err := c.signer.Sign(ctx, signer.Address, signer.KeyRef, prepared.Hash)
	if err != nil {
		c.metrics.LedgerSubmission(method, "sign_error", 0)
		return nil, "", &TxError{Method: method, Hash: prepared.Hash, Status: "SIGN_FAILED", Payload: err.Error()}
	}

	start := time.Now()
	hash := prepared.Hash

	var sent sendResult
	err = c.call(ctx, "sendTransaction", sendParams{
		Envelope:   prepared.Envelope,
		Signatures: []signature{{PublicKey: signer.Address, Signature: sig}},
	}, &sent)
	var rpcErr *RPCError
	switch {
	case errors.As(err, &rpcErr):
		c.metrics.LedgerSubmission(method, "rejected", 0)
		return nil, hash, &TxError{Method: method, Hash: hash, Status: "ERROR", Payload: rpcErr.Message}
	case err != nil:
		// The envelope may or may not have been broadcast; confirmation decides.
		c.log.Warn("sendTransaction transport error, polling for outcome",
			zap.String("method", method), zap.String("tx_hash", hash), zap.Error(err))
	case sent.Status == "ERROR":
		c.metrics.LedgerSubmission(method, "rejected", 0)
		return nil, hash, &TxError{Method: method, Hash: hash, Status: sent.Status, Payload: sent.ErrorResult}
	default:
		if sent.Hash != "" {
			hash = sent.Hash
		}
	}

	res, err := c.waitForConfirmation(ctx, method, hash)
	elapsed := time.Since(start)
	switch {
	case err == nil:
		c.metrics.LedgerSubmission(method, "success", elapsed)
		c.log.Info("ledger transaction confirmed",
			zap.String("method", method), zap.String("tx_hash", hash), zap.Duration("elapsed", elapsed))
	case IsTimeout(err):
		c.metrics.LedgerSubmission(method, "timeout", elapsed)
		c.log.Error("ledger confirmation timed out",
			zap.String("method", method), zap.String("tx_hash", hash), zap.Duration("elapsed", elapsed))
	default:
		c.metrics.LedgerSubmission(method, "failed", elapsed)
	}
	return res, hash, err
}

// waitForConfirmation polls getTransaction with exponential backoff until the
// transaction succeeds, fails, or ConfirmTimeout elapses.
func (c *RPCClient) waitForConfirmation(ctx context.Context, method, hash string) (*getTransactionResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.PollInitial
	b.MaxInterval = c.cfg.PollMax
	b.MaxElapsedTime = c.cfg.ConfirmTimeout

	var result *getTransactionResult
	op := func() error {
		var res getTransactionResult
		if err := c.call(ctx, "getTransaction", map[string]string{"hash": hash}, &res); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.log.Debug("getTransaction failed, retrying", zap.String("tx_hash", hash), zap.Error(err))
			return err
		}
		switch res.Status {
		case "NOT_FOUND", "":
			return errNotYetConfirmed
		case "SUCCESS":
			result = &res
			return nil
		default:
			return backoff.Permanent(&TxError{Method: method, Hash: hash, Status: res.Status, Payload: res.ResultXDR})
		}
	}

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err == nil {
		return result, nil
	}
	var txErr *TxError
	if errors.As(err, &txErr) {
		return nil, txErr
	}
	return nil, &TimeoutError{Method: method, Hash: hash}
}

// TransactionStatus reads the current status of hash once. Statuses other
// than SUCCESS and NOT_FOUND are reported as TxStatusFailed.
func (c *RPCClient) TransactionStatus(ctx context.Context, hash string) (string, error) {
	var res getTransactionResult
	if err := c.call(ctx, "getTransaction", map[string]string{"hash": hash}, &res); err != nil {
		return "", err
	}
	switch res.Status {
	case TxStatusSuccess:
		return TxStatusSuccess, nil
	case TxStatusNotFound, "":
		return TxStatusNotFound, nil
	}
	return TxStatusFailed, nil
}
