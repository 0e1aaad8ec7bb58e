package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Signer produces a signature over a prepared transaction hash for an
// account whose key lives in an external custody service.
type Signer interface {
	Sign(ctx context.Context, account, keyRef, txHash string) (string, error)
}

// HTTPSigner calls the signing service's internal API.
type HTTPSigner struct {
	baseURL    string
	token      string
	passphrase string
	httpClient *http.Client
	log        *zap.Logger
}

func NewHTTPSigner(baseURL, token, networkPassphrase string, log *zap.Logger) *HTTPSigner {
	return &HTTPSigner{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		passphrase: networkPassphrase,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

type signRequest struct {
	Account           string `json:"account"`
	KeyRef            string `json:"key_ref"`
	NetworkPassphrase string `json:"network_passphrase"`
	Payload           string `json:"payload"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

func (s *HTTPSigner) Sign(ctx context.Context, account, keyRef, txHash string) (string, error) {
	if keyRef == "" {
		return "", fmt.Errorf("no signing key for account %s", account)
	}
	body, err := json.Marshal(signRequest{
		Account:           account,
		KeyRef:            keyRef,
		NetworkPassphrase: s.passphrase,
		Payload:           txHash,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/sign", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("signing service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		s.log.Warn("signing service rejected request",
			zap.String("account", account), zap.Int("status", resp.StatusCode))
		return "", fmt.Errorf("signing service returned %d: %s", resp.StatusCode, string(b))
	}

	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Signature == "" {
		return "", fmt.Errorf("signing service returned empty signature")
	}
	return out.Signature, nil
}
