package upi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jaevor/go-nanoid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type SettlementRequest struct {
	MerchantUPIID string          `json:"merchant_upi_id"`
	MerchantName  string          `json:"merchant_name"`
	AmountINR     decimal.Decimal `json:"amount_inr"`
	Reference     string          `json:"reference"` // ledger tx hash of the debit
}

type SettlementResult struct {
	UTRNumber string    `json:"utr_number"`
	SettledAt time.Time `json:"settled_at"`
	Message   string    `json:"message"`
}

// Settler pays a merchant in fiat through a routing partner.
type Settler interface {
	Settle(ctx context.Context, req SettlementRequest) (*SettlementResult, error)
}

// Simulator settles every request after a fixed delay. A repeated Reference
// gets the result of its first settlement, as the partner API does.
type Simulator struct {
	delay time.Duration
	now   func() time.Time
	utrID func() string

	mu      sync.Mutex
	settled map[string]*SettlementResult
}

func NewSimulator(delay time.Duration) (*Simulator, error) {
	gen, err := nanoid.CustomASCII("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789", 6)
	if err != nil {
		return nil, err
	}
	return &Simulator{delay: delay, now: time.Now, utrID: gen, settled: map[string]*SettlementResult{}}, nil
}

func (s *Simulator) Settle(ctx context.Context, req SettlementRequest) (*SettlementResult, error) {
	if req.Reference != "" {
		s.mu.Lock()
		prev, ok := s.settled[req.Reference]
		s.mu.Unlock()
		if ok {
			res := *prev
			return &res, nil
		}
	}
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	now := s.now()
	res := &SettlementResult{
		UTRNumber: fmt.Sprintf("UTR%d%s", now.UnixMilli(), s.utrID()),
		SettledAt: now,
		Message: fmt.Sprintf("₹%s credited to %s (%s) via partner settlement",
			req.AmountINR.StringFixed(2), req.MerchantName, req.MerchantUPIID),
	}
	if req.Reference != "" {
		s.mu.Lock()
		if prev, ok := s.settled[req.Reference]; ok {
			res = prev
		} else {
			s.settled[req.Reference] = res
		}
		s.mu.Unlock()
	}
	out := *res
	return &out, nil
}

// PartnerClient forwards settlements to a routing partner's HTTP API.
type PartnerClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewPartnerClient(baseURL string, log *zap.Logger) *PartnerClient {
	return &PartnerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

type partnerResponse struct {
	Status    string    `json:"status"`
	UTRNumber string    `json:"utr_number"`
	SettledAt time.Time `json:"settled_at"`
	Message   string    `json:"message"`
}

func (c *PartnerClient) Settle(ctx context.Context, sr SettlementRequest) (*SettlementResult, error) {
	body, err := json.Marshal(sr)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/settlements", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", sr.Reference)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("settlement partner unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("settlement partner returned %d: %s", resp.StatusCode, string(b))
	}

	var out partnerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Status != "settled" || out.UTRNumber == "" {
		c.log.Warn("settlement not completed by partner",
			zap.String("reference", sr.Reference), zap.String("status", out.Status))
		return nil, fmt.Errorf("settlement %s: %s", out.Status, out.Message)
	}
	if out.SettledAt.IsZero() {
		out.SettledAt = time.Now()
	}
	return &SettlementResult{UTRNumber: out.UTRNumber, SettledAt: out.SettledAt, Message: out.Message}, nil
}
