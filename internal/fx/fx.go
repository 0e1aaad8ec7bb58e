// Package fx computes exchange rates and time-boxed quotes.
package fx

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/expo-payments/backend/internal/apperr"
	"github.com/shopspring/decimal"
)

const (
	XLM  = "XLM"
	USDC = "USDC"
	INR  = "INR"
	USD  = "USD"
	EUR  = "EUR"
	GBP  = "GBP"
)

// MaxJitter bounds the relative rate movement applied per lookup (0.1%).
var MaxJitter = decimal.RequireFromString("0.001")

var baseRates = map[string]decimal.Decimal{
	"XLM_INR":  decimal.RequireFromString("13.52"),
	"XLM_USD":  decimal.RequireFromString("0.16"),
	"XLM_EUR":  decimal.RequireFromString("0.15"),
	"XLM_GBP":  decimal.RequireFromString("0.13"),
	"USDC_INR": decimal.RequireFromString("83.50"),
	"USDC_USD": decimal.RequireFromString("1.00"),
	"USDC_EUR": decimal.RequireFromString("0.92"),
	"USDC_GBP": decimal.RequireFromString("0.79"),
	"INR_XLM":  decimal.RequireFromString("0.074"),
	"INR_USDC": decimal.RequireFromString("0.012"),
	"USD_INR":  decimal.RequireFromString("83.50"),
	"EUR_INR":  decimal.RequireFromString("90.80"),
	"GBP_INR":  decimal.RequireFromString("105.60"),
}

type Currency struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

var supported = []Currency{
	{Code: XLM, Name: "Stellar Lumens", Symbol: ""},
	{Code: USDC, Name: "USD Coin", Symbol: "$"},
	{Code: INR, Name: "Indian Rupee", Symbol: "₹"},
	{Code: USD, Name: "US Dollar", Symbol: "$"},
	{Code: EUR, Name: "Euro", Symbol: "€"},
	{Code: GBP, Name: "British Pound", Symbol: "£"},
}

func SupportedCurrencies() []Currency {
	out := make([]Currency, len(supported))
	copy(out, supported)
	return out
}

func IsSupported(code string) bool {
	for _, c := range supported {
		if c.Code == code {
			return true
		}
	}
	return false
}

// JitterFunc returns a relative movement in [-MaxJitter, MaxJitter].
type JitterFunc func() decimal.Decimal

// NoJitter disables rate movement.
func NoJitter() decimal.Decimal { return decimal.Zero }

// RandomJitter draws uniformly from [-MaxJitter, MaxJitter].
func RandomJitter() decimal.Decimal {
	return decimal.NewFromFloat(rand.Float64() - 0.5).Mul(MaxJitter.Mul(decimal.NewFromInt(2)))
}

type Engine struct {
	jitter JitterFunc
	now    func() time.Time
}

type Option func(*Engine)

func WithJitter(fn JitterFunc) Option {
	return func(e *Engine) { e.jitter = fn }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{jitter: RandomJitter, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// BaseRate looks up the table rate for from->to, inverting the reverse pair if needed.
func BaseRate(from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if r, ok := baseRates[from+"_"+to]; ok {
		return r, nil
	}
	if r, ok := baseRates[to+"_"+from]; ok {
		return decimal.NewFromInt(1).DivRound(r, 12), nil
	}
	return decimal.Zero, apperr.UnsupportedPair(fmt.Sprintf("Unsupported currency pair %s/%s", from, to))
}

// Rate returns the live rate for from->to. Jitter is applied to the table
// rate before inversion, so inverse pairs move by the same relative amount.
func (e *Engine) Rate(from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	one := decimal.NewFromInt(1)
	factor := one.Add(e.clampJitter())
	if r, ok := baseRates[from+"_"+to]; ok {
		return r.Mul(factor), nil
	}
	if r, ok := baseRates[to+"_"+from]; ok {
		return one.DivRound(r.Mul(factor), 12), nil
	}
	return decimal.Zero, apperr.UnsupportedPair(fmt.Sprintf("Unsupported currency pair %s/%s", from, to))
}

func (e *Engine) clampJitter() decimal.Decimal {
	j := e.jitter()
	if j.GreaterThan(MaxJitter) {
		return MaxJitter
	}
	if j.LessThan(MaxJitter.Neg()) {
		return MaxJitter.Neg()
	}
	return j
}

// Convert returns amount expressed in the target currency along with the rate used.
func (e *Engine) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, decimal.Decimal, error) {
	rate, err := e.Rate(from, to)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return amount.Mul(rate), rate, nil
}

type Quote struct {
	FromCurrency     string          `json:"from_currency"`
	ToCurrency       string          `json:"to_currency"`
	Rate             decimal.Decimal `json:"rate"`
	SourceAmount     decimal.Decimal `json:"source_amount"`
	TargetAmount     decimal.Decimal `json:"target_amount"`
	ExpiresAt        time.Time       `json:"expires_at"`
	SecondsRemaining int64           `json:"seconds_remaining"`
}

func (e *Engine) GenerateQuote(from, to string, sourceAmount decimal.Decimal, expiry time.Duration) (*Quote, error) {
	if !sourceAmount.IsPositive() {
		return nil, apperr.Validation("Amount must be positive")
	}
	if expiry <= 0 {
		return nil, apperr.Validation("expiry_seconds must be positive")
	}
	rate, err := e.Rate(from, to)
	if err != nil {
		return nil, err
	}
	return &Quote{
		FromCurrency:     from,
		ToCurrency:       to,
		Rate:             rate,
		SourceAmount:     sourceAmount,
		TargetAmount:     sourceAmount.Mul(rate),
		ExpiresAt:        e.now().Add(expiry),
		SecondsRemaining: int64(expiry / time.Second),
	}, nil
}
