package services

import (
	"context"
	"errors"
	"time"

	"github.com/expo-payments/backend/internal/apperr"
	"github.com/expo-payments/backend/internal/config"
	"github.com/expo-payments/backend/internal/fx"
	"github.com/expo-payments/backend/internal/metrics"
	"github.com/expo-payments/backend/internal/models"
	"github.com/expo-payments/backend/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type QuoteService struct {
	quotes  QuoteStore
	engine  *fx.Engine
	metrics *metrics.Metrics
	cfg     *config.Config
	log     *zap.Logger
	now     func() time.Time
}

func NewQuoteService(quotes QuoteStore, engine *fx.Engine, m *metrics.Metrics, cfg *config.Config, log *zap.Logger) *QuoteService {
	return &QuoteService{
		quotes:  quotes,
		engine:  engine,
		metrics: m,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// QuoteView is a stored quote as reported to its owner.
type QuoteView struct {
	models.QuoteLock
	SecondsRemaining int64 `json:"seconds_remaining"`
	Expired          bool  `json:"expired"`
}

func (s *QuoteService) view(q *models.QuoteLock) *QuoteView {
	now := s.now()
	return &QuoteView{QuoteLock: *q, SecondsRemaining: q.SecondsRemaining(now), Expired: q.Expired(now)}
}

func (s *QuoteService) expiry(seconds int) (time.Duration, error) {
	if seconds == 0 {
		return s.cfg.QuoteDefaultExpiry, nil
	}
	d := time.Duration(seconds) * time.Second
	if d <= 0 || d > s.cfg.QuoteMaxExpiry {
		return 0, apperr.Validation("expiry_seconds out of range")
	}
	return d, nil
}

// CreateFX locks a rate for any supported pair.
func (s *QuoteService) CreateFX(ctx context.Context, userID uuid.UUID, from, to string, amount decimal.Decimal, expirySeconds int) (*QuoteView, error) {
	if from == "" || to == "" || amount.IsZero() {
		return nil, apperr.Validation("Missing required fields")
	}
	for _, code := range []string{from, to} {
		if !fx.IsSupported(code) {
			return nil, apperr.UnsupportedPair("Unsupported currency " + code)
		}
	}
	return s.create(ctx, userID, models.QuoteKindFX, from, to, amount, expirySeconds)
}

// CreateMerchant locks an INR to XLM rate for a merchant payment.
func (s *QuoteService) CreateMerchant(ctx context.Context, userID uuid.UUID, inrAmount decimal.Decimal, expirySeconds int) (*QuoteView, error) {
	if !inrAmount.IsPositive() {
		return nil, apperr.Validation("Valid INR amount required")
	}
	return s.create(ctx, userID, models.QuoteKindMerchant, fx.INR, fx.XLM, inrAmount, expirySeconds)
}

func (s *QuoteService) create(ctx context.Context, userID uuid.UUID, kind, from, to string, amount decimal.Decimal, expirySeconds int) (*QuoteView, error) {
	expiry, err := s.expiry(expirySeconds)
	if err != nil {
		return nil, err
	}
	quote, err := s.engine.GenerateQuote(from, to, amount, expiry)
	if err != nil {
		return nil, err
	}

	lock := &models.QuoteLock{
		UserID:       userID,
		Kind:         kind,
		FromCurrency: quote.FromCurrency,
		ToCurrency:   quote.ToCurrency,
		SourceAmount: quote.SourceAmount,
		TargetAmount: quote.TargetAmount,
		Rate:         quote.Rate,
		ExpiresAt:    quote.ExpiresAt,
	}
	if err := s.quotes.Create(ctx, lock); err != nil {
		return nil, apperr.Persistence("Failed to lock quote", err)
	}
	s.log.Debug("quote locked",
		zap.String("quote_id", lock.ID.String()),
		zap.String("kind", kind),
		zap.String("pair", from+"/"+to),
		zap.String("rate", lock.Rate.String()),
	)
	return s.view(lock), nil
}

// Get returns the caller's quote with its remaining lifetime.
func (s *QuoteService) Get(ctx context.Context, userID, quoteID uuid.UUID) (*QuoteView, error) {
	if quoteID == uuid.Nil {
		return nil, apperr.Validation("Quote ID required")
	}
	q, err := s.quotes.GetForUser(ctx, quoteID, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperr.NotFound("Quote not found")
	}
	if err != nil {
		return nil, apperr.Persistence("Failed to load quote", err)
	}
	return s.view(q), nil
}

// Consume atomically marks the quote used. Exactly one caller wins; the
// rest learn whether the quote was missing, used or expired.
func (s *QuoteService) Consume(ctx context.Context, userID, quoteID uuid.UUID, kind string) (*models.QuoteLock, error) {
	now := s.now()
	q, err := s.quotes.Consume(ctx, quoteID, userID, kind, now)
	if err == nil {
		s.metrics.QuoteConsumption("ok")
		return q, nil
	}
	if !errors.Is(err, repositories.ErrConflict) {
		s.metrics.QuoteConsumption("error")
		return nil, apperr.Persistence("Failed to consume quote", err)
	}

	current, getErr := s.quotes.GetForUser(ctx, quoteID, userID)
	switch {
	case errors.Is(getErr, repositories.ErrNotFound), getErr == nil && current.Kind != kind:
		s.metrics.QuoteConsumption("not_found")
		return nil, apperr.NotFound("Quote not found")
	case getErr != nil:
		s.metrics.QuoteConsumption("error")
		return nil, apperr.Persistence("Failed to load quote", getErr)
	case current.Used:
		s.metrics.QuoteConsumption("used")
		return nil, apperr.InvalidState("Quote already used")
	default:
		s.metrics.QuoteConsumption("expired")
		return nil, apperr.InvalidState("Quote expired. Please generate a new quote.")
	}
}

func (s *QuoteService) Currencies() []fx.Currency {
	return fx.SupportedCurrencies()
}
