package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Fence is a short-lived guard against the same payment being submitted twice.
type Fence interface {
	// Acquire returns false when the key is already held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type RedisFence struct {
	rdb *redis.Client
}

func NewRedisFence(rdb *redis.Client) *RedisFence {
	return &RedisFence{rdb: rdb}
}

func (f *RedisFence) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return f.rdb.SetNX(ctx, key, "1", ttl).Result()
}

func (f *RedisFence) Release(ctx context.Context, key string) error {
	return f.rdb.Del(ctx, key).Err()
}

func paymentFenceKey(senderID uuid.UUID, recipientAddr string, amount decimal.Decimal, currency string) string {
	return fmt.Sprintf("pay:%s:%s:%s:%s", senderID, recipientAddr, amount.String(), currency)
}
