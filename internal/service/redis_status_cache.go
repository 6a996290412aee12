package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-ledger/internal/logger"
)

// RedisStatusCache кэш статусов в Redis, общий для нескольких инстансов.
// Ошибки Redis не мешают работе: промах кэша ведёт к выводу статуса из леджера.
type RedisStatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStatusCache(client *redis.Client, ttl time.Duration) *RedisStatusCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisStatusCache{client: client, ttl: ttl}
}

var _ StatusCache = (*RedisStatusCache)(nil)

func (c *RedisStatusCache) Get(ctx context.Context, paymentID uuid.UUID) (valueobject.PaymentStatus, bool) {
	raw, err := c.client.Get(ctx, StatusCacheKey(paymentID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logCacheError("get", paymentID, err)
		}
		return "", false
	}

	status, err := valueobject.NewPaymentStatus(raw)
	if err != nil {
		return "", false
	}
	return status, true
}

func (c *RedisStatusCache) Set(ctx context.Context, paymentID uuid.UUID, status valueobject.PaymentStatus) {
	if err := c.client.Set(ctx, StatusCacheKey(paymentID), status.String(), c.ttl).Err(); err != nil {
		logCacheError("set", paymentID, err)
	}
}

func (c *RedisStatusCache) Invalidate(ctx context.Context, paymentID uuid.UUID) {
	if err := c.client.Del(ctx, StatusCacheKey(paymentID)).Err(); err != nil {
		logCacheError("invalidate", paymentID, err)
	}
}

func logCacheError(op string, paymentID uuid.UUID, err error) {
	if logger.Log == nil {
		return
	}
	logger.Log.WithFields(logrus.Fields{
		"op":         op,
		"payment_id": paymentID,
		"error":      err.Error(),
	}).Warn("status cache error")
}
