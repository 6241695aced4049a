// Package cache keeps recently read payment records in Redis in front of the
// payment repository.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"moneyfusion/internal/domain"
	"moneyfusion/internal/repository/payments_repo"
)

const keyPrefix = "moneyfusion:payment:"

// storeIfNewer writes the payment hash unless the cached copy already carries
// the same or a later version. KEYS[1] key, ARGV[1] version, ARGV[2] payload,
// ARGV[3] ttl in milliseconds (0 keeps no expiry).
var storeIfNewer = redis.NewScript(`
local cached = redis.call('HGET', KEYS[1], 'version')
if cached and tonumber(cached) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// PaymentRepository is a read-through cache over another repository. Redis
// failures are logged and the call falls through to the inner repository.
// Writes are ordered by Payment.Version so a slow read-miss fill never
// replaces a newer record stored by CompareAndSwap.
type PaymentRepository struct {
	inner  payments_repo.PaymentRepository
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewPaymentRepository(inner payments_repo.PaymentRepository, client *redis.Client, ttl time.Duration, logger *zap.Logger) *PaymentRepository {
	return &PaymentRepository{inner: inner, redis: client, ttl: ttl, logger: logger}
}

func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	if err := r.inner.Create(ctx, payment); err != nil {
		return err
	}
	r.store(ctx, payment)
	return nil
}

func (r *PaymentRepository) GetByToken(ctx context.Context, token string) (*domain.Payment, error) {
	data, err := r.redis.HGet(ctx, key(token), "data").Bytes()
	switch {
	case err == nil:
		var p domain.Payment
		if jsonErr := json.Unmarshal(data, &p); jsonErr == nil {
			return &p, nil
		}
		r.logger.Warn("Dropping undecodable cached payment", zap.String("token", token))
		r.evict(ctx, token)
	case !errors.Is(err, redis.Nil):
		r.logger.Warn("Redis read failed", zap.String("token", token), zap.Error(err))
	}

	p, err := r.inner.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	r.store(ctx, p)
	return p, nil
}

func (r *PaymentRepository) List(ctx context.Context, filter domain.PaymentFilter) ([]*domain.Payment, error) {
	return r.inner.List(ctx, filter)
}

func (r *PaymentRepository) CompareAndSwap(ctx context.Context, next *domain.Payment, expectedStatus domain.PaymentStatus, expectedVersion int64, msg *domain.OutboxMessage) error {
	if err := r.inner.CompareAndSwap(ctx, next, expectedStatus, expectedVersion, msg); err != nil {
		// The caller re-reads after a lost race; the cached copy is stale.
		r.evict(ctx, next.Token)
		return err
	}
	r.store(ctx, next)
	return nil
}

func (r *PaymentRepository) store(ctx context.Context, p *domain.Payment) {
	data, err := json.Marshal(p)
	if err != nil {
		r.logger.Warn("Failed to encode payment for cache", zap.String("token", p.Token), zap.Error(err))
		return
	}
	args := []any{p.Version, data, r.ttl.Milliseconds()}
	if err := storeIfNewer.Run(ctx, r.redis, []string{key(p.Token)}, args...).Err(); err != nil {
		r.logger.Warn("Redis write failed", zap.String("token", p.Token), zap.Error(err))
	}
}

func (r *PaymentRepository) evict(ctx context.Context, token string) {
	if err := r.redis.Del(ctx, key(token)).Err(); err != nil {
		r.logger.Warn("Redis delete failed", zap.String("token", token), zap.Error(err))
	}
}

func key(token string) string {
	return keyPrefix + token
}
