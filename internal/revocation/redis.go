package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// minRedisTTL - минимальный TTL ключа: токен с истёкшим сроком всё равно
// ненадолго попадает в реестр, чтобы не зависеть от расхождения часов.
const minRedisTTL = time.Minute

// Redis - реестр поверх Redis, общий для всех экземпляров сервиса.
// Записи удаляются самим Redis по TTL, равному остатку срока токена.
type Redis struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedis создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой - используется "auth:revoked:".
func NewRedis(ctx context.Context, redisURL, prefix string) (*Redis, error) {
	const op = "revocation.NewRedis"

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return NewRedisFromClient(rdb, prefix), nil
}

// NewRedisFromClient оборачивает готовый клиент.
func NewRedisFromClient(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "auth:revoked:"
	}

	return &Redis{rdb: rdb, prefix: prefix, now: time.Now}
}

func (r *Redis) key(jti string) string { return r.prefix + jti }

// Revoke записывает ключ с TTL до исходного срока токена. Повторная запись
// продлевает TTL только в большую сторону (GT).
func (r *Redis) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	const op = "revocation.Redis.Revoke"

	ttl := expiresAt.Sub(r.now())
	if ttl < minRedisTTL {
		ttl = minRedisTTL
	}

	pipe := r.rdb.TxPipeline()
	pipe.SetNX(ctx, r.key(jti), expiresAt.Unix(), ttl)
	pipe.ExpireGT(ctx, r.key(jti), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *Redis) IsRevoked(ctx context.Context, jti string) (bool, error) {
	const op = "revocation.Redis.IsRevoked"

	err := r.rdb.Get(ctx, r.key(jti)).Err()
	if err == nil {
		return true, nil
	}

	if errors.Is(err, redis.Nil) {
		return false, nil
	}

	return false, fmt.Errorf("%s: %w", op, err)
}

// Purge - no-op: истёкшие ключи удаляет Redis.
func (r *Redis) Purge(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Close закрывает клиент Redis.
func (r *Redis) Close() error { return r.rdb.Close() }
