package revocation

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached - декоратор, запоминающий положительные ответы внутреннего реестра
// в локальном LRU. Кэшируется только факт отзыва: отзыв необратим, поэтому
// закэшированный ответ не может устареть. Отрицательные ответы всегда
// уходят во внутренний реестр.
type Cached struct {
	next  Registry
	cache *lru.Cache[string, time.Time]
}

// NewCached оборачивает next кэшем на size записей.
func NewCached(next Registry, size int) (*Cached, error) {
	if size <= 0 {
		size = 10000
	}

	c, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, err
	}

	return &Cached{next: next, cache: c}, nil
}

// Revoke пишет во внутренний реестр и только после успеха - в кэш.
func (c *Cached) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if err := c.next.Revoke(ctx, jti, expiresAt); err != nil {
		return err
	}

	c.cache.Add(jti, expiresAt)
	return nil
}

func (c *Cached) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if _, ok := c.cache.Get(jti); ok {
		return true, nil
	}

	revoked, err := c.next.IsRevoked(ctx, jti)
	if err != nil {
		return false, err
	}

	if revoked {
		// срок неизвестен: запись покинет кэш только при вытеснении LRU.
		c.cache.Add(jti, time.Time{})
	}

	return revoked, nil
}

// Purge чистит внутренний реестр и кэш.
func (c *Cached) Purge(ctx context.Context, now time.Time) (int, error) {
	for _, jti := range c.cache.Keys() {
		if exp, ok := c.cache.Peek(jti); ok && !exp.IsZero() && !exp.After(now) {
			c.cache.Remove(jti)
		}
	}

	return c.next.Purge(ctx, now)
}
