// ephemeral выпускает короткоживущие токены доступа к одному ресурсу
// (карте пациента), которые предъявляются без учётных данных.
//
// Токен - 32 случайных байта в base64url. На ресурсе хранится только
// SHA-256 от токена; открытое значение отдаётся вызывающему один раз.
// На ресурсе живёт не более одного токена: повторная выдача перезаписывает предыдущий.
package ephemeral

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pribylovaa/clinic-auth/internal/config"
	"github.com/pribylovaa/clinic-auth/internal/models"
	"github.com/pribylovaa/clinic-auth/internal/storage"
)

const tokenBytes = 32

// Значения по умолчанию.
const (
	DefaultTTL = 60 * time.Minute
	DefaultMax = 24 * time.Hour
)

var (
	ErrExpired       = errors.New("resource token expired")
	ErrNotFound      = errors.New("resource token not found")
	ErrInvalidAccess = errors.New("invalid access level")
	ErrInvalidTTL    = errors.New("resource token ttl exceeds maximum")
)

// Issuer выпускает, проверяет и отзывает эфемерные токены.
type Issuer struct {
	store      storage.ResourceStore
	defaultTTL time.Duration
	maxTTL     time.Duration
	now        func() time.Time
	random     io.Reader
}

// Option настраивает Issuer.
type Option func(*Issuer)

// WithClock подменяет источник времени (для тестов).
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// WithRandom подменяет источник случайности (для тестов).
func WithRandom(r io.Reader) Option {
	return func(i *Issuer) {
		if r != nil {
			i.random = r
		}
	}
}

func New(store storage.ResourceStore, cfg config.ResourceTokenConfig, opts ...Option) *Issuer {
	i := &Issuer{
		store:      store,
		defaultTTL: cfg.DefaultTTL,
		maxTTL:     cfg.MaxTTL,
		now:        time.Now,
		random:     rand.Reader,
	}

	if i.defaultTTL <= 0 {
		i.defaultTTL = DefaultTTL
	}
	if i.maxTTL <= 0 {
		i.maxTTL = DefaultMax
	}
	if i.defaultTTL > i.maxTTL {
		i.defaultTTL = i.maxTTL
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Issue выпускает токен для ресурса. ttl <= 0 означает DefaultTTL из конфигурации.
// Права вызывающего проверяются до вызова Issue.
func (i *Issuer) Issue(ctx context.Context, resourceID int64, access models.AccessLevel, ttl time.Duration, issuer string) (*models.EphemeralResourceToken, error) {
	const op = "ephemeral.Issue"

	if !access.Valid() {
		return nil, fmt.Errorf("%s: %q: %w", op, access, ErrInvalidAccess)
	}

	if ttl <= 0 {
		ttl = i.defaultTTL
	}
	if ttl > i.maxTTL {
		return nil, fmt.Errorf("%s: %s > %s: %w", op, ttl, i.maxTTL, ErrInvalidTTL)
	}

	raw := make([]byte, tokenBytes)
	if _, err := io.ReadFull(i.random, raw); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tokenID := base64.RawURLEncoding.EncodeToString(raw)

	expiresAt := i.now().Add(ttl).UTC()
	if err := i.store.SetToken(ctx, resourceID, Hash(tokenID), expiresAt, access, issuer); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.EphemeralResourceToken{
		ResourceID: resourceID,
		TokenID:    tokenID,
		ExpiresAt:  expiresAt,
		Access:     access,
		Issuer:     issuer,
	}, nil
}

// Redeem находит ресурс по токену и проверяет срок.
// Токен действителен, пока now <= ExpiresAt.
func (i *Issuer) Redeem(ctx context.Context, tokenID string) (*models.Redemption, error) {
	const op = "ephemeral.Redeem"

	if tokenID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	res, err := i.store.FindByTokenHash(ctx, Hash(tokenID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if res.TokenExpiresAt == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	if i.now().After(*res.TokenExpiresAt) {
		return nil, fmt.Errorf("%s: %w", op, ErrExpired)
	}

	return &models.Redemption{
		ResourceID: res.ID,
		Access:     res.TokenAccess,
		ExpiresAt:  *res.TokenExpiresAt,
	}, nil
}

// Invalidate досрочно удаляет токен ресурса. Повторный вызов не является ошибкой.
func (i *Issuer) Invalidate(ctx context.Context, resourceID int64) error {
	const op = "ephemeral.Invalidate"

	if err := i.store.ClearToken(ctx, resourceID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Hash возвращает base64url(SHA-256(tokenID)) - значение, хранимое на ресурсе.
func Hash(tokenID string) string {
	sum := sha256.Sum256([]byte(tokenID))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
