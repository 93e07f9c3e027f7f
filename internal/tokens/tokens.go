// tokens выпускает и проверяет подписанные access/refresh-токены (JWT, HS256).
//
// Access и refresh подписываются разными секретами, а вид токена дополнительно
// записывается в claim "typ". Любая ошибка проверки (формат, подпись, алгоритм,
// вид, срок) сворачивается в единый ErrInvalidToken.
//
// Пакет не хранит состояния: проверку отзыва по jti выполняет вызывающий.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/clinic-auth/internal/config"
	"github.com/pribylovaa/clinic-auth/internal/models"
)

// ErrInvalidToken - токен не прошёл проверку. Причина намеренно не уточняется.
var ErrInvalidToken = errors.New("invalid token")

type tokenClaims struct {
	Kind string `json:"typ"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Service выпускает и проверяет токены. Безопасен для конкурентного использования.
type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	leeway        time.Duration
	now           func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени (для тестов).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New создаёт Service из конфигурации.
func New(cfg config.AuthConfig, opts ...Option) *Service {
	s := &Service{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		issuer:        cfg.Issuer,
		leeway:        cfg.Leeway,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// IssueAccess выпускает access-токен со снимком роли.
func (s *Service) IssueAccess(subject string, role models.Role) (string, *models.Claims, error) {
	return s.issue(subject, role, models.TokenAccess)
}

// IssueRefresh выпускает refresh-токен со снимком роли.
func (s *Service) IssueRefresh(subject string, role models.Role) (string, *models.Claims, error) {
	return s.issue(subject, role, models.TokenRefresh)
}

// Verify проверяет подпись, вид и срок токена и возвращает его claims.
func (s *Service) Verify(tokenStr string, expected models.TokenKind) (*models.Claims, error) {
	const op = "tokens.Verify"

	secret, _, err := s.params(expected)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	// Временные claims проверяются ниже: токен действителен, пока now <= exp.
	token, err := jwt.ParseWithClaims(tokenStr, &tokenClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, ErrInvalidToken
			}

			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	tc, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid || !s.validTimes(tc) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if s.issuer != "" && tc.Issuer != s.issuer {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if models.TokenKind(tc.Kind) != expected || tc.ID == "" || tc.Subject == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	role := models.Role(tc.Role)
	if !role.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return &models.Claims{
		Subject:   tc.Subject,
		Kind:      expected,
		ID:        tc.ID,
		Role:      role,
		IssuedAt:  tc.IssuedAt.Time.UTC(),
		ExpiresAt: tc.ExpiresAt.Time.UTC(),
	}, nil
}

// validTimes проверяет exp (обязателен, включительно), iat и nbf с учётом leeway.
func (s *Service) validTimes(tc *tokenClaims) bool {
	now := s.now()

	if tc.ExpiresAt == nil || now.After(tc.ExpiresAt.Time.Add(s.leeway)) {
		return false
	}
	if tc.IssuedAt != nil && now.Add(s.leeway).Before(tc.IssuedAt.Time) {
		return false
	}
	if tc.NotBefore != nil && now.Add(s.leeway).Before(tc.NotBefore.Time) {
		return false
	}

	return true
}

func (s *Service) issue(subject string, role models.Role, kind models.TokenKind) (string, *models.Claims, error) {
	const op = "tokens.issue"

	secret, ttl, err := s.params(kind)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}

	// JWT хранит время с точностью до секунды.
	now := s.now().UTC().Truncate(time.Second)
	claims := &models.Claims{
		Subject:   subject,
		Kind:      kind,
		ID:        uuid.NewString(),
		Role:      role,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	tc := tokenClaims{
		Kind: string(kind),
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			ID:        claims.ID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(secret)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}

	return signed, claims, nil
}

func (s *Service) params(kind models.TokenKind) ([]byte, time.Duration, error) {
	switch kind {
	case models.TokenAccess:
		return s.accessSecret, s.accessTTL, nil
	case models.TokenRefresh:
		return s.refreshSecret, s.refreshTTL, nil
	}

	return nil, 0, fmt.Errorf("unknown token kind %q", kind)
}
