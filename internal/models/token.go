package models

import "time"

// TokenKind - вид подписанного токена.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Claims - проверенное содержимое access/refresh-токена.
type Claims struct {
	Subject   string
	Kind      TokenKind
	ID        string // jti
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair - пара токенов, выдаваемая при аутентификации.
//
// Описание:
//   - AccessToken - короткоживущий JWT для доступа к API;
//   - RefreshToken - долгоживущий JWT, подписанный отдельным секретом,
//     для выпуска новых access-токенов;
//   - AccessExpiresAt/RefreshExpiresAt - моменты истечения (UTC).
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
