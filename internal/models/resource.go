package models

import "time"

// AccessLevel - возможность, которую даёт эфемерный токен.
type AccessLevel string

const (
	AccessRead  AccessLevel = "read"
	AccessWrite AccessLevel = "write"
)

// Valid сообщает, известен ли уровень доступа.
func (l AccessLevel) Valid() bool {
	return l == AccessRead || l == AccessWrite
}

// Resource - карта пациента в части, нужной выдаче эфемерных токенов.
// На ресурсе хранится не сам токен, а его хэш (TokenHash).
type Resource struct {
	ID             int64
	TokenHash      string
	TokenExpiresAt *time.Time
	TokenAccess    AccessLevel
	TokenIssuer    string
}

// EphemeralResourceToken - короткоживущий токен доступа к одному ресурсу.
// TokenID отдаётся вызывающему один раз (для QR-кода) и нигде не хранится в открытом виде.
type EphemeralResourceToken struct {
	ResourceID int64
	TokenID    string
	ExpiresAt  time.Time
	Access     AccessLevel
	Issuer     string
}

// Redemption - результат предъявления эфемерного токена.
type Redemption struct {
	ResourceID int64
	Access     AccessLevel
	ExpiresAt  time.Time
}
