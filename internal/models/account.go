package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role - роль пользователя из фиксированного закрытого набора.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RoleNurse        Role = "nurse"
	RoleReceptionist Role = "receptionist"
)

// Valid сообщает, входит ли роль в закрытый набор.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RoleNurse, RoleReceptionist:
		return true
	}

	return false
}

// Account - учётная запись пользователя в части, нужной подсистеме аутентификации.
// Регистрация и деактивация выполняются внешним потоком; ядро читает запись
// и меняет только FailedAttempts, LockedUntil, LastSuccessAt и PasswordHash.
type Account struct {
	ID             uuid.UUID
	Identifier     string // e-mail, нормализованный к нижнему регистру
	PasswordHash   string
	Role           Role
	Active         bool
	FailedAttempts int
	LockedUntil    *time.Time
	LastSuccessAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NormalizeIdentifier приводит идентификатор к каноническому виду.
func NormalizeIdentifier(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
