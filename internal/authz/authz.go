// authz - плоская ролевая модель: операция объявляет множество допустимых ролей,
// роль вызывающего должна в него входить. Иерархии ролей нет.
package authz

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/pribylovaa/clinic-auth/internal/models"
)

// ErrForbidden - роль не входит в множество допустимых.
var ErrForbidden = errors.New("forbidden")

// Операции, защищённые ролевой проверкой.
const (
	OpPatientsRead            = "patients.read"
	OpPatientsWrite           = "patients.write"
	OpResourceTokenIssue      = "resource_token.issue"
	OpResourceTokenInvalidate = "resource_token.invalidate"
)

// RoleSet - множество ролей, допущенных к операции.
type RoleSet map[models.Role]struct{}

// Roles собирает RoleSet из перечисленных ролей.
func Roles(roles ...models.Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}

	return s
}

// Has сообщает, входит ли роль в множество.
func (s RoleSet) Has(r models.Role) bool {
	_, ok := s[r]
	return ok
}

func (s RoleSet) String() string {
	names := make([]string, 0, len(s))
	for r := range s {
		names = append(names, string(r))
	}
	slices.Sort(names)

	return strings.Join(names, ",")
}

// Catalog - требования операций к ролям.
var Catalog = map[string]RoleSet{
	OpPatientsRead:            Roles(models.RoleDoctor, models.RoleNurse),
	OpPatientsWrite:           Roles(models.RoleDoctor),
	OpResourceTokenIssue:      Roles(models.RoleDoctor),
	OpResourceTokenInvalidate: Roles(models.RoleDoctor, models.RoleAdmin),
}

// Authorize возвращает nil, если роль actor входит в required.
// Пустое множество не допускает никого; неизвестная роль отклоняется всегда.
func Authorize(actor models.Role, required RoleSet) error {
	if !actor.Valid() || !required.Has(actor) {
		return fmt.Errorf("authz.Authorize: role %q not in [%s]: %w", actor, required, ErrForbidden)
	}

	return nil
}

// Required возвращает множество ролей операции из Catalog.
// Для неизвестной операции возвращается пустое множество.
func Required(operation string) RoleSet {
	if s, ok := Catalog[operation]; ok {
		return s
	}

	return RoleSet{}
}
