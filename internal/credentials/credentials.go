// credentials хэширует и проверяет пароли (bcrypt) и применяет политику
// сложности при их создании.
//
// Проверка пароля выполняется за постоянное время вне зависимости от того,
// совпал ли пароль и существует ли учётная запись: для отсутствующей записи
// вызывающий обязан выполнить VerifyDummy.
package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrPolicyViolation - базовая ошибка нарушения политики; *PolicyViolation
// сопоставляется с ней через errors.Is.
var ErrPolicyViolation = errors.New("password policy violation")

// Manager хэширует и проверяет пароли. Безопасен для конкурентного использования.
type Manager struct {
	cost   int
	policy Policy
	dummy  []byte
}

// New создаёт Manager с заданной политикой и стоимостью bcrypt.
// При создании вычисляется фиктивный хэш той же стоимости для VerifyDummy.
func New(policy Policy, cost int) (*Manager, error) {
	const op = "credentials.New"

	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	seed := make([]byte, 24)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(base64.RawURLEncoding.EncodeToString(seed)), cost)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Manager{cost: cost, policy: policy, dummy: dummy}, nil
}

// Hash возвращает bcrypt-хэш пароля (соль генерируется автоматически).
func (m *Manager) Hash(secret string) (string, error) {
	const op = "credentials.Hash"

	b, err := bcrypt.GenerateFromPassword([]byte(secret), m.cost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(b), nil
}

// Verify сравнивает пароль с хэшем. Битый хэш считается несовпадением.
func (m *Manager) Verify(secret, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)) == nil
}

// VerifyDummy выполняет сравнение с фиксированным хэшем и всегда возвращает false.
// Нужна, чтобы время ответа для несуществующей учётной записи не отличалось
// от времени ответа для неверного пароля.
func (m *Manager) VerifyDummy(secret string) bool {
	_ = bcrypt.CompareHashAndPassword(m.dummy, []byte(secret))
	return false
}

// ValidatePolicy проверяет пароль по политике и возвращает *PolicyViolation
// с первым нарушенным правилом.
func (m *Manager) ValidatePolicy(secret string) error {
	return m.policy.Validate(secret)
}
