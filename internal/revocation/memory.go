package revocation

import (
	"context"
	"sync"
	"time"
)

// Memory - реестр в памяти процесса. Подходит для одного экземпляра сервиса.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewMemory создаёт пустой реестр.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]time.Time)}
}

// Revoke добавляет jti. Повторный отзыв сохраняет наибольший из сроков.
func (m *Memory) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.entries[jti]; ok && cur.After(expiresAt) {
		return nil
	}
	m.entries[jti] = expiresAt

	return nil
}

func (m *Memory) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.entries[jti]
	return ok, nil
}

func (m *Memory) Purge(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for jti, exp := range m.entries {
		if !exp.After(now) {
			delete(m.entries, jti)
			n++
		}
	}

	return n, nil
}

// Len возвращает число записей.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}
