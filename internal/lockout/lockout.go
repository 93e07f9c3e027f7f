// lockout ограничивает подбор пароля: после Threshold неудачных попыток подряд
// учётная запись блокируется на Duration.
//
// Состояния: Active и Locked. Разблокировка неявная: запись с LockedUntil
// в прошлом считается активной, отдельного перехода не хранится.
// Изменения счётчика выполняются через storage.UserStore.UpdateAuthState и
// поэтому атомарны в пределах одной учётной записи.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pribylovaa/clinic-auth/internal/config"
	"github.com/pribylovaa/clinic-auth/internal/models"
	"github.com/pribylovaa/clinic-auth/internal/storage"
)

// Значения по умолчанию.
const (
	DefaultThreshold = 5
	DefaultDuration  = 30 * time.Minute
)

// ErrLocked - учётная запись заблокирована; *LockedError сопоставляется с ней через errors.Is.
var ErrLocked = errors.New("account locked")

// LockedError несёт момент разблокировки.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return "account locked until " + e.Until.UTC().Format(time.RFC3339)
}

func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// Status - производное состояние блокировки учётной записи.
type Status struct {
	Locked   bool
	Until    time.Time
	Failures int

	// Transitioned - блокировку поставила именно эта попытка.
	Transitioned bool
}

// Guard - автомат блокировки. Безопасен для конкурентного использования.
type Guard struct {
	store     storage.UserStore
	threshold int
	duration  time.Duration
	now       func() time.Time
}

// Option настраивает Guard.
type Option func(*Guard)

// WithClock подменяет источник времени (для тестов).
func WithClock(fn func() time.Time) Option {
	return func(g *Guard) {
		if fn != nil {
			g.now = fn
		}
	}
}

// New создаёт Guard. Неположительные значения конфигурации заменяются значениями по умолчанию.
func New(store storage.UserStore, cfg config.LockoutConfig, opts ...Option) *Guard {
	g := &Guard{
		store:     store,
		threshold: cfg.Threshold,
		duration:  cfg.Duration,
		now:       time.Now,
	}

	if g.threshold <= 0 {
		g.threshold = DefaultThreshold
	}
	if g.duration <= 0 {
		g.duration = DefaultDuration
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Check вычисляет состояние по сохранённым полям и текущему времени.
// Вызывается до проверки пароля.
func (g *Guard) Check(acc *models.Account) Status {
	return g.status(acc, g.now())
}

// RecordFailure учитывает неудачную попытку.
//
// Переходы:
//   - Locked: попытка отвергается с *LockedError, счётчик не меняется
//     (запись могла заблокироваться параллельной попыткой после Check);
//   - блокировка истекла: отсчёт начинается заново с 1;
//   - Active: счётчик +1; при достижении порога ставится LockedUntil = now + Duration,
//     счётчик остаётся равным порогу, Status.Transitioned = true.
func (g *Guard) RecordFailure(ctx context.Context, identifier string) (Status, error) {
	const op = "lockout.RecordFailure"

	now := g.now()
	acc, err := g.store.UpdateAuthState(ctx, identifier, func(a *models.Account) error {
		if st := g.status(a, now); st.Locked {
			return &LockedError{Until: st.Until}
		}

		if a.LockedUntil != nil {
			a.FailedAttempts = 0
			a.LockedUntil = nil
		}

		a.FailedAttempts++
		if a.FailedAttempts >= g.threshold {
			a.FailedAttempts = g.threshold
			until := now.Add(g.duration).UTC()
			a.LockedUntil = &until
		}

		return nil
	})
	if err != nil {
		return Status{}, fmt.Errorf("%s: %w", op, err)
	}

	st := g.status(acc, now)
	st.Transitioned = st.Locked

	return st, nil
}

// RecordSuccess сбрасывает счётчик в 0 и обновляет LastSuccessAt.
// Если запись успела заблокироваться параллельной неудачной попыткой,
// возвращает *LockedError и ничего не меняет.
func (g *Guard) RecordSuccess(ctx context.Context, identifier string) (*models.Account, error) {
	const op = "lockout.RecordSuccess"

	now := g.now()
	acc, err := g.store.UpdateAuthState(ctx, identifier, func(a *models.Account) error {
		if st := g.status(a, now); st.Locked {
			return &LockedError{Until: st.Until}
		}

		ts := now.UTC()
		a.FailedAttempts = 0
		a.LockedUntil = nil
		a.LastSuccessAt = &ts

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return acc, nil
}

// Threshold возвращает порог блокировки.
func (g *Guard) Threshold() int { return g.threshold }

func (g *Guard) status(acc *models.Account, now time.Time) Status {
	st := Status{Failures: acc.FailedAttempts}
	if acc.LockedUntil != nil && now.Before(*acc.LockedUntil) {
		st.Locked = true
		st.Until = *acc.LockedUntil
	}

	return st
}
