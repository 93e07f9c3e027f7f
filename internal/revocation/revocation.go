// revocation хранит идентификаторы (jti) отозванных токенов.
//
// Инвариант: jti, однажды попавший в реестр, больше никогда не принимается.
// Запись может быть удалена только после исходного срока токена: такой токен
// уже отвергается проверкой срока, поэтому очистка - оптимизация, а не часть
// корректности.
package revocation

import (
	"context"
	"log/slog"
	"time"
)

//go:generate mockgen -destination=../../mocks/mock_registry.go -package=mocks github.com/pribylovaa/clinic-auth/internal/revocation Registry

// Registry - реестр отозванных jti. Реализации безопасны для конкурентного
// использования; отзыв виден всем последующим проверкам.
type Registry interface {
	// Revoke добавляет jti с исходным сроком токена. Идемпотентен.
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	// IsRevoked сообщает, отозван ли jti.
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// Purge удаляет записи, срок которых истёк к моменту now, и возвращает их число.
	Purge(ctx context.Context, now time.Time) (int, error)
}

// StartJanitor запускает фоновую очистку реестра с периодом period.
// Останавливается при отмене ctx.
func StartJanitor(ctx context.Context, reg Registry, log *slog.Logger, period time.Duration) {
	if period <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := reg.Purge(ctx, time.Now().UTC())
				if err != nil {
					log.Error("revocation_janitor_failed", slog.String("err", err.Error()))
					continue
				}

				if n > 0 {
					log.Debug("revocation_purged", slog.Int("count", n))
				}
			}
		}
	}()
}
