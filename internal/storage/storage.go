// storage описывает контракты внешних хранилищ, которыми пользуется ядро:
// учётные записи, ресурсы (карты пациентов) и журнал доступа.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pribylovaa/clinic-auth/internal/models"
)

//go:generate mockgen -destination=../../mocks/mock_storage.go -package=mocks github.com/pribylovaa/clinic-auth/internal/storage UserStore,ResourceStore,AuditSink

var (
	// ErrNotFound - запись не найдена (учётная запись/ресурс).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists - нарушение уникальности (идентификатор учётной записи).
	ErrAlreadyExists = errors.New("already exists")
	// ErrUnavailable - временная недоступность хранилища (сеть, таймаут, пул).
	ErrUnavailable = errors.New("storage unavailable")
)

// AccountMutation - изменение учётной записи внутри атомарного обновления.
// Возврат ошибки отменяет изменение.
type AccountMutation func(acc *models.Account) error

// UserStore выполняет операции над учётными записями.
type UserStore interface {
	// FindByIdentifier находит учётную запись по нормализованному идентификатору.
	FindByIdentifier(ctx context.Context, identifier string) (*models.Account, error)
	// Save сохраняет auth-поля учётной записи (hash, счётчики, блокировку).
	Save(ctx context.Context, acc *models.Account) error
	// UpdateAuthState читает запись под блокировкой, применяет fn и сохраняет результат
	// одной транзакцией. Два параллельных вызова для одной записи сериализуются.
	// Возвращает итоговое состояние записи.
	UpdateAuthState(ctx context.Context, identifier string, fn AccountMutation) (*models.Account, error)
}

// ResourceStore выполняет операции над ресурсами, к которым выдаются эфемерные токены.
type ResourceStore interface {
	// Find находит ресурс по ID.
	Find(ctx context.Context, id int64) (*models.Resource, error)
	// FindByTokenHash находит ресурс, на котором сохранён указанный хэш токена.
	FindByTokenHash(ctx context.Context, hash string) (*models.Resource, error)
	// SetToken сохраняет хэш токена на ресурсе, перезаписывая предыдущий.
	SetToken(ctx context.Context, id int64, hash string, expiresAt time.Time, access models.AccessLevel, issuer string) error
	// ClearToken удаляет токен с ресурса.
	ClearToken(ctx context.Context, id int64) error
}

// AuditSink - приёмник записей журнала доступа (только добавление).
type AuditSink interface {
	Append(ctx context.Context, rec *models.AuditRecord) error
}
