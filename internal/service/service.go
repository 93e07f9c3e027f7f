// service - операции подсистемы аутентификации и контроля доступа:
// вход, обновление и отзыв токенов, ролевая проверка перед вызовом операции,
// смена пароля и эфемерные токены доступа к карте пациента.
//
// Основные аспекты:
//   - Service не хранит состояние запроса и безопасен для конкурентного
//     использования, если безопасны переданные хранилища и реестр;
//   - Ошибки возвращаются из набора ниже и не раскрывают, какая именно проверка
//     не прошла: неверный пароль и неизвестная учётная запись дают
//     ErrInvalidCredentials, любая проблема с токеном даёт ErrInvalidToken;
//   - Каждое обращение к внешнему хранилищу ограничено таймаутом Store;
//     таймаут считается временным сбоем (ErrStoreUnavailable), а не решением безопасности;
//   - После начала проверки пароля изменение счётчика и запись в журнал
//     выполняются в контексте, отвязанном от отмены запроса.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pribylovaa/clinic-auth/internal/authz"
	"github.com/pribylovaa/clinic-auth/internal/config"
	"github.com/pribylovaa/clinic-auth/internal/credentials"
	"github.com/pribylovaa/clinic-auth/internal/ephemeral"
	"github.com/pribylovaa/clinic-auth/internal/lockout"
	"github.com/pribylovaa/clinic-auth/internal/metrics"
	"github.com/pribylovaa/clinic-auth/internal/models"
	"github.com/pribylovaa/clinic-auth/internal/revocation"
	"github.com/pribylovaa/clinic-auth/internal/storage"
	"github.com/pribylovaa/clinic-auth/internal/tokens"
)

var (
	// ErrInvalidCredentials - учётная запись не найдена, пароль неверен или запись неактивна.
	// Транспорт: HTTP 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken - подпись, срок, вид токена или отзыв. Транспорт: HTTP 401.
	ErrInvalidToken = tokens.ErrInvalidToken

	// ErrAccountLocked - учётная запись заблокирована; конкретная ошибка - *LockedError.
	// Транспорт: HTTP 423.
	ErrAccountLocked = lockout.ErrLocked

	// ErrForbidden - токен действителен, но роли недостаточно. Транспорт: HTTP 403.
	ErrForbidden = authz.ErrForbidden

	// ErrResourceTokenExpired - срок эфемерного токена истёк. Транспорт: HTTP 410.
	ErrResourceTokenExpired = ephemeral.ErrExpired

	// ErrResourceTokenNotFound - эфемерный токен неизвестен или заменён. Транспорт: HTTP 404.
	ErrResourceTokenNotFound = ephemeral.ErrNotFound

	// ErrPolicyViolation - новый пароль не прошёл политику; конкретная ошибка -
	// *credentials.PolicyViolation с первым нарушенным правилом. Транспорт: HTTP 400.
	ErrPolicyViolation = credentials.ErrPolicyViolation

	// ErrResourceNotFound - карта пациента не найдена. Транспорт: HTTP 404.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrInvalidArgument - некорректный уровень доступа или ttl. Транспорт: HTTP 400.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStoreUnavailable - временный сбой хранилища или реестра. Транспорт: HTTP 503.
	ErrStoreUnavailable = storage.ErrUnavailable
)

// LockedError несёт момент разблокировки учётной записи.
type LockedError = lockout.LockedError

// anonymousActor - актор в журнале для операций без учётных данных.
const anonymousActor = "anonymous"

// Auditor принимает записи журнала доступа. Record не блокирует и не возвращает ошибок.
type Auditor interface {
	Record(ctx context.Context, rec models.AuditRecord)
}

// Deps - зависимости Service. Audit и Metrics необязательны.
type Deps struct {
	Users       storage.UserStore
	Resources   storage.ResourceStore
	Credentials *credentials.Manager
	Tokens      *tokens.Service
	Registry    revocation.Registry
	Lockout     *lockout.Guard
	Ephemeral   *ephemeral.Issuer
	Audit       Auditor
	Metrics     *metrics.Metrics
}

// Service описывает операции подсистемы аутентификации.
type Service struct {
	users     storage.UserStore
	resources storage.ResourceStore
	creds     *credentials.Manager
	tokens    *tokens.Service
	registry  revocation.Registry
	guard     *lockout.Guard
	ephemeral *ephemeral.Issuer
	audit     Auditor
	metrics   *metrics.Metrics

	storeTimeout time.Duration
}

// New создаёт новый экземпляр Service.
func New(d Deps, cfg config.TimeoutConfig) *Service {
	s := &Service{
		users:        d.Users,
		resources:    d.Resources,
		creds:        d.Credentials,
		tokens:       d.Tokens,
		registry:     d.Registry,
		guard:        d.Lockout,
		ephemeral:    d.Ephemeral,
		audit:        d.Audit,
		metrics:      d.Metrics,
		storeTimeout: cfg.Store,
	}

	if s.audit == nil {
		s.audit = nopAuditor{}
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = 2 * time.Second
	}

	return s
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, models.AuditRecord) {}

// lookupCtx ограничивает одно обращение к хранилищу и наследует отмену запроса.
func (s *Service) lookupCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// commitCtx ограничивает изменение состояния, но не наследует отмену запроса:
// начатое изменение и его запись в журнал доводятся до конца.
func (s *Service) commitCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
}

// record пишет событие в журнал и учитывает его в метриках.
func (s *Service) record(ctx context.Context, actor string, resourceID *int64, action string, outcome models.Outcome) {
	s.audit.Record(ctx, models.AuditRecord{
		ActorID:    actor,
		ResourceID: resourceID,
		Action:     action,
		Outcome:    outcome,
	})
	s.metrics.Outcome(action, string(outcome))
}

// unavailable приводит ошибку хранилища к ErrStoreUnavailable, сохраняя исходную.
func unavailable(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// outcomeOf выбирает исход для журнала по ошибке операции.
func outcomeOf(err error) models.Outcome {
	switch {
	case err == nil:
		return models.OutcomeSuccess
	case errors.Is(err, ErrAccountLocked):
		return models.OutcomeLocked
	case errors.Is(err, ErrForbidden):
		return models.OutcomeForbidden
	case errors.Is(err, ErrStoreUnavailable):
		return models.OutcomeError
	default:
		return models.OutcomeFailure
	}
}
