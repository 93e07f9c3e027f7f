package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pribylovaa/clinic-auth/internal/authz"
	"github.com/pribylovaa/clinic-auth/internal/ephemeral"
	"github.com/pribylovaa/clinic-auth/internal/models"
	"github.com/pribylovaa/clinic-auth/internal/pkg/log"
	"github.com/pribylovaa/clinic-auth/internal/storage"
)

// Operation - защищённое действие. Вызывается только после успешной проверки роли.
type Operation func(ctx context.Context, caller *models.Claims) error

type callOptions struct {
	action     string
	resourceID *int64
}

// CallOption настраивает запись AuthorizeAndCall в журнале доступа.
type CallOption func(*callOptions)

// ForAction задаёт действие в журнале (обычно имя операции authz.Op*).
// По умолчанию - models.ActionAuthorize.
func ForAction(action string) CallOption {
	return func(o *callOptions) {
		if action != "" {
			o.action = action
		}
	}
}

// ForResource привязывает запись журнала к карте пациента.
func ForResource(id int64) CallOption {
	return func(o *callOptions) {
		o.resourceID = &id
	}
}

// AuthorizeAndCall проверяет access-токен, затем роль вызывающего против required,
// и только после этого вызывает call. Ошибка call возвращается без изменений.
// Итог вызова (успех или ошибка call) пишется в журнал так же, как отказ.
func (s *Service) AuthorizeAndCall(ctx context.Context, accessToken string, required authz.RoleSet, call Operation, opts ...CallOption) error {
	const op = "service.access.AuthorizeAndCall"

	o := callOptions{action: models.ActionAuthorize}
	for _, opt := range opts {
		opt(&o)
	}

	claims, err := s.authorize(ctx, accessToken, required, o.action, o.resourceID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = call(ctx, claims)
	s.record(ctx, claims.Subject, o.resourceID, o.action, outcomeOf(err))

	return err
}

// FindResource возвращает карту пациента в части эфемерного токена.
// Права проверяются вызывающим (см. AuthorizeAndCall).
func (s *Service) FindResource(ctx context.Context, id int64) (*models.Resource, error) {
	const op = "service.access.FindResource"

	lctx, cancel := s.lookupCtx(ctx)
	defer cancel()

	res, err := s.resources.Find(lctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrResourceNotFound)
		}

		return nil, unavailable(op, err)
	}

	return res, nil
}

// IssueResourceToken выпускает эфемерный токен к карте пациента.
// Требуется роль из authz.OpResourceTokenIssue. ttl <= 0 - значение по умолчанию.
func (s *Service) IssueResourceToken(ctx context.Context, actorToken string, resourceID int64, access models.AccessLevel, ttl time.Duration) (*models.EphemeralResourceToken, error) {
	const op = "service.access.IssueResourceToken"

	rid := resourceID
	claims, err := s.authorize(ctx, actorToken, authz.Required(authz.OpResourceTokenIssue), models.ActionResourceTokenIssue, &rid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cctx, cancel := s.commitCtx(ctx)
	defer cancel()

	tok, err := s.ephemeral.Issue(cctx, resourceID, access, ttl, claims.Subject)
	if err != nil {
		err = ephemeralErr(op, err)
		s.record(cctx, claims.Subject, &rid, models.ActionResourceTokenIssue, outcomeOf(err))
		return nil, err
	}

	log.From(ctx).Info("resource_token_issued",
		slog.String("op", op),
		slog.Int64("resource_id", resourceID),
		slog.String("access", string(access)),
		slog.Time("expires_at", tok.ExpiresAt),
	)
	s.record(cctx, claims.Subject, &rid, models.ActionResourceTokenIssue, models.OutcomeSuccess)

	return tok, nil
}

// RedeemResourceToken предъявляет эфемерный токен без учётных данных.
func (s *Service) RedeemResourceToken(ctx context.Context, tokenID string) (*models.Redemption, error) {
	const op = "service.access.RedeemResourceToken"

	lctx, cancel := s.lookupCtx(ctx)
	defer cancel()

	red, err := s.ephemeral.Redeem(lctx, tokenID)
	if err != nil {
		err = ephemeralErr(op, err)
		s.record(ctx, anonymousActor, nil, models.ActionResourceRedeem, outcomeOf(err))
		return nil, err
	}

	rid := red.ResourceID
	s.record(ctx, anonymousActor, &rid, models.ActionResourceRedeem, models.OutcomeSuccess)

	return red, nil
}

// InvalidateResourceToken досрочно отзывает эфемерный токен карты пациента.
// Требуется роль из authz.OpResourceTokenInvalidate.
func (s *Service) InvalidateResourceToken(ctx context.Context, actorToken string, resourceID int64) error {
	const op = "service.access.InvalidateResourceToken"

	rid := resourceID
	claims, err := s.authorize(ctx, actorToken, authz.Required(authz.OpResourceTokenInvalidate), models.ActionResourceTokenDrop, &rid)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	cctx, cancel := s.commitCtx(ctx)
	defer cancel()

	if err := s.ephemeral.Invalidate(cctx, resourceID); err != nil {
		err = ephemeralErr(op, err)
		s.record(cctx, claims.Subject, &rid, models.ActionResourceTokenDrop, outcomeOf(err))
		return err
	}

	s.record(cctx, claims.Subject, &rid, models.ActionResourceTokenDrop, models.OutcomeSuccess)

	return nil
}

// authorize проверяет токен и роль; отказы пишутся в журнал под action.
func (s *Service) authorize(ctx context.Context, token string, required authz.RoleSet, action string, resourceID *int64) (*models.Claims, error) {
	claims, err := s.verify(ctx, token, models.TokenAccess)
	if err != nil {
		s.record(ctx, anonymousActor, resourceID, action, outcomeOf(err))
		return nil, err
	}

	if err := authz.Authorize(claims.Role, required); err != nil {
		log.From(ctx).Warn("access_denied",
			slog.String("op", "service.access.authorize"),
			slog.String("role", string(claims.Role)),
			slog.String("required", required.String()),
			slog.String("action", action),
		)
		s.record(ctx, claims.Subject, resourceID, action, models.OutcomeForbidden)
		return nil, ErrForbidden
	}

	return claims, nil
}

// ephemeralErr приводит ошибки выпуска/предъявления к набору ошибок пакета.
func ephemeralErr(op string, err error) error {
	switch {
	case errors.Is(err, ephemeral.ErrExpired),
		errors.Is(err, ephemeral.ErrNotFound):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, ephemeral.ErrInvalidAccess),
		errors.Is(err, ephemeral.ErrInvalidTTL):
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidArgument, err)
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrResourceNotFound)
	default:
		return unavailable(op, err)
	}
}
