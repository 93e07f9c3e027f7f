package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pribylovaa/clinic-auth/internal/lockout"
	"github.com/pribylovaa/clinic-auth/internal/models"
	"github.com/pribylovaa/clinic-auth/internal/pkg/log"
	"github.com/pribylovaa/clinic-auth/internal/pkg/redact"
	"github.com/pribylovaa/clinic-auth/internal/storage"
)

// Authenticate проверяет пару идентификатор/пароль и выпускает пару токенов.
//
// Порядок: поиск учётной записи → проверка блокировки → проверка пароля →
// изменение счётчика → выпуск токенов. Для неизвестной учётной записи
// выполняется проверка против фиктивного хэша, чтобы время ответа не выдавало
// её существование.
func (s *Service) Authenticate(ctx context.Context, identifier, secret string) (*models.TokenPair, error) {
	const op = "service.auth.Authenticate"

	lg := log.From(ctx)
	norm := models.NormalizeIdentifier(identifier)

	if norm == "" || secret == "" {
		s.creds.VerifyDummy(secret)
		s.record(ctx, anonymousActor, nil, models.ActionLogin, models.OutcomeFailure)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	lctx, cancel := s.lookupCtx(ctx)
	acc, err := s.users.FindByIdentifier(lctx, norm)
	cancel()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.creds.VerifyDummy(secret)
			lg.Info("login_failed",
				slog.String("op", op),
				slog.String("identifier", redact.Identifier(norm)),
				slog.String("reason", "unknown_account"),
			)
			s.record(ctx, norm, nil, models.ActionLogin, models.OutcomeFailure)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		lg.Error("account_lookup_failed", slog.String("op", op), slog.String("err", err.Error()))
		s.record(ctx, norm, nil, models.ActionLogin, models.OutcomeError)
		return nil, unavailable(op, err)
	}

	if st := s.guard.Check(acc); st.Locked {
		lg.Warn("login_rejected_locked",
			slog.String("op", op),
			slog.String("identifier", redact.Identifier(norm)),
			slog.Time("until", st.Until),
		)
		s.record(ctx, norm, nil, models.ActionLogin, models.OutcomeLocked)
		return nil, fmt.Errorf("%s: %w", op, &LockedError{Until: st.Until})
	}

	// Запрос отменён до проверки пароля: состояние не менялось.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ok := s.creds.Verify(secret, acc.PasswordHash)

	cctx, cancel := s.commitCtx(ctx)
	defer cancel()

	if !ok {
		st, err := s.guard.RecordFailure(cctx, norm)
		if err != nil {
			var lerr *lockout.LockedError
			if errors.As(err, &lerr) {
				// Заблокирована параллельной попыткой после Check.
				lg.Warn("login_rejected_locked",
					slog.String("op", op),
					slog.String("identifier", redact.Identifier(norm)),
					slog.Time("until", lerr.Until),
				)
				s.record(cctx, norm, nil, models.ActionLogin, models.OutcomeLocked)
				return nil, fmt.Errorf("%s: %w", op, lerr)
			}

			lg.Error("lockout_update_failed", slog.String("op", op), slog.String("err", err.Error()))
			s.record(cctx, norm, nil, models.ActionLogin, models.OutcomeError)
			return nil, unavailable(op, err)
		}

		if st.Transitioned {
			s.metrics.Lockout()
			lg.Warn("account_locked",
				slog.String("op", op),
				slog.String("identifier", redact.Identifier(norm)),
				slog.Int("failures", st.Failures),
				slog.Time("until", st.Until),
			)
		} else {
			lg.Info("login_failed",
				slog.String("op", op),
				slog.String("identifier", redact.Identifier(norm)),
				slog.Int("failures", st.Failures),
			)
		}

		s.record(cctx, norm, nil, models.ActionLogin, models.OutcomeFailure)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !acc.Active {
		lg.Info("login_failed",
			slog.String("op", op),
			slog.String("identifier", redact.Identifier(norm)),
			slog.String("reason", "inactive"),
		)
		s.record(cctx, norm, nil, models.ActionLogin, models.OutcomeFailure)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	acc, err = s.guard.RecordSuccess(cctx, norm)
	if err != nil {
		var lerr *lockout.LockedError
		if errors.As(err, &lerr) {
			s.record(cctx, norm, nil, models.ActionLogin, models.OutcomeLocked)
			return nil, fmt.Errorf("%s: %w", op, lerr)
		}

		lg.Error("lockout_update_failed", slog.String("op", op), slog.String("err", err.Error()))
		s.record(cctx, norm, nil, models.ActionLogin, models.OutcomeError)
		return nil, unavailable(op, err)
	}

	pair, err := s.issuePair(acc)
	if err != nil {
		lg.Error("token_issue_failed", slog.String("op", op), slog.String("err", err.Error()))
		s.record(cctx, norm, nil, models.ActionLogin, models.OutcomeError)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.record(cctx, norm, nil, models.ActionLogin, models.OutcomeSuccess)

	return pair, nil
}

// Refresh выпускает новый access-токен по действующему refresh-токену.
// Refresh-токен не ротируется: в ответе возвращается он же.
// Роль берётся из текущей учётной записи, а не из снимка в refresh-токене.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	const op = "service.auth.Refresh"

	lg := log.From(ctx)

	claims, err := s.verify(ctx, refreshToken, models.TokenRefresh)
	if err != nil {
		s.record(ctx, anonymousActor, nil, models.ActionRefresh, outcomeOf(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	lctx, cancel := s.lookupCtx(ctx)
	acc, err := s.users.FindByIdentifier(lctx, claims.Subject)
	cancel()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.record(ctx, claims.Subject, nil, models.ActionRefresh, models.OutcomeFailure)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		lg.Error("account_lookup_failed", slog.String("op", op), slog.String("err", err.Error()))
		s.record(ctx, claims.Subject, nil, models.ActionRefresh, models.OutcomeError)
		return nil, unavailable(op, err)
	}

	if !acc.Active {
		s.record(ctx, claims.Subject, nil, models.ActionRefresh, models.OutcomeFailure)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	access, ac, err := s.tokens.IssueAccess(acc.Identifier, acc.Role)
	if err != nil {
		lg.Error("token_issue_failed", slog.String("op", op), slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.record(ctx, claims.Subject, nil, models.ActionRefresh, models.OutcomeSuccess)

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  ac.ExpiresAt,
		RefreshExpiresAt: claims.ExpiresAt,
	}, nil
}

// Verify проверяет access-токен (подпись, вид, срок, отзыв) и возвращает claims.
func (s *Service) Verify(ctx context.Context, accessToken string) (*models.Claims, error) {
	const op = "service.auth.Verify"

	claims, err := s.verify(ctx, accessToken, models.TokenAccess)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return claims, nil
}

// Logout отзывает jti access-токена. Если передан refresh-токен того же субъекта,
// отзывается и он. Повторное использование отозванного токена даёт ErrInvalidToken.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	const op = "service.auth.Logout"

	lg := log.From(ctx)

	claims, err := s.verify(ctx, accessToken, models.TokenAccess)
	if err != nil {
		s.record(ctx, anonymousActor, nil, models.ActionLogout, outcomeOf(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	var refresh *models.Claims
	if refreshToken != "" {
		refresh, err = s.tokens.Verify(refreshToken, models.TokenRefresh)
		if err != nil || refresh.Subject != claims.Subject {
			s.record(ctx, claims.Subject, nil, models.ActionLogout, models.OutcomeFailure)
			return fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}
	}

	cctx, cancel := s.commitCtx(ctx)
	defer cancel()

	if err := s.revoke(cctx, claims); err != nil {
		lg.Error("revoke_failed", slog.String("op", op), slog.String("err", err.Error()))
		s.record(cctx, claims.Subject, nil, models.ActionLogout, models.OutcomeError)
		return unavailable(op, err)
	}

	if refresh != nil {
		if err := s.revoke(cctx, refresh); err != nil {
			lg.Error("revoke_failed", slog.String("op", op), slog.String("err", err.Error()))
			s.record(cctx, claims.Subject, nil, models.ActionLogout, models.OutcomeError)
			return unavailable(op, err)
		}
	}

	lg.Info("logout", slog.String("op", op), slog.String("identifier", redact.Identifier(claims.Subject)))
	s.record(cctx, claims.Subject, nil, models.ActionLogout, models.OutcomeSuccess)

	return nil
}

// RevokeRefresh отзывает refresh-токен. Отзыв уже отозванного токена не является ошибкой.
func (s *Service) RevokeRefresh(ctx context.Context, refreshToken string) error {
	const op = "service.auth.RevokeRefresh"

	claims, err := s.tokens.Verify(refreshToken, models.TokenRefresh)
	if err != nil {
		s.record(ctx, anonymousActor, nil, models.ActionRevokeRefresh, models.OutcomeFailure)
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	cctx, cancel := s.commitCtx(ctx)
	defer cancel()

	if err := s.revoke(cctx, claims); err != nil {
		log.From(ctx).Error("revoke_failed", slog.String("op", op), slog.String("err", err.Error()))
		s.record(cctx, claims.Subject, nil, models.ActionRevokeRefresh, models.OutcomeError)
		return unavailable(op, err)
	}

	s.record(cctx, claims.Subject, nil, models.ActionRevokeRefresh, models.OutcomeSuccess)

	return nil
}

// ChangePassword меняет пароль владельца access-токена. Новый пароль проверяется
// политикой, текущий учитывается в счётчике блокировки как обычная попытка входа.
// Неактивная учётная запись даёт ErrInvalidToken, как и в Refresh.
// После смены отзывается предъявленный access-токен.
func (s *Service) ChangePassword(ctx context.Context, accessToken, current, next string) error {
	const op = "service.auth.ChangePassword"

	lg := log.From(ctx)

	claims, err := s.verify(ctx, accessToken, models.TokenAccess)
	if err != nil {
		s.record(ctx, anonymousActor, nil, models.ActionPasswordChange, outcomeOf(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.creds.ValidatePolicy(next); err != nil {
		s.record(ctx, claims.Subject, nil, models.ActionPasswordChange, models.OutcomeFailure)
		return fmt.Errorf("%s: %w", op, err)
	}

	lctx, cancel := s.lookupCtx(ctx)
	acc, err := s.users.FindByIdentifier(lctx, claims.Subject)
	cancel()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return unavailable(op, err)
	}

	if !acc.Active {
		s.record(ctx, claims.Subject, nil, models.ActionPasswordChange, models.OutcomeFailure)
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if st := s.guard.Check(acc); st.Locked {
		s.record(ctx, claims.Subject, nil, models.ActionPasswordChange, models.OutcomeLocked)
		return fmt.Errorf("%s: %w", op, &LockedError{Until: st.Until})
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if !s.creds.Verify(current, acc.PasswordHash) {
		cctx, cancel := s.commitCtx(ctx)
		defer cancel()

		st, err := s.guard.RecordFailure(cctx, claims.Subject)
		if err != nil {
			var lerr *LockedError
			if errors.As(err, &lerr) {
				s.record(cctx, claims.Subject, nil, models.ActionPasswordChange, models.OutcomeLocked)
				return fmt.Errorf("%s: %w", op, lerr)
			}

			s.record(cctx, claims.Subject, nil, models.ActionPasswordChange, models.OutcomeError)
			return unavailable(op, err)
		}
		if st.Transitioned {
			s.metrics.Lockout()
			lg.Warn("account_locked", slog.String("op", op), slog.String("identifier", redact.Identifier(claims.Subject)))
		}

		s.record(cctx, claims.Subject, nil, models.ActionPasswordChange, models.OutcomeFailure)
		return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	hash, err := s.creds.Hash(next)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	cctx, cancel := s.commitCtx(ctx)
	defer cancel()

	_, err = s.users.UpdateAuthState(cctx, claims.Subject, func(a *models.Account) error {
		if st := s.guard.Check(a); st.Locked {
			return &LockedError{Until: st.Until}
		}

		a.PasswordHash = hash
		a.FailedAttempts = 0
		a.LockedUntil = nil

		return nil
	})
	if err != nil {
		var lerr *LockedError
		if errors.As(err, &lerr) {
			s.record(cctx, claims.Subject, nil, models.ActionPasswordChange, models.OutcomeLocked)
			return fmt.Errorf("%s: %w", op, lerr)
		}

		lg.Error("password_update_failed", slog.String("op", op), slog.String("err", err.Error()))
		s.record(cctx, claims.Subject, nil, models.ActionPasswordChange, models.OutcomeError)
		return unavailable(op, err)
	}

	if err := s.revoke(cctx, claims); err != nil {
		// Пароль уже сменён; токен истечёт естественным образом.
		lg.Error("revoke_failed", slog.String("op", op), slog.String("err", err.Error()))
	}

	lg.Info("password_changed", slog.String("op", op), slog.String("identifier", redact.Identifier(claims.Subject)))
	s.record(cctx, claims.Subject, nil, models.ActionPasswordChange, models.OutcomeSuccess)

	return nil
}

// verify проверяет токен и его отсутствие в реестре отзыва.
// Сбой реестра - ErrStoreUnavailable: токен при этом не принимается.
func (s *Service) verify(ctx context.Context, token string, kind models.TokenKind) (*models.Claims, error) {
	claims, err := s.tokens.Verify(token, kind)
	if err != nil {
		return nil, ErrInvalidToken
	}

	lctx, cancel := s.lookupCtx(ctx)
	revoked, err := s.registry.IsRevoked(lctx, claims.ID)
	cancel()
	if err != nil {
		return nil, unavailable("service.auth.verify", err)
	}

	if revoked {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (s *Service) revoke(ctx context.Context, claims *models.Claims) error {
	if err := s.registry.Revoke(ctx, claims.ID, claims.ExpiresAt); err != nil {
		return err
	}

	s.metrics.Revocation(string(claims.Kind))

	return nil
}

func (s *Service) issuePair(acc *models.Account) (*models.TokenPair, error) {
	access, ac, err := s.tokens.IssueAccess(acc.Identifier, acc.Role)
	if err != nil {
		return nil, err
	}

	refresh, rc, err := s.tokens.IssueRefresh(acc.Identifier, acc.Role)
	if err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  ac.ExpiresAt,
		RefreshExpiresAt: rc.ExpiresAt,
	}, nil
}
