// errors стандартизирует ответы об ошибках HTTP API.
// На вход принимает ошибку операции service, на выход даёт:
//   - HTTP-статус;
//   - короткий стабильный код и безопасное сообщение без деталей.
//
// Неверные учётные данные и любая проблема с токеном дают одинаковый
// ответ 401, чтобы клиент не мог различить причину отказа.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/pribylovaa/clinic-auth/internal/credentials"
	"github.com/pribylovaa/clinic-auth/internal/service"
)

// Нестандартный код для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

var (
	// ErrBadRequest - тело или параметры запроса не разобраны.
	ErrBadRequest = stderrors.New("bad request")
	// ErrRateLimited - превышена частота попыток.
	ErrRateLimited = stderrors.New("rate limited")
)

// APIError - единый формат ошибки для клиента.
// LockedUntil заполняется только для 423, Rule - только для нарушения политики пароля.
type APIError struct {
	Code        string     `json:"code"`
	Message     string     `json:"message"`
	RequestID   string     `json:"request_id,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Rule        string     `json:"rule,omitempty"`
}

// ErrorResponse - корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// ToHTTP конвертирует ошибку в HTTP-статус и ответ.
// err == nil - программная ошибка вызова: 500/internal, а не "200 OK" с телом ошибки.
func ToHTTP(err error) (int, ErrorResponse) {
	status, code, msg := classify(err)
	resp := ErrorResponse{Error: APIError{Code: code, Message: msg}}

	var lerr *service.LockedError
	if stderrors.As(err, &lerr) {
		until := lerr.Until.UTC()
		resp.Error.LockedUntil = &until
	}

	var perr *credentials.PolicyViolation
	if stderrors.As(err, &perr) {
		resp.Error.Rule = string(perr.Rule)
	}

	return status, resp
}

// WriteError пишет статус и тело, добавляет request_id из заголовка, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// classify - маппинг ошибок service -> HTTP/код/сообщение:
//   - InvalidCredentials, InvalidToken -> 401 (общий ответ)
//   - AccountLocked -> 423
//   - Forbidden -> 403
//   - ResourceTokenExpired -> 410
//   - ResourceTokenNotFound, ResourceNotFound -> 404
//   - PolicyViolation, InvalidArgument, ошибка разбора запроса -> 400
//   - RateLimited -> 429
//   - StoreUnavailable -> 503
//   - Canceled -> 499, DeadlineExceeded -> 504
//   - прочее -> 500/internal
func classify(err error) (int, string, string) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, "internal", "internal error"
	case stderrors.Is(err, service.ErrInvalidCredentials),
		stderrors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthenticated", "authentication failed"
	case stderrors.Is(err, service.ErrAccountLocked):
		return http.StatusLocked, "account_locked", "account locked"
	case stderrors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "permission_denied", "permission denied"
	case stderrors.Is(err, service.ErrResourceTokenExpired):
		return http.StatusGone, "resource_token_expired", "resource token expired"
	case stderrors.Is(err, service.ErrResourceTokenNotFound):
		return http.StatusNotFound, "resource_token_not_found", "resource token not found"
	case stderrors.Is(err, service.ErrResourceNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case stderrors.Is(err, service.ErrPolicyViolation):
		return http.StatusBadRequest, "password_policy", "password does not meet policy"
	case stderrors.Is(err, service.ErrInvalidArgument),
		stderrors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "invalid_argument", "invalid argument"
	case stderrors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited", "too many requests"
	case stderrors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "unavailable", "service unavailable"
	case stderrors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "canceled", "canceled"
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded", "deadline exceeded"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}
