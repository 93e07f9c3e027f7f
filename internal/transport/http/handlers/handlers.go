// handlers - HTTP-обработчики поверх service.Service.
// Обработчики только разбирают запрос, вызывают операцию и пишут ответ;
// все решения о доступе принимает service.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/clinic-auth/internal/authz"
	"github.com/pribylovaa/clinic-auth/internal/models"
	"github.com/pribylovaa/clinic-auth/internal/service"
	apierrors "github.com/pribylovaa/clinic-auth/internal/transport/http/errors"
)

// maxBodyBytes - предел размера тела запроса.
const maxBodyBytes = 1 << 16

// Service - операции, которые обслуживает HTTP API.
type Service interface {
	Authenticate(ctx context.Context, identifier, secret string) (*models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	Verify(ctx context.Context, accessToken string) (*models.Claims, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	RevokeRefresh(ctx context.Context, refreshToken string) error
	ChangePassword(ctx context.Context, accessToken, current, next string) error
	AuthorizeAndCall(ctx context.Context, accessToken string, required authz.RoleSet, call service.Operation, opts ...service.CallOption) error
	FindResource(ctx context.Context, id int64) (*models.Resource, error)
	IssueResourceToken(ctx context.Context, actorToken string, resourceID int64, access models.AccessLevel, ttl time.Duration) (*models.EphemeralResourceToken, error)
	RedeemResourceToken(ctx context.Context, tokenID string) (*models.Redemption, error)
	InvalidateResourceToken(ctx context.Context, actorToken string, resourceID int64) error
}

// Handlers агрегирует зависимости обработчиков.
type Handlers struct {
	svc Service
	now func() time.Time
}

var _ Service = (*service.Service)(nil)

func New(svc Service) *Handlers {
	return &Handlers{svc: svc, now: time.Now}
}

// writeJSON - единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict - строгий JSON-декодер: запрещаем неизвестные поля и лишние данные.
func decodeStrict(w http.ResponseWriter, r *http.Request, value any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(value); err != nil {
		return apierrors.ErrBadRequest
	}
	if dec.More() {
		return apierrors.ErrBadRequest
	}
	return nil
}

// pathID разбирает положительный числовой {id} из пути.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apierrors.ErrBadRequest
	}
	return id, nil
}
