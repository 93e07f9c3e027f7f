package handlers

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/clinic-auth/internal/authz"
	"github.com/pribylovaa/clinic-auth/internal/models"
	"github.com/pribylovaa/clinic-auth/internal/service"
	apierrors "github.com/pribylovaa/clinic-auth/internal/transport/http/errors"
	"github.com/pribylovaa/clinic-auth/internal/transport/http/middleware"
)

// maxTTLSeconds - граница, за которой ttl_seconds переполняет time.Duration.
const maxTTLSeconds = int64(math.MaxInt64 / time.Second)

// GetPatient - чтение карты пациента под ролевой проверкой patients.read.
// Содержимое карты вне подсистемы; отдаётся id и состояние эфемерного токена.
func (h *Handlers) GetPatient(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	var res *models.Resource
	err = h.svc.AuthorizeAndCall(r.Context(), middleware.TokenFrom(r.Context()), authz.Required(authz.OpPatientsRead),
		func(ctx context.Context, _ *models.Claims) error {
			var err error
			res, err = h.svc.FindResource(ctx, id)
			return err
		},
		service.ForAction(authz.OpPatientsRead), service.ForResource(id),
	)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resourceFromModel(res, h.now()))
}

// IssueResourceToken выпускает эфемерный токен (для QR-кода) к карте пациента.
// Открытое значение токена возвращается только в этом ответе.
func (h *Handlers) IssueResourceToken(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	in := issueTokenRequest{Access: models.AccessRead}
	if !emptyBody(r) {
		if err := decodeStrict(w, r, &in); err != nil {
			apierrors.WriteError(w, r, err)
			return
		}
	}
	if in.TTLSeconds < 0 || in.TTLSeconds > maxTTLSeconds {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	tok, err := h.svc.IssueResourceToken(r.Context(), middleware.TokenFrom(r.Context()), id, in.Access,
		time.Duration(in.TTLSeconds)*time.Second)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, resourceTokenResponse{
		ResourceID: tok.ResourceID,
		Token:      tok.TokenID,
		Access:     tok.Access,
		ExpiresAt:  tok.ExpiresAt,
	})
}

func (h *Handlers) InvalidateResourceToken(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if err := h.svc.InvalidateResourceToken(r.Context(), middleware.TokenFrom(r.Context()), id); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RedeemResourceToken предъявляет эфемерный токен без учётных данных.
func (h *Handlers) RedeemResourceToken(w http.ResponseWriter, r *http.Request) {
	red, err := h.svc.RedeemResourceToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, redemptionResponse{
		ResourceID: red.ResourceID,
		Access:     red.Access,
		ExpiresAt:  red.ExpiresAt,
	})
}
