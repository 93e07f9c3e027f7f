package middleware

import (
	"net/http"

	"github.com/pribylovaa/clinic-auth/internal/audit"
	"github.com/pribylovaa/clinic-auth/internal/models"
)

const maxClientLen = 256

// Origin кладёт в контекст сведения о вызывающей стороне для журнала доступа:
// IP клиента, User-Agent (обрезается до 256 байт) и id запроса.
// Ставится после RequestID.
func Origin() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ua := r.UserAgent()
			if len(ua) > maxClientLen {
				ua = ua[:maxClientLen]
			}

			ctx := audit.WithOrigin(r.Context(), models.Origin{
				Address:   clientIP(r),
				Client:    ua,
				RequestID: RequestIDFrom(r.Context()),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
