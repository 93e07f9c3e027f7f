// http - HTTP API подсистемы аутентификации: роутер chi, middleware и обработчики.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/clinic-auth/internal/metrics"
	"github.com/pribylovaa/clinic-auth/internal/transport/http/handlers"
	"github.com/pribylovaa/clinic-auth/internal/transport/http/middleware"
)

// Options - параметры сборки HTTP-роутера.
type Options struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Timeout        time.Duration
	LoginPerMinute int // 0 - без ограничения частоты входа
	LoginBurst     int
	BasePath       string // например, "/api"; если пустой - роуты регистрируются на корне.
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc handlers.Service, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),            // безопасно ловим паники
		middleware.RequestID(),          // X-Request-Id до логирования
		middleware.Logging(opts.Logger), // логгер запроса в контексте
		opts.Metrics.Instrument,
		middleware.Origin(), // сведения о клиенте для журнала доступа
		middleware.AuthBearer(),
	)
	if opts.Timeout > 0 {
		root.Use(middleware.Timeout(opts.Timeout))
	}

	h := handlers.New(svc)
	login := middleware.RateLimit(opts.LoginPerMinute, opts.LoginBurst)

	if opts.BasePath != "" {
		sub := chi.NewRouter()
		registerRoutes(sub, h, login)
		root.Mount(opts.BasePath, sub)
		return root
	}

	registerRoutes(root, h, login)
	return root
}

// registerRoutes - единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers, login middleware.Middleware) {
	// auth
	r.With(login).Post("/auth/login", h.Login)
	r.Post("/auth/refresh", h.Refresh)
	r.Post("/auth/logout", h.Logout)
	r.Post("/auth/revoke", h.Revoke)
	r.Get("/auth/verify", h.Verify)
	r.With(login).Post("/auth/password", h.ChangePassword)

	// patients
	r.Get("/patients/{id}", h.GetPatient)
	r.Post("/patients/{id}/qrcode", h.IssueResourceToken)
	r.Delete("/patients/{id}/qrcode", h.InvalidateResourceToken)
	r.Get("/patients/qr/{token}", h.RedeemResourceToken)
}
