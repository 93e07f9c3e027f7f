package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/pribylovaa/clinic-auth/internal/pkg/log"
	apierrors "github.com/pribylovaa/clinic-auth/internal/transport/http/errors"
)

// maxTrackedClients - сколько IP одновременно помнит ограничитель.
// Давно не появлявшиеся адреса вытесняются.
const maxTrackedClients = 10000

// limiters - ограничители по IP клиента.
type limiters struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *rate.Limiter]
	limit rate.Limit
	burst int
}

func (l *limiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.cache.Get(ip); ok {
		return lim
	}

	lim := rate.NewLimiter(l.limit, l.burst)
	l.cache.Add(ip, lim)
	return lim
}

// RateLimit ограничивает частоту запросов с одного IP: perMinute в минуту
// с запасом burst. Превышение - 429 с Retry-After. perMinute <= 0 делает мидлвар no-op.
func RateLimit(perMinute, burst int) Middleware {
	return func(next http.Handler) http.Handler {
		if perMinute <= 0 {
			return next
		}
		if burst <= 0 {
			burst = perMinute
		}

		cache, err := lru.New[string, *rate.Limiter](maxTrackedClients)
		if err != nil {
			panic(err)
		}
		ls := &limiters{
			cache: cache,
			limit: rate.Limit(float64(perMinute) / 60.0),
			burst: burst,
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			res := ls.get(ip).Reserve()
			if delay := res.Delay(); delay > 0 {
				res.Cancel()

				log.From(r.Context()).Warn("rate_limited",
					slog.String("op", "middleware.RateLimit"),
					slog.String("peer", ip),
					slog.String("path", r.URL.Path),
				)

				w.Header().Set("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
				apierrors.WriteError(w, r, apierrors.ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
