package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Outcome("auth.login", "success")
	m.Outcome("auth.login", "success")
	m.Outcome("auth.login", "failure")
	m.Lockout()
	m.Revocation("access")
	m.AuditFailure("queue_full")

	require.Equal(t, 2.0, testutil.ToFloat64(m.outcomes.WithLabelValues("auth.login", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("auth.login", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.lockouts))
	require.Equal(t, 1.0, testutil.ToFloat64(m.revocations.WithLabelValues("access")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.auditFailures.WithLabelValues("queue_full")))
}

func TestNilMetrics_NoPanic(t *testing.T) {
	t.Parallel()

	var m *Metrics
	require.NotPanics(t, func() {
		m.Outcome("a", "b")
		m.Lockout()
		m.Revocation("refresh")
		m.AuditFailure("x")
	})

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rec := httptest.NewRecorder()
	m.Instrument(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
}

func TestInstrument_UsesRoutePattern(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/patients/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/patients/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	require.Equal(t, 3.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/patients/{id}", "404")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.True(t, strings.Contains(rec.Body.String(), "http_requests_total"))
}
