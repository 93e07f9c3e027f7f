package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pribylovaa/clinic-auth/internal/credentials"
	"github.com/pribylovaa/clinic-auth/internal/service"
	"github.com/stretchr/testify/require"
)

func TestToHTTP_Mapping(t *testing.T) {
	wrap := func(err error) error { return fmt.Errorf("service.auth.Op: %w", err) }

	tcs := []struct {
		name       string
		in         error
		wantStatus int
		wantCode   string
	}{
		{"invalid_credentials", wrap(service.ErrInvalidCredentials), http.StatusUnauthorized, "unauthenticated"},
		{"invalid_token", wrap(service.ErrInvalidToken), http.StatusUnauthorized, "unauthenticated"},
		{"locked", wrap(&service.LockedError{Until: time.Now()}), http.StatusLocked, "account_locked"},
		{"forbidden", wrap(service.ErrForbidden), http.StatusForbidden, "permission_denied"},
		{"expired", wrap(service.ErrResourceTokenExpired), http.StatusGone, "resource_token_expired"},
		{"token_not_found", wrap(service.ErrResourceTokenNotFound), http.StatusNotFound, "resource_token_not_found"},
		{"resource_not_found", wrap(service.ErrResourceNotFound), http.StatusNotFound, "not_found"},
		{"policy", wrap(&credentials.PolicyViolation{Rule: credentials.RuleDigit}), http.StatusBadRequest, "password_policy"},
		{"invalid_argument", wrap(service.ErrInvalidArgument), http.StatusBadRequest, "invalid_argument"},
		{"bad_request", ErrBadRequest, http.StatusBadRequest, "invalid_argument"},
		{"rate_limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"unavailable", wrap(service.ErrStoreUnavailable), http.StatusServiceUnavailable, "unavailable"},
		{"unavailable_timeout", fmt.Errorf("op: %w: %w", service.ErrStoreUnavailable, context.DeadlineExceeded), http.StatusServiceUnavailable, "unavailable"},
		{"canceled", wrap(context.Canceled), StatusClientClosedRequest, "canceled"},
		{"deadline", wrap(context.DeadlineExceeded), http.StatusGatewayTimeout, "deadline_exceeded"},
		{"internal", fmt.Errorf("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			gotStatus, resp := ToHTTP(tc.in)
			require.Equal(t, tc.wantStatus, gotStatus)
			require.Equal(t, tc.wantCode, resp.Error.Code)
			require.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestToHTTP_NilError_Returns500Internal(t *testing.T) {
	gotStatus, resp := ToHTTP(nil)
	require.Equal(t, http.StatusInternalServerError, gotStatus)
	require.Equal(t, "internal", resp.Error.Code)
	require.Equal(t, "internal error", resp.Error.Message)
}

func TestToHTTP_AuthFailuresIndistinguishable(t *testing.T) {
	s1, r1 := ToHTTP(service.ErrInvalidCredentials)
	s2, r2 := ToHTTP(service.ErrInvalidToken)
	require.Equal(t, s1, s2)
	require.Equal(t, r1, r2)
}

func TestToHTTP_Details(t *testing.T) {
	until := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	_, resp := ToHTTP(fmt.Errorf("op: %w", &service.LockedError{Until: until}))
	require.NotNil(t, resp.Error.LockedUntil)
	require.True(t, until.Equal(*resp.Error.LockedUntil))
	require.Empty(t, resp.Error.Rule)

	_, resp = ToHTTP(&credentials.PolicyViolation{Rule: credentials.RuleRepeat})
	require.Equal(t, string(credentials.RuleRepeat), resp.Error.Rule)
	require.Nil(t, resp.Error.LockedUntil)
}

func TestWriteError_WritesEnvelopeWithRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	rr := httptest.NewRecorder()

	WriteError(rr, req, service.ErrForbidden)

	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "permission_denied", body.Error.Code)
	require.Equal(t, "rid-1", body.Error.RequestID)
}
