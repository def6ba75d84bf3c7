package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/agentflow/internal/api/shared"
	"github.com/phrazzld/agentflow/internal/config"
	"github.com/phrazzld/agentflow/internal/platform/logger"
	"github.com/phrazzld/agentflow/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-for-testing"

type stubJWT struct {
	err error
}

func (s stubJWT) GenerateToken(context.Context, string) (string, error) { return "", nil }

func (s stubJWT) ValidateToken(context.Context, string) (*auth.Claims, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &auth.Claims{Subject: "ops"}, nil
}

func subjectEcho(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ := shared.Subject(r.Context())
		_, _ = w.Write([]byte(subject))
	})
}

func TestAuthenticate(t *testing.T) {
	svc, err := auth.NewJWTService(config.AuthConfig{JWTSecret: testSecret, TokenLifetimeMinutes: 5})
	require.NoError(t, err)
	token, err := svc.GenerateToken(context.Background(), "ops")
	require.NoError(t, err)

	tests := []struct {
		name     string
		svc      auth.JWTService
		header   string
		wantCode int
		wantBody string
	}{
		{name: "valid token", svc: svc, header: "Bearer " + token, wantCode: http.StatusOK, wantBody: "ops"},
		{name: "lowercase scheme", svc: svc, header: "bearer " + token, wantCode: http.StatusOK, wantBody: "ops"},
		{name: "missing header", svc: svc, wantCode: http.StatusUnauthorized},
		{name: "wrong scheme", svc: svc, header: "Basic abc", wantCode: http.StatusUnauthorized},
		{name: "garbage token", svc: svc, header: "Bearer nope", wantCode: http.StatusUnauthorized},
		{name: "expired", svc: stubJWT{err: auth.ErrExpiredToken}, header: "Bearer x", wantCode: http.StatusUnauthorized},
		{name: "unexpected error", svc: stubJWT{err: errors.New("boom")}, header: "Bearer x", wantCode: http.StatusInternalServerError},
		{name: "disabled", svc: nil, wantCode: http.StatusOK, wantBody: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewAuthMiddleware(tc.svc).Authenticate(subjectEcho(t))
			req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			assert.Equal(t, tc.wantCode, w.Code)
			if tc.wantCode == http.StatusOK {
				assert.Equal(t, tc.wantBody, w.Body.String())
			}
		})
	}
}

func TestTraceMiddleware(t *testing.T) {
	buf, log := logger.SetupTestLogger(t)

	var seen string
	var hasLogger bool
	h := NewTraceMiddleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.GetTraceID(r.Context())
		hasLogger = logger.FromContext(r.Context()) != nil
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Len(t, seen, 32)
	assert.True(t, hasLogger)
	assert.Equal(t, seen, w.Header().Get(TraceHeader))
	assert.Contains(t, buf.String(), seen)

	chained := chimiddleware.RequestID(h)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(chimiddleware.RequestIDHeader, "req-42")
	w = httptest.NewRecorder()
	chained.ServeHTTP(w, req)
	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", w.Header().Get(TraceHeader))
}
