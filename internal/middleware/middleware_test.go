// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/auth"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/config"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/i18n"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/middleware"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/session"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = i18n.Init()
}

const testHashKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newSessionManager(t *testing.T) *session.Manager {
	t.Helper()
	mgr, err := session.NewManager(&config.SessionConfig{
		CookieName: "_session",
		MaxAge:     3600,
		HashKey:    testHashKey,
		Issuer:     "test",
	}, false)
	require.NoError(t, err)
	return mgr
}

// whoami answers with the email of the authenticated account.
func whoami(c echo.Context) error {
	acc := auth.GetAccount(c.Request().Context())
	if acc == nil {
		return c.String(http.StatusOK, "anonymous")
	}
	return c.String(http.StatusOK, acc.Email)
}

func TestLoadSession(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	acc := testutil.NewTestAccount(t, repo, "ada@example.com")
	mgr := newSessionManager(t)
	sess, err := mgr.Issue(acc)
	require.NoError(t, err)

	e := echo.New()
	e.Use(middleware.LoadSession(mgr, repo))
	e.GET("/", whoami)

	tests := []struct {
		name    string
		prepare func(*http.Request)
		want    string
	}{
		{"no session", func(*http.Request) {}, "anonymous"},
		{"bearer token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+sess.Token) }, "ada@example.com"},
		{"cookie", func(r *http.Request) { r.AddCookie(sess.Cookie) }, "ada@example.com"},
		{"garbage token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, "anonymous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()

			e.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}
}

func TestLoadSession_UnknownAccount(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	acc := testutil.NewTestAccount(t, repo, "ada@example.com")
	mgr := newSessionManager(t)
	sess, err := mgr.Issue(acc)
	require.NoError(t, err)

	_, otherRepo := testutil.NewTestDB(t)
	e := echo.New()
	e.Use(middleware.LoadSession(mgr, otherRepo))
	e.GET("/", whoami)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestRequireAuth(t *testing.T) {
	e := echo.New()
	e.GET("/", whoami, middleware.RequireAuth)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Not authenticated"}`, rec.Body.String())
}

func TestLocale(t *testing.T) {
	e := echo.New()
	e.Use(middleware.Locale)
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, i18n.GetLocale(c.Request().Context()))
	})

	tests := []struct {
		header, want string
	}{
		{"de-DE,de;q=0.9", "de"},
		{"en-US", "en"},
		{"fr", "en"},
		{"", "en"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Language", tt.header)
		rec := httptest.NewRecorder()

		e.ServeHTTP(rec, req)

		assert.Equal(t, tt.want, rec.Body.String(), tt.header)
		assert.Equal(t, tt.want, rec.Header().Get("Content-Language"))
	}
}

func TestIPRateLimit(t *testing.T) {
	e := echo.New()
	e.Use(middleware.IPRateLimit(1))
	e.POST("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = ip + ":12345"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, send("203.0.113.7").Code)

	limited := send("203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Contains(t, limited.Body.String(), "Too many requests")

	assert.Equal(t, http.StatusNoContent, send("203.0.113.8").Code)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	e := echo.New()
	e.Use(middleware.RequestLogger(logger))
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/api/auth/me", func(c echo.Context) error { return c.NoContent(http.StatusUnauthorized) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	e.ServeHTTP(httptest.NewRecorder(), req)
	assert.Zero(t, buf.Len())

	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	e.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request", entry["msg"])
	assert.Equal(t, "/api/auth/me", entry["uri"])
	assert.InDelta(t, http.StatusUnauthorized, entry["status"], 0)
	assert.Equal(t, "req-1", entry["request_id"])
}
