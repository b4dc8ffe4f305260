// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/config"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/handlers"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/i18n"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/middleware"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/models"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/repository"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/auth"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/recovery"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/secret"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/session"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	_ = i18n.Init()
}

const (
	testEmail      = "ada@example.com"
	testHashKey    = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	testCookieName = "_session"
)

type fakeMailer struct {
	mu      sync.Mutex
	otps    []string
	changed int
	welcome int
	failOTP error
}

func (f *fakeMailer) SendOTP(_ context.Context, _ *models.Account, otp string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOTP != nil {
		return f.failOTP
	}
	f.otps = append(f.otps, otp)
	return nil
}

func (f *fakeMailer) SendPasswordChanged(context.Context, *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed++
	return nil
}

func (f *fakeMailer) SendWelcome(context.Context, *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.welcome++
	return nil
}

func (f *fakeMailer) lastOTP(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.otps, "no otp mailed")
	return f.otps[len(f.otps)-1]
}

type fixture struct {
	e      *echo.Echo
	repo   *repository.Repository
	mailer *fakeMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	_, repo := testutil.NewTestDB(t)

	sessions, err := session.NewManager(&config.SessionConfig{
		CookieName: testCookieName,
		MaxAge:     3600,
		HashKey:    testHashKey,
		Issuer:     "test",
	}, false)
	require.NoError(t, err)

	passwords, err := auth.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	hasher, err := secret.New(secret.Params{Pepper: []byte("test-pepper"), MemoryKiB: 64})
	require.NoError(t, err)

	cfg := config.DefaultRecoveryConfig()
	mailer := &fakeMailer{}
	recoverySvc := recovery.NewService(cfg, repo, hasher, passwords, sessions, mailer)
	authSvc := auth.NewService(repo, passwords, auth.DefaultPasswordPolicy(cfg.PasswordMinLength), sessions, mailer)
	t.Cleanup(recoverySvc.Close)
	t.Cleanup(authSvc.Close)

	h := handlers.New(recoverySvc, authSvc, sessions, cfg.PasswordMinLength)

	e := echo.New()
	e.Validator = handlers.NewValidator(cfg.OTPDigits)
	e.HTTPErrorHandler = handlers.ErrorHandler
	e.Use(middleware.Locale)
	e.GET("/health", h.Health)

	api := e.Group("/api/auth", middleware.LoadSession(sessions, repo))
	api.POST("/request-otp", h.RequestOTP)
	api.POST("/verify-otp", h.VerifyOTP)
	api.POST("/reset-password", h.ResetPassword)
	api.POST("/register", h.Register)
	api.POST("/login", h.Login)
	api.POST("/logout", h.Logout)
	api.GET("/me", h.Me, middleware.RequireAuth)

	return &fixture{e: e, repo: repo, mailer: mailer}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := testutil.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, path, body, nil)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == testCookieName {
			return c
		}
	}
	return nil
}

// resetToken runs request and verify for testEmail.
func (f *fixture) resetToken(t *testing.T) string {
	t.Helper()
	rec := f.post(t, "/api/auth/request-otp", map[string]string{"email": testEmail})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.post(t, "/api/auth/verify-otp", map[string]string{"email": testEmail, "otp": f.mailer.lastOTP(t)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, ok := decode(t, rec)["resetToken"].(string)
	require.True(t, ok)
	return token
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/auth/nope", nil, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Not Found", body["error"])
}

func TestRecoveryFlow(t *testing.T) {
	f := newFixture(t)
	testutil.NewTestAccount(t, f.repo, testEmail)

	rec := f.post(t, "/api/auth/request-otp", map[string]string{"email": "  Ada@Example.com "})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "OTP sent to your email.", body["message"])
	assert.EqualValues(t, 2, body["requestsRemaining"])
	assert.EqualValues(t, 5, body["expiresInMinutes"])

	rec = f.post(t, "/api/auth/verify-otp", map[string]string{"email": testEmail, "otp": f.mailer.lastOTP(t)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.Equal(t, "OTP verified successfully.", body["message"])
	token, _ := body["resetToken"].(string)
	require.Len(t, token, 64)

	rec = f.post(t, "/api/auth/reset-password", map[string]string{
		"email":           testEmail,
		"resetToken":      token,
		"newPassword":     "new-secret-pass",
		"confirmPassword": "new-secret-pass",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.Equal(t, "Password reset successful! You can now log in with your new password.", body["message"])
	assert.NotEmpty(t, body["token"])
	user, _ := body["user"].(map[string]any)
	assert.Equal(t, testEmail, user["email"])
	assert.NotContains(t, user, "passwordHash")
	assert.NotNil(t, sessionCookie(rec))

	bearer, _ := body["token"].(string)
	rec = f.do(t, http.MethodGet, "/api/auth/me", nil, map[string]string{"Authorization": "Bearer " + bearer})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user, _ = decode(t, rec)["user"].(map[string]any)
	assert.Equal(t, testEmail, user["email"])

	rec = f.post(t, "/api/auth/login", map[string]string{"email": testEmail, "password": "new-secret-pass"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The token is single use.
	rec = f.post(t, "/api/auth/reset-password", map[string]string{
		"email":           testEmail,
		"resetToken":      token,
		"newPassword":     "another-pass",
		"confirmPassword": "another-pass",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid or expired reset token. Please request a new OTP.", decode(t, rec)["error"])
}

func TestRequestOTP_UnknownEmail(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/api/auth/request-otp", map[string]string{"email": "nobody@example.com"})

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "If an account exists with this email, you will receive an OTP.", body["message"])
	assert.NotContains(t, body, "requestsRemaining")
	assert.Empty(t, f.mailer.otps)
}

func TestRequestOTP_RateLimited(t *testing.T) {
	f := newFixture(t)
	testutil.NewTestAccount(t, f.repo, testEmail)

	for range 3 {
		rec := f.post(t, "/api/auth/request-otp", map[string]string{"email": testEmail})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := f.post(t, "/api/auth/request-otp", map[string]string{"email": testEmail})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get(echo.HeaderRetryAfter))
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.EqualValues(t, 60, body["retryAfterMinutes"])
	assert.Equal(t, "Too many OTP requests. Please try again in 60 minutes.", body["error"])
}

func TestRequestOTP_DeliveryFailed(t *testing.T) {
	f := newFixture(t)
	testutil.NewTestAccount(t, f.repo, testEmail)
	f.mailer.failOTP = errors.New("smtp down")

	rec := f.post(t, "/api/auth/request-otp", map[string]string{"email": testEmail})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Failed to send OTP. Please try again.", body["error"])
	assert.NotContains(t, rec.Body.String(), "smtp down")
}

func TestRequestOTP_German(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/auth/request-otp",
		map[string]string{"email": "nobody@example.com"},
		map[string]string{"Accept-Language": "de-DE,de;q=0.9"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "de", rec.Header().Get("Content-Language"))
	assert.NotEqual(t, "If an account exists with this email, you will receive an OTP.", decode(t, rec)["message"])
}

func TestValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		path   string
		body   any
		fields []any
	}{
		{"missing email", "/api/auth/request-otp", map[string]string{}, []any{"email"}},
		{"malformed email", "/api/auth/request-otp", map[string]string{"email": "not-an-email"}, []any{"email"}},
		{"short otp", "/api/auth/verify-otp", map[string]string{"email": testEmail, "otp": "12345"}, []any{"otp"}},
		{"non numeric otp", "/api/auth/verify-otp", map[string]string{"email": testEmail, "otp": "12a456"}, []any{"otp"}},
		{"missing reset fields", "/api/auth/reset-password", map[string]string{"email": testEmail}, []any{"resetToken", "newPassword", "confirmPassword"}},
		{"missing register fields", "/api/auth/register", map[string]string{"email": testEmail}, []any{"fullName", "password"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.post(t, tt.path, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, "Please provide all required fields", body["error"])
			assert.Equal(t, tt.fields, body["fields"])
		})
	}
}

func TestValidation_MalformedBody(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/api/auth/request-otp", `{"email":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Please provide all required fields", decode(t, rec)["error"])
}

func TestVerifyOTP_Errors(t *testing.T) {
	f := newFixture(t)
	testutil.NewTestAccount(t, f.repo, testEmail)

	rec := f.post(t, "/api/auth/verify-otp", map[string]string{"email": "nobody@example.com", "otp": "123456"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid or expired OTP", decode(t, rec)["error"])

	rec = f.post(t, "/api/auth/verify-otp", map[string]string{"email": testEmail, "otp": "123456"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No OTP requested. Please request a new one.", decode(t, rec)["error"])

	rec = f.post(t, "/api/auth/request-otp", map[string]string{"email": testEmail})
	require.Equal(t, http.StatusOK, rec.Code)
	wrong := "000000"
	if f.mailer.lastOTP(t) == wrong {
		wrong = "111111"
	}

	rec = f.post(t, "/api/auth/verify-otp", map[string]string{"email": testEmail, "otp": wrong})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid OTP. 2 attempts remaining.", decode(t, rec)["error"])

	rec = f.post(t, "/api/auth/verify-otp", map[string]string{"email": testEmail, "otp": wrong})
	assert.Equal(t, "Invalid OTP. 1 attempt remaining.", decode(t, rec)["error"])

	rec = f.post(t, "/api/auth/verify-otp", map[string]string{"email": testEmail, "otp": wrong})
	assert.Equal(t, "Invalid OTP. 0 attempts remaining.", decode(t, rec)["error"])

	rec = f.post(t, "/api/auth/verify-otp", map[string]string{"email": testEmail, "otp": f.mailer.lastOTP(t)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Too many failed attempts. Please request a new OTP.", decode(t, rec)["error"])
}

func TestResetPassword_Errors(t *testing.T) {
	f := newFixture(t)
	testutil.NewTestAccount(t, f.repo, testEmail)
	token := f.resetToken(t)

	tests := []struct {
		name    string
		token   string
		newPw   string
		confirm string
		want    string
	}{
		{"mismatch", token, "new-secret-pass", "other-secret-pass", "Passwords do not match"},
		{"too short", token, "short", "short", "Password must be at least 8 characters"},
		{"wrong token", strings.Repeat("ab", 32), "new-secret-pass", "new-secret-pass", "Invalid or expired reset token. Please request a new OTP."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.post(t, "/api/auth/reset-password", map[string]string{
				"email":           testEmail,
				"resetToken":      tt.token,
				"newPassword":     tt.newPw,
				"confirmPassword": tt.confirm,
			})

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decode(t, rec)["error"])
			assert.Nil(t, sessionCookie(rec))
		})
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	body := map[string]string{
		"fullName": "Ada Lovelace",
		"email":    testEmail,
		"password": "analytical-engine",
	}

	rec := f.post(t, "/api/auth/register", body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.Equal(t, "Registration successful! Welcome, Ada.", resp["message"])
	assert.NotEmpty(t, resp["token"])
	user, _ := resp["user"].(map[string]any)
	assert.Equal(t, "Ada", user["firstName"])
	assert.Equal(t, "Lovelace", user["lastName"])
	assert.NotNil(t, sessionCookie(rec))

	rec = f.post(t, "/api/auth/register", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "An account with this email already exists", decode(t, rec)["error"])
}

func TestRegister_WeakPassword(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		password string
		want     string
	}{
		{"too short", "abc", "Password must be at least 8 characters"},
		{"numeric", "1234567890", "Password cannot be entirely numeric"},
		{"similar", "lovelace1", "Password is too similar to your personal information"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.post(t, "/api/auth/register", map[string]string{
				"fullName": "Ada Lovelace",
				"email":    testEmail,
				"password": tt.password,
			})

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decode(t, rec)["error"])
		})
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	testutil.NewTestAccount(t, f.repo, testEmail)

	rec := f.post(t, "/api/auth/login", map[string]string{"email": testEmail, "password": testutil.DefaultPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["isFirstLogin"])
	assert.NotNil(t, sessionCookie(rec))

	rec = f.post(t, "/api/auth/login", map[string]string{"email": testEmail, "password": testutil.DefaultPassword})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["isFirstLogin"])
}

func TestLogin_Invalid(t *testing.T) {
	f := newFixture(t)
	testutil.NewTestAccount(t, f.repo, testEmail)

	for _, email := range []string{testEmail, "nobody@example.com"} {
		rec := f.post(t, "/api/auth/login", map[string]string{"email": email, "password": "wrong-password"})

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid email or password", decode(t, rec)["error"])
	}
}

func TestMe_Cookie(t *testing.T) {
	f := newFixture(t)
	testutil.NewTestAccount(t, f.repo, testEmail)

	rec := f.post(t, "/api/auth/login", map[string]string{"email": testEmail, "password": testutil.DefaultPassword})
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)

	rec = f.do(t, http.MethodGet, "/api/auth/me", nil, map[string]string{"Cookie": cookie.Name + "=" + cookie.Value})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user, _ := decode(t, rec)["user"].(map[string]any)
	assert.Equal(t, testEmail, user["email"])
}

func TestMe_Unauthenticated(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/auth/me", nil, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Not authenticated", decode(t, rec)["error"])
}

func TestLogout(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/api/auth/logout", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Logged out successfully", decode(t, rec)["message"])
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
}
