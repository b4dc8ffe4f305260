// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"net/http"
	"strings"

	authctx "codeberg.org/oliverandrich/go-otp-recovery/internal/auth"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/i18n"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/auth"
	"github.com/labstack/echo/v4"
)

type registerRequest struct {
	FullName    string `json:"fullName" validate:"required,max=200"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	PhoneNumber string `json:"phoneNumber" validate:"omitempty,max=32"`
}

func (r *registerRequest) normalize() {
	r.FullName = strings.TrimSpace(r.FullName)
	r.Email = strings.TrimSpace(r.Email)
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (r *loginRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
}

// Register creates an account and logs it in.
func (h *Handlers) Register(c echo.Context) error {
	var req registerRequest
	if err := bind(c, &req); err != nil {
		return invalidRequest(c, err)
	}

	ctx := c.Request().Context()
	res, err := h.auth.Register(ctx, auth.RegisterParams{
		FullName:    req.FullName,
		Email:       req.Email,
		Password:    req.Password,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		return h.authError(c, err)
	}

	c.SetCookie(res.Session.Cookie)
	return c.JSON(http.StatusCreated, map[string]any{
		"success": true,
		"message": i18n.TData(ctx, "register_success", map[string]any{"Name": res.Account.FirstName}),
		"token":   res.Session.Token,
		"user":    res.Account,
	})
}

// Login checks credentials and opens a session.
func (h *Handlers) Login(c echo.Context) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return invalidRequest(c, err)
	}

	ctx := c.Request().Context()
	res, err := h.auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		return h.authError(c, err)
	}

	c.SetCookie(res.Session.Cookie)
	return c.JSON(http.StatusOK, map[string]any{
		"success":      true,
		"message":      i18n.T(ctx, "login_success"),
		"token":        res.Session.Token,
		"user":         res.Account,
		"isFirstLogin": res.IsFirstLogin,
	})
}

// Me returns the logged in account.
func (h *Handlers) Me(c echo.Context) error {
	acc := authctx.GetAccount(c.Request().Context())
	if acc == nil {
		return fail(c, http.StatusUnauthorized, i18n.T(c.Request().Context(), "error_unauthorized"))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"user":    acc,
	})
}

// Logout clears the session cookie. Bearer tokens stay valid until they
// expire.
func (h *Handlers) Logout(c echo.Context) error {
	c.SetCookie(h.sessions.Clear())
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": i18n.T(c.Request().Context(), "logout_success"),
	})
}

func (h *Handlers) authError(c echo.Context, err error) error {
	ctx := c.Request().Context()

	var weak *auth.PasswordError
	switch {
	case errors.As(err, &weak):
		switch weak.Code {
		case "min_length":
			return fail(c, http.StatusBadRequest, i18n.TData(ctx, "password_too_short", map[string]any{"Min": weak.MinLength}))
		case "entirely_numeric":
			return fail(c, http.StatusBadRequest, i18n.T(ctx, "password_numeric"))
		default:
			return fail(c, http.StatusBadRequest, i18n.T(ctx, "password_too_similar"))
		}
	case errors.Is(err, auth.ErrAccountExists):
		return fail(c, http.StatusConflict, i18n.T(ctx, "register_exists"))
	case errors.Is(err, auth.ErrInvalidCredentials):
		return fail(c, http.StatusUnauthorized, i18n.T(ctx, "login_invalid"))
	default:
		return serverError(c, err, "error_generic")
	}
}
