// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/i18n"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/recovery"
	"github.com/labstack/echo/v4"
)

type requestOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (r *requestOTPRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
}

type verifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,otp"`
}

func (r *verifyOTPRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.OTP = strings.TrimSpace(r.OTP)
}

type resetPasswordRequest struct {
	Email           string `json:"email" validate:"required,email"`
	ResetToken      string `json:"resetToken" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

func (r *resetPasswordRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.ResetToken = strings.TrimSpace(r.ResetToken)
}

// RequestOTP mails a one-time code to the account behind an email address.
// Unknown addresses get a generic success response.
func (h *Handlers) RequestOTP(c echo.Context) error {
	var req requestOTPRequest
	if err := bind(c, &req); err != nil {
		return invalidRequest(c, err)
	}

	ctx := c.Request().Context()
	res, err := h.recovery.RequestOTP(ctx, req.Email)
	if err != nil {
		return h.recoveryError(c, err)
	}

	if !res.Delivered {
		return c.JSON(http.StatusOK, map[string]any{
			"success": true,
			"message": i18n.T(ctx, "otp_generic_response"),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":           true,
		"message":           i18n.T(ctx, "otp_sent"),
		"requestsRemaining": res.RequestsRemaining,
		"expiresInMinutes":  int(res.ExpiresIn.Minutes()),
	})
}

// VerifyOTP exchanges a correct code for a reset token.
func (h *Handlers) VerifyOTP(c echo.Context) error {
	var req verifyOTPRequest
	if err := bind(c, &req); err != nil {
		return invalidRequest(c, err)
	}

	ctx := c.Request().Context()
	token, err := h.recovery.VerifyOTP(ctx, req.Email, req.OTP)
	if err != nil {
		return h.recoveryError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"message":    i18n.T(ctx, "otp_verified"),
		"resetToken": token,
	})
}

// ResetPassword sets a new password using a reset token and logs the
// account in.
func (h *Handlers) ResetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := bind(c, &req); err != nil {
		return invalidRequest(c, err)
	}

	ctx := c.Request().Context()
	res, err := h.recovery.ResetPassword(ctx, recovery.ResetParams{
		Email:           req.Email,
		Token:           req.ResetToken,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		return h.recoveryError(c, err)
	}

	c.SetCookie(res.Session.Cookie)
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": i18n.T(ctx, "password_reset_success"),
		"token":   res.Session.Token,
		"user":    res.Account,
	})
}

// recoveryError maps recovery failures to responses.
func (h *Handlers) recoveryError(c echo.Context, err error) error {
	ctx := c.Request().Context()

	var limited *recovery.RateLimitError
	var mismatch *recovery.MismatchError
	switch {
	case errors.As(err, &limited):
		minutes := limited.RetryAfterMinutes()
		c.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds()))))
		return c.JSON(http.StatusTooManyRequests, map[string]any{
			"success":           false,
			"error":             i18n.TPlural(ctx, "otp_rate_limited", minutes),
			"retryAfterMinutes": minutes,
		})
	case errors.As(err, &mismatch):
		return fail(c, http.StatusBadRequest, i18n.TPlural(ctx, "otp_mismatch", mismatch.AttemptsRemaining))
	case errors.Is(err, recovery.ErrInvalidOTP):
		return fail(c, http.StatusBadRequest, i18n.T(ctx, "otp_invalid"))
	case errors.Is(err, recovery.ErrNoActiveOTP):
		return fail(c, http.StatusBadRequest, i18n.T(ctx, "otp_not_requested"))
	case errors.Is(err, recovery.ErrOTPExpired):
		return fail(c, http.StatusBadRequest, i18n.T(ctx, "otp_expired"))
	case errors.Is(err, recovery.ErrAttemptsExhausted):
		return fail(c, http.StatusBadRequest, i18n.T(ctx, "otp_attempts_exhausted"))
	case errors.Is(err, recovery.ErrPasswordMismatch):
		return fail(c, http.StatusBadRequest, i18n.T(ctx, "password_mismatch"))
	case errors.Is(err, recovery.ErrPasswordTooShort):
		return fail(c, http.StatusBadRequest, i18n.TData(ctx, "password_too_short", map[string]any{"Min": h.minPasswordLength}))
	case errors.Is(err, recovery.ErrInvalidResetToken):
		return fail(c, http.StatusBadRequest, i18n.T(ctx, "reset_token_invalid"))
	case errors.Is(err, recovery.ErrDeliveryFailed):
		return serverError(c, err, "otp_delivery_failed")
	default:
		return serverError(c, err, "error_generic")
	}
}
