// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/auth"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/i18n"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/models"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/repository"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/session"
	"github.com/labstack/echo/v4"
)

// AccountLoader loads the account behind a session.
type AccountLoader interface {
	GetAccountByPublicID(ctx context.Context, publicID string) (*models.Account, error)
}

// LoadSession puts the account of a valid session into the request context.
// Requests without a session pass through unchanged.
func LoadSession(sessions *session.Manager, accounts AccountLoader) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			data, err := sessions.Parse(req)
			if err != nil {
				slog.Debug("failed to parse session", "error", err)
			}
			if data == nil {
				return next(c)
			}

			acc, err := accounts.GetAccountByPublicID(req.Context(), data.AccountID)
			switch {
			case errors.Is(err, repository.ErrNotFound):
				// Account deleted after the session was issued.
				return next(c)
			case err != nil:
				return err
			}

			c.SetRequest(req.WithContext(auth.WithAccount(req.Context(), acc, data)))
			return next(c)
		}
	}
}

// RequireAuth rejects requests without an authenticated account.
func RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if !auth.IsAuthenticated(ctx) {
			return c.JSON(http.StatusUnauthorized, map[string]any{
				"success": false,
				"error":   i18n.T(ctx, "error_unauthorized"),
			})
		}
		return next(c)
	}
}
