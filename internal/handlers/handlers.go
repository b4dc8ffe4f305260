// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/auth"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/recovery"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/session"
	"github.com/labstack/echo/v4"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	recovery *recovery.Service
	auth     *auth.Service
	sessions *session.Manager

	minPasswordLength int
}

// New creates a new Handlers instance.
func New(rec *recovery.Service, authSvc *auth.Service, sessions *session.Manager, minPasswordLength int) *Handlers {
	return &Handlers{
		recovery:          rec,
		auth:              authSvc,
		sessions:          sessions,
		minPasswordLength: minPasswordLength,
	}
}

// Health returns the health status.
func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
