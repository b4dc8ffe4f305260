// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"codeberg.org/oliverandrich/go-otp-recovery/internal/config"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/middleware"
	"github.com/labstack/echo/v4"
)

func setupRoutes(e *echo.Echo, cfg *config.Config, a *app) {
	h := a.handlers

	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))

	api := e.Group("/api/auth")
	if rps := cfg.RateLimit.RequestsPerSecond; rps > 0 {
		api.Use(middleware.IPRateLimit(rps))
	}

	// Password recovery
	api.POST("/request-otp", h.RequestOTP)
	api.POST("/verify-otp", h.VerifyOTP)
	api.POST("/reset-password", h.ResetPassword)

	// Accounts
	api.POST("/register", h.Register)
	api.POST("/login", h.Login)
	api.POST("/logout", h.Logout)
	api.GET("/me", h.Me, middleware.RequireAuth)
}
