// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware

import (
	"log/slog"
	"time"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/i18n"
	"github.com/didip/tollbooth/v6"
	"github.com/didip/tollbooth/v6/limiter"
	"github.com/labstack/echo/v4"
)

// IPRateLimit throttles requests per client IP to requestsPerSecond with a
// matching burst. Idle buckets are dropped after an hour.
func IPRateLimit(requestsPerSecond float64) echo.MiddlewareFunc {
	lmt := tollbooth.NewLimiter(requestsPerSecond, &limiter.ExpirableOptions{
		DefaultExpirationTTL: time.Hour,
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if httpErr := tollbooth.LimitByRequest(lmt, c.Response(), c.Request()); httpErr != nil {
				slog.Warn("http_rate_limited", "ip", c.RealIP(), "path", c.Request().URL.Path)
				return c.JSON(httpErr.StatusCode, map[string]any{
					"success": false,
					"error":   i18n.T(c.Request().Context(), "error_too_many_requests"),
				})
			}
			return next(c)
		}
	}
}
