// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/errutil"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/i18n"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// normalizer is implemented by request bodies that clean their input
// before validation.
type normalizer interface {
	normalize()
}

// bind decodes the request body into req and validates it.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	if n, ok := req.(normalizer); ok {
		n.normalize()
	}
	return c.Validate(req)
}

// fail writes the common error envelope.
func fail(c echo.Context, code int, message string) error {
	return c.JSON(code, map[string]any{
		"success": false,
		"error":   message,
	})
}

// invalidRequest answers a failed bind. Malformed bodies and validation
// failures are client errors; anything else is a server fault.
func invalidRequest(c echo.Context, err error) error {
	ctx := c.Request().Context()

	var verrs validator.ValidationErrors
	var he *echo.HTTPError
	switch {
	case errors.As(err, &verrs):
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return c.JSON(http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   i18n.T(ctx, "error_required_fields"),
			"fields":  fields,
		})
	case errors.As(err, &he) && he.Code < http.StatusInternalServerError:
		return fail(c, http.StatusBadRequest, i18n.T(ctx, "error_required_fields"))
	default:
		return serverError(c, err, "error_generic")
	}
}

// serverError logs err with its request ID and answers 500 with the
// localized messageID. Internal details never reach the client.
func serverError(c echo.Context, err error, messageID string) error {
	errutil.LogError(slog.Default(), "request_failed", err,
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		"method", c.Request().Method,
		"path", c.Path(),
	)
	return fail(c, http.StatusInternalServerError, i18n.T(c.Request().Context(), messageID))
}

// ErrorHandler renders errors that escape handlers and middleware using the
// common error envelope.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code >= http.StatusInternalServerError {
		err = serverError(c, err, "error_generic")
	} else {
		message := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok && m != "" {
			message = m
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(he.Code)
		} else {
			err = fail(c, he.Code, message)
		}
	}
	if err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}
