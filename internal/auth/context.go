// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth provides authentication context helpers.
package auth

import (
	"context"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/ctxkeys"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/models"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/session"
)

// WithAccount stores the authenticated account and its session.
func WithAccount(ctx context.Context, acc *models.Account, data *session.Data) context.Context {
	ctx = context.WithValue(ctx, ctxkeys.Account{}, acc)
	return context.WithValue(ctx, ctxkeys.Session{}, data)
}

// GetAccount returns the authenticated account from the context, or nil if not authenticated.
func GetAccount(ctx context.Context) *models.Account {
	if acc, ok := ctx.Value(ctxkeys.Account{}).(*models.Account); ok {
		return acc
	}
	return nil
}

// GetSession returns the session of the authenticated account, or nil.
func GetSession(ctx context.Context) *session.Data {
	if data, ok := ctx.Value(ctxkeys.Session{}).(*session.Data); ok {
		return data
	}
	return nil
}

// IsAuthenticated returns true if the context has an authenticated account.
func IsAuthenticated(ctx context.Context) bool {
	return GetAccount(ctx) != nil
}
