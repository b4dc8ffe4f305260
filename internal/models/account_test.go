// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"user@example.com", "user@example.com"},
		{"  User@Example.COM ", "user@example.com"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, models.NormalizeEmail(tt.in))
		})
	}
}

func TestAccount_FullName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", (&models.Account{FirstName: "Ada", LastName: "Lovelace"}).FullName())
	assert.Equal(t, "Ada", (&models.Account{FirstName: "Ada"}).FullName())
}

func TestAccount_HasActiveOTP(t *testing.T) {
	acc := &models.Account{}
	assert.False(t, acc.HasActiveOTP())

	acc.OTPHash = ptr("abc")
	assert.False(t, acc.HasActiveOTP())

	acc.OTPExpiresAt = ptr(time.Now())
	assert.True(t, acc.HasActiveOTP())
}

func TestAccount_ClearOTP(t *testing.T) {
	acc := &models.Account{
		OTPHash:      ptr("abc"),
		OTPExpiresAt: ptr(time.Now()),
		OTPAttempts:  2,
	}

	acc.ClearOTP()

	assert.Nil(t, acc.OTPHash)
	assert.Nil(t, acc.OTPExpiresAt)
	assert.Zero(t, acc.OTPAttempts)
}

func TestAccount_ClearRateLimit(t *testing.T) {
	now := time.Now()
	acc := &models.Account{
		OTPRequestCount: 3,
		OTPWindowStart:  &now,
		OTPBlockedUntil: &now,
	}

	acc.ClearRateLimit()

	assert.Zero(t, acc.OTPRequestCount)
	assert.Nil(t, acc.OTPWindowStart)
	assert.Nil(t, acc.OTPBlockedUntil)
}

func TestAccount_ClearResetToken(t *testing.T) {
	acc := &models.Account{
		ResetTokenHash:      ptr("abc"),
		ResetTokenExpiresAt: ptr(time.Now()),
	}

	acc.ClearResetToken()

	assert.Nil(t, acc.ResetTokenHash)
	assert.Nil(t, acc.ResetTokenExpiresAt)
}

func TestAccount_JSONHidesSecrets(t *testing.T) {
	acc := &models.Account{
		ID:             7,
		PublicID:       "b7c1e0f2-0000-4000-8000-000000000000",
		Email:          "user@example.com",
		PasswordHash:   "$2a$12$secret",
		OTPHash:        ptr("otp-hash"),
		ResetTokenHash: ptr("token-hash"),
	}

	data, err := json.Marshal(acc)
	require.NoError(t, err)

	body := string(data)
	assert.Contains(t, body, `"id":"b7c1e0f2-0000-4000-8000-000000000000"`)
	assert.NotContains(t, body, "secret")
	assert.NotContains(t, body, "otp-hash")
	assert.NotContains(t, body, "token-hash")
}
