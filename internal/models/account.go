// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import (
	"strings"
	"time"
)

// Account is a registered user together with the state of its current
// password recovery cycle. Recovery fields are nil when no cycle is active.
type Account struct { //nolint:govet // fieldalignment: readability over optimization
	ID           int64      `db:"id" json:"-"`
	PublicID     string     `db:"public_id" json:"id"`
	Email        string     `db:"email" json:"email"`
	FirstName    string     `db:"first_name" json:"firstName"`
	LastName     string     `db:"last_name" json:"lastName"`
	PhoneNumber  string     `db:"phone_number" json:"phoneNumber,omitempty"`
	PasswordHash string     `db:"password_hash" json:"-"`
	LoginCount   int        `db:"login_count" json:"loginCount"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"lastLogin,omitempty"`

	OTPHash         *string    `db:"otp_hash" json:"-"`
	OTPExpiresAt    *time.Time `db:"otp_expires_at" json:"-"`
	OTPAttempts     int        `db:"otp_attempts" json:"-"`
	OTPRequestCount int        `db:"otp_request_count" json:"-"`
	OTPWindowStart  *time.Time `db:"otp_window_start" json:"-"`
	OTPBlockedUntil *time.Time `db:"otp_blocked_until" json:"-"`

	ResetTokenHash      *string    `db:"reset_token_hash" json:"-"`
	ResetTokenExpiresAt *time.Time `db:"reset_token_expires_at" json:"-"`

	Version   int64     `db:"version" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// NormalizeEmail returns the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FullName joins first and last name.
func (a *Account) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// HasActiveOTP reports whether an OTP has been issued and not yet cleared.
func (a *Account) HasActiveOTP() bool {
	return a.OTPHash != nil && a.OTPExpiresAt != nil
}

// ClearOTP removes the current OTP and its attempt counter.
func (a *Account) ClearOTP() {
	a.OTPHash = nil
	a.OTPExpiresAt = nil
	a.OTPAttempts = 0
}

// ClearRateLimit resets the OTP request window.
func (a *Account) ClearRateLimit() {
	a.OTPRequestCount = 0
	a.OTPWindowStart = nil
	a.OTPBlockedUntil = nil
}

// ClearResetToken removes the reset authorization.
func (a *Account) ClearResetToken() {
	a.ResetTokenHash = nil
	a.ResetTokenExpiresAt = nil
}
