// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrRateLimited       = errors.New("too many otp requests")
	ErrDeliveryFailed    = errors.New("failed to deliver otp")
	ErrInvalidOTP        = errors.New("invalid or expired otp")
	ErrNoActiveOTP       = errors.New("no otp requested")
	ErrOTPExpired        = errors.New("otp has expired")
	ErrAttemptsExhausted = errors.New("too many failed otp attempts")
	ErrOTPMismatch       = errors.New("otp does not match")
	ErrPasswordMismatch  = errors.New("passwords do not match")
	ErrPasswordTooShort  = errors.New("password too short")
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
)

// RateLimitError reports a refused OTP request and when to retry.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// RetryAfterMinutes rounds the wait up to whole minutes.
func (e *RateLimitError) RetryAfterMinutes() int {
	return int(math.Ceil(e.RetryAfter.Minutes()))
}

// MismatchError reports a wrong OTP and how many attempts remain.
type MismatchError struct {
	AttemptsRemaining int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: %d attempts remaining", ErrOTPMismatch, e.AttemptsRemaining)
}

func (e *MismatchError) Unwrap() error {
	return ErrOTPMismatch
}
