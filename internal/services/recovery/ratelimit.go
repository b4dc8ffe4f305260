// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"time"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/models"
)

// RateDecision is the outcome of an OTP request check.
type RateDecision struct {
	Allowed           bool
	RetryAfter        time.Duration
	RequestsRemaining int
}

// RateLimiter caps OTP requests per account within a rolling window.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	block       time.Duration
}

// NewRateLimiter allows maxRequests per window and refuses further requests
// for block once the window is exhausted.
func NewRateLimiter(maxRequests int, window, block time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		block:       block,
	}
}

// Authorize counts one OTP request against acc at now and updates its
// rate-limit fields. The caller must persist acc whatever the decision.
func (l *RateLimiter) Authorize(acc *models.Account, now time.Time) RateDecision {
	if acc.OTPBlockedUntil != nil {
		if now.Before(*acc.OTPBlockedUntil) {
			return RateDecision{RetryAfter: acc.OTPBlockedUntil.Sub(now)}
		}
		// Block served: start over with a fresh window.
		acc.ClearRateLimit()
	}

	if acc.OTPWindowStart != nil && now.Sub(*acc.OTPWindowStart) > l.window {
		acc.ClearRateLimit()
	}

	if acc.OTPRequestCount >= l.maxRequests {
		until := now.Add(l.block)
		acc.OTPBlockedUntil = &until
		return RateDecision{RetryAfter: l.block}
	}

	acc.OTPRequestCount++
	if acc.OTPWindowStart == nil {
		start := now
		acc.OTPWindowStart = &start
	}

	return RateDecision{
		Allowed:           true,
		RequestsRemaining: l.maxRequests - acc.OTPRequestCount,
	}
}
