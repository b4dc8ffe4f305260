// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery_test

import (
	"testing"
	"time"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/models"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRateLimiter_AllowsUpToMax(t *testing.T) {
	limiter := recovery.NewRateLimiter(3, time.Hour, time.Hour)
	acc := &models.Account{}

	for i := range 3 {
		d := limiter.Authorize(acc, epoch.Add(time.Duration(i)*time.Minute))
		require.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 2-i, d.RequestsRemaining)
	}

	assert.Equal(t, 3, acc.OTPRequestCount)
	require.NotNil(t, acc.OTPWindowStart)
	assert.Equal(t, epoch, *acc.OTPWindowStart)
	assert.Nil(t, acc.OTPBlockedUntil)
}

func TestRateLimiter_BlocksAfterMax(t *testing.T) {
	limiter := recovery.NewRateLimiter(3, time.Hour, time.Hour)
	acc := &models.Account{}
	for range 3 {
		limiter.Authorize(acc, epoch)
	}

	now := epoch.Add(10 * time.Minute)
	d := limiter.Authorize(acc, now)

	assert.False(t, d.Allowed)
	assert.Equal(t, time.Hour, d.RetryAfter)
	require.NotNil(t, acc.OTPBlockedUntil)
	assert.Equal(t, now.Add(time.Hour), *acc.OTPBlockedUntil)
}

func TestRateLimiter_BlockedReportsRemainingWait(t *testing.T) {
	limiter := recovery.NewRateLimiter(3, time.Hour, time.Hour)
	until := epoch.Add(time.Hour)
	acc := &models.Account{OTPRequestCount: 3, OTPWindowStart: &epoch, OTPBlockedUntil: &until}

	d := limiter.Authorize(acc, epoch.Add(45*time.Minute))

	assert.False(t, d.Allowed)
	assert.Equal(t, 15*time.Minute, d.RetryAfter)
	assert.Equal(t, 3, acc.OTPRequestCount)
}

func TestRateLimiter_ExpiredBlockStartsFreshWindow(t *testing.T) {
	limiter := recovery.NewRateLimiter(3, time.Hour, time.Hour)
	start := epoch.Add(-30 * time.Minute)
	until := epoch
	acc := &models.Account{OTPRequestCount: 3, OTPWindowStart: &start, OTPBlockedUntil: &until}

	now := epoch.Add(time.Second)
	d := limiter.Authorize(acc, now)

	require.True(t, d.Allowed)
	assert.Equal(t, 2, d.RequestsRemaining)
	assert.Equal(t, 1, acc.OTPRequestCount)
	assert.Nil(t, acc.OTPBlockedUntil)
	require.NotNil(t, acc.OTPWindowStart)
	assert.Equal(t, now, *acc.OTPWindowStart)
}

func TestRateLimiter_WindowExpiry(t *testing.T) {
	limiter := recovery.NewRateLimiter(3, time.Hour, time.Hour)
	acc := &models.Account{}
	for range 3 {
		limiter.Authorize(acc, epoch)
	}

	d := limiter.Authorize(acc, epoch.Add(time.Hour+time.Second))

	require.True(t, d.Allowed)
	assert.Equal(t, 1, acc.OTPRequestCount)
	assert.Nil(t, acc.OTPBlockedUntil)
}

func TestRateLimiter_WindowBoundaryIsInclusive(t *testing.T) {
	limiter := recovery.NewRateLimiter(3, time.Hour, time.Hour)
	acc := &models.Account{}
	for range 3 {
		limiter.Authorize(acc, epoch)
	}

	d := limiter.Authorize(acc, epoch.Add(time.Hour))

	assert.False(t, d.Allowed)
}
