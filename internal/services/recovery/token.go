// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/models"
)

// TokenIssuer turns a verified OTP into a reset authorization.
type TokenIssuer struct {
	hasher Hasher
	random io.Reader
	size   int
	ttl    time.Duration
}

// NewTokenIssuer creates tokens of size random bytes that expire after ttl.
func NewTokenIssuer(hasher Hasher, size int, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		hasher: hasher,
		random: rand.Reader,
		size:   size,
		ttl:    ttl,
	}
}

// Issue stores the hash of a fresh token on acc and returns the hex
// encoded plaintext.
func (t *TokenIssuer) Issue(acc *models.Account, now time.Time) (string, error) {
	buf := make([]byte, t.size)
	if _, err := io.ReadFull(t.random, buf); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}

	token := hex.EncodeToString(buf)
	hash := t.hasher.Hash(token)
	expires := now.Add(t.ttl)
	acc.ResetTokenHash = &hash
	acc.ResetTokenExpiresAt = &expires

	return token, nil
}
