// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
	"time"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/models"
)

// Hasher turns short-lived secrets into their stored form.
type Hasher interface {
	Hash(plaintext string) string
	Equal(plaintext, hash string) bool
}

// VerifyStatus enumerates the outcomes of an OTP verification.
type VerifyStatus int

const (
	VerifySuccess VerifyStatus = iota
	VerifyNoActiveOTP
	VerifyExpired
	VerifyAttemptsExhausted
	VerifyMismatch
)

func (s VerifyStatus) String() string {
	switch s {
	case VerifySuccess:
		return "success"
	case VerifyNoActiveOTP:
		return "no_active_otp"
	case VerifyExpired:
		return "expired"
	case VerifyAttemptsExhausted:
		return "attempts_exhausted"
	case VerifyMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// VerifyResult carries the status and, for mismatches, the attempts left.
type VerifyResult struct {
	Status            VerifyStatus
	AttemptsRemaining int
}

// GenerateOTP returns a uniformly distributed decimal code with the given
// number of digits. Leading zeros are kept.
func GenerateOTP(r io.Reader, digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(r, limit)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

// OTPManager issues and checks one-time passwords on an account.
type OTPManager struct {
	hasher      Hasher
	random      io.Reader
	digits      int
	ttl         time.Duration
	maxAttempts int
}

// NewOTPManager creates a manager for codes of digits length that expire
// after ttl and tolerate maxAttempts failed checks.
func NewOTPManager(hasher Hasher, digits int, ttl time.Duration, maxAttempts int) *OTPManager {
	return &OTPManager{
		hasher:      hasher,
		random:      rand.Reader,
		digits:      digits,
		ttl:         ttl,
		maxAttempts: maxAttempts,
	}
}

// TTL returns how long an issued code stays valid.
func (m *OTPManager) TTL() time.Duration {
	return m.ttl
}

// Generate creates a new code and its hash without touching any account.
func (m *OTPManager) Generate() (otp, hash string, err error) {
	otp, err = GenerateOTP(m.random, m.digits)
	if err != nil {
		return "", "", err
	}
	return otp, m.hasher.Hash(otp), nil
}

// Apply makes hash the active OTP of acc, replacing any previous one.
func (m *OTPManager) Apply(acc *models.Account, hash string, now time.Time) {
	expires := now.Add(m.ttl)
	acc.OTPHash = &hash
	acc.OTPExpiresAt = &expires
	acc.OTPAttempts = 0
}

// Issue generates a code, stores its hash on acc and returns the plaintext.
func (m *OTPManager) Issue(acc *models.Account, now time.Time) (string, error) {
	otp, hash, err := m.Generate()
	if err != nil {
		return "", err
	}
	m.Apply(acc, hash, now)
	return otp, nil
}

// Verify checks candidate against the active OTP of acc.
func (m *OTPManager) Verify(acc *models.Account, candidate string, now time.Time) VerifyResult {
	return m.VerifyHash(acc, m.hasher.Hash(candidate), now)
}

// VerifyHash is Verify for a candidate that has already been hashed. It
// updates the OTP and rate-limit fields of acc; the caller persists them.
func (m *OTPManager) VerifyHash(acc *models.Account, candidateHash string, now time.Time) VerifyResult {
	if !acc.HasActiveOTP() {
		return VerifyResult{Status: VerifyNoActiveOTP}
	}

	if now.After(*acc.OTPExpiresAt) {
		acc.ClearOTP()
		return VerifyResult{Status: VerifyExpired}
	}

	if acc.OTPAttempts >= m.maxAttempts {
		acc.ClearOTP()
		return VerifyResult{Status: VerifyAttemptsExhausted}
	}

	if subtle.ConstantTimeCompare([]byte(candidateHash), []byte(*acc.OTPHash)) != 1 {
		acc.OTPAttempts++
		return VerifyResult{
			Status:            VerifyMismatch,
			AttemptsRemaining: m.maxAttempts - acc.OTPAttempts,
		}
	}

	acc.ClearOTP()
	acc.ClearRateLimit()
	return VerifyResult{Status: VerifySuccess}
}
