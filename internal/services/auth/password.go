// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// ErrWeakPassword is wrapped by every PasswordError.
var ErrWeakPassword = errors.New("password does not meet requirements")

// PasswordHasher hashes login passwords with bcrypt.
type PasswordHasher struct {
	cost  int
	dummy []byte
}

// NewPasswordHasher returns a hasher using the given bcrypt cost.
func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, cost)
	}
	// Compared against on unknown logins so both paths take the same time.
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &PasswordHasher{cost: cost, dummy: dummy}, nil
}

// Hash returns the bcrypt hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Compare reports whether password matches hash. An empty hash is
// compared against a dummy so callers cannot be timed.
func (h *PasswordHasher) Compare(hash, password string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// PasswordError describes why a password was rejected.
type PasswordError struct {
	Code      string // min_length, entirely_numeric, too_similar
	MinLength int
}

func (e *PasswordError) Error() string {
	return fmt.Sprintf("%s: %s", ErrWeakPassword, e.Code)
}

func (e *PasswordError) Unwrap() error {
	return ErrWeakPassword
}

// PasswordPolicy decides which new passwords are acceptable.
type PasswordPolicy struct {
	MinLength           int
	RejectNumeric       bool
	CheckUserSimilarity bool
}

// DefaultPasswordPolicy returns the registration policy for minLength.
func DefaultPasswordPolicy(minLength int) *PasswordPolicy {
	return &PasswordPolicy{
		MinLength:           minLength,
		RejectNumeric:       true,
		CheckUserSimilarity: true,
	}
}

// Validate returns the first rule password violates, or nil.
// userAttributes are values the password must not resemble.
func (p *PasswordPolicy) Validate(password string, userAttributes ...string) error {
	if utf8.RuneCountInString(password) < p.MinLength {
		return &PasswordError{Code: "min_length", MinLength: p.MinLength}
	}
	if p.RejectNumeric && isEntirelyNumeric(password) {
		return &PasswordError{Code: "entirely_numeric"}
	}
	if p.CheckUserSimilarity && isSimilarToUserAttributes(password, userAttributes) {
		return &PasswordError{Code: "too_similar"}
	}
	return nil
}

func isEntirelyNumeric(password string) bool {
	for _, r := range password {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return password != ""
}

func isSimilarToUserAttributes(password string, attributes []string) bool {
	passwordLower := strings.ToLower(password)

	for _, attr := range attributes {
		if utf8.RuneCountInString(attr) < 3 {
			continue
		}
		attrLower := strings.ToLower(attr)

		if strings.Contains(passwordLower, attrLower) || strings.Contains(attrLower, passwordLower) {
			return true
		}
		if similarity(passwordLower, attrLower) > 0.7 {
			return true
		}
	}

	return false
}

// similarity is the longest common subsequence relative to the longer input.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	return float64(longestCommonSubsequence(a, b)) / float64(max(len(a), len(b)))
}

func longestCommonSubsequence(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
