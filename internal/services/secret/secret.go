// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package secret hashes short-lived secrets such as one-time passwords and
// reset tokens for storage.
//
// Hashes are deterministic for a given pepper so that a token hash can be
// used as a lookup key. The pepper never leaves the process; a stolen
// database alone does not allow brute forcing the small OTP space.
package secret

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/argon2"
)

const keyLength = 32

// ErrEmptyPepper is returned by New when no pepper is configured.
var ErrEmptyPepper = errors.New("secret pepper must not be empty")

// Params configures the argon2id work factor.
type Params struct {
	Pepper    []byte
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// Hasher computes keyed one-way hashes.
type Hasher struct {
	params Params
}

// New returns a Hasher for the given parameters.
func New(p Params) (*Hasher, error) {
	if len(p.Pepper) == 0 {
		return nil, ErrEmptyPepper
	}
	if p.Time == 0 {
		p.Time = 1
	}
	if p.MemoryKiB < 8 {
		p.MemoryKiB = 8
	}
	if p.Threads == 0 {
		p.Threads = 1
	}
	return &Hasher{params: p}, nil
}

// Hash returns the hex encoded hash of plaintext.
func (h *Hasher) Hash(plaintext string) string {
	key := argon2.IDKey([]byte(plaintext), h.params.Pepper, h.params.Time, h.params.MemoryKiB, h.params.Threads, keyLength)
	return hex.EncodeToString(key)
}

// Equal reports whether plaintext hashes to hash, in constant time.
func (h *Hasher) Equal(plaintext, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(h.Hash(plaintext)), []byte(hash)) == 1
}
