// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package session issues and parses login sessions. A session is handed out
// twice: as a signed bearer token for API clients and as an encoded cookie
// for browsers. Both carry the same data and expire together.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/config"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/securecookie"
)

const keyLength = 32

// Data is the identity carried by a session.
type Data struct {
	AccountID string    `json:"aid"` // public account ID
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"exp"`
}

// Session is a freshly issued login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Cookie    *http.Cookie
}

// Claims are the bearer token claims.
type Claims struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	jwt.RegisteredClaims
}

// Manager creates and validates sessions.
type Manager struct {
	cookie     *securecookie.SecureCookie
	signingKey []byte
	cookieName string
	issuer     string
	maxAge     int
	secure     bool
}

// NewManager creates a session manager. An empty hash key is replaced by a
// random one, which invalidates all sessions on restart.
func NewManager(cfg *config.SessionConfig, secure bool) (*Manager, error) {
	hashKey, err := decodeKey(cfg.HashKey, "hash")
	if err != nil {
		return nil, err
	}
	if hashKey == nil {
		slog.Warn("session hash key not configured, generating a random key")
		hashKey = make([]byte, keyLength)
		if _, err := rand.Read(hashKey); err != nil {
			return nil, fmt.Errorf("failed to generate session hash key: %w", err)
		}
	}

	blockKey, err := decodeKey(cfg.BlockKey, "block")
	if err != nil {
		return nil, err
	}

	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(cfg.MaxAge)

	return &Manager{
		cookie:     sc,
		signingKey: hashKey,
		cookieName: cfg.CookieName,
		issuer:     cfg.Issuer,
		maxAge:     cfg.MaxAge,
		secure:     secure,
	}, nil
}

func decodeKey(value, name string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid session %s key: %w", name, err)
	}
	if len(key) != keyLength {
		return nil, fmt.Errorf("invalid session %s key: must be %d bytes, got %d", name, keyLength, len(key))
	}
	return key, nil
}

// Issue logs acc in and returns both token and cookie.
func (m *Manager) Issue(acc *models.Account) (*Session, error) {
	now := time.Now()
	expiresAt := now.Add(time.Duration(m.maxAge) * time.Second)

	claims := Claims{
		Email:     acc.Email,
		FirstName: acc.FirstName,
		LastName:  acc.LastName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acc.PublicID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	cookie, err := m.create(Data{AccountID: acc.PublicID, Email: acc.Email, ExpiresAt: expiresAt})
	if err != nil {
		return nil, err
	}

	return &Session{Token: token, ExpiresAt: expiresAt, Cookie: cookie}, nil
}

func (m *Manager) create(data Data) (*http.Cookie, error) {
	encoded, err := m.cookie.Encode(m.cookieName, data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}

	return &http.Cookie{
		Name:     m.cookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   m.maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// ParseToken validates a bearer token.
func (m *Manager) ParseToken(token string) (*Data, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(m.issuer),
	)

	var claims Claims
	parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.signingKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return &Data{
		AccountID: claims.Subject,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Parse returns the session of r from the Authorization header or the
// session cookie. A missing or invalid session yields nil without error.
func (m *Manager) Parse(r *http.Request) (*Data, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return nil, nil
		}
		data, err := m.ParseToken(strings.TrimSpace(token))
		if err != nil {
			slog.Debug("invalid session token", "error", err)
			return nil, nil
		}
		return data, nil
	}

	cookie, err := r.Cookie(m.cookieName)
	if errors.Is(err, http.ErrNoCookie) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var data Data
	if err := m.cookie.Decode(m.cookieName, cookie.Value, &data); err != nil {
		return nil, nil
	}
	if time.Now().After(data.ExpiresAt) {
		return nil, nil
	}

	return &data, nil
}

// Clear returns a cookie that removes the session cookie.
func (m *Manager) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
