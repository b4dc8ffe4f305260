// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/config"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/handlers"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/metrics"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/repository"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/auth"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/email"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/recovery"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/secret"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/session"
	"github.com/vinovest/sqlx"
)

const pepperLength = 32

// app holds the long-lived services behind the HTTP layer.
type app struct {
	repo     *repository.Repository
	sessions *session.Manager
	metrics  *metrics.Metrics
	recovery *recovery.Service
	auth     *auth.Service
	handlers *handlers.Handlers
}

func newApp(cfg *config.Config, db *sqlx.DB) (*app, error) {
	repo := repository.New(db)

	sessions, err := session.NewManager(&cfg.Session, cfg.Secure())
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	mailer, err := email.NewService(&cfg.SMTP)
	if err != nil {
		return nil, fmt.Errorf("failed to create email service: %w", err)
	}

	pepper, err := loadPepper(cfg.Recovery.SecretPepper)
	if err != nil {
		return nil, err
	}
	hasher, err := secret.New(secret.Params{
		Pepper:    pepper,
		Time:      cfg.Recovery.SecretHashTime,
		MemoryKiB: cfg.Recovery.SecretHashMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create secret hasher: %w", err)
	}

	passwords, err := auth.NewPasswordHasher(cfg.Recovery.BcryptCost)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	recoverySvc := recovery.NewService(cfg.Recovery, repo, hasher, passwords, sessions, mailer,
		recovery.WithMetrics(m),
	)
	authSvc := auth.NewService(repo, passwords, auth.DefaultPasswordPolicy(cfg.Recovery.PasswordMinLength), sessions, mailer,
		auth.WithMetrics(m),
	)

	return &app{
		repo:     repo,
		sessions: sessions,
		metrics:  m,
		recovery: recoverySvc,
		auth:     authSvc,
		handlers: handlers.New(recoverySvc, authSvc, sessions, cfg.Recovery.PasswordMinLength),
	}, nil
}

// Close waits for mails still being sent in the background.
func (a *app) Close() {
	a.recovery.Close()
	a.auth.Close()
}

// loadPepper decodes the configured hex pepper. Without one a random pepper
// is used, so codes and reset tokens do not survive a restart.
func loadPepper(value string) ([]byte, error) {
	if value != "" {
		pepper, err := hex.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("invalid secret pepper: %w", err)
		}
		if len(pepper) < 16 {
			return nil, fmt.Errorf("invalid secret pepper: need at least 16 bytes, got %d", len(pepper))
		}
		return pepper, nil
	}

	slog.Warn("secret pepper not configured, generating a random pepper")
	pepper := make([]byte, pepperLength)
	if _, err := rand.Read(pepper); err != nil {
		return nil, fmt.Errorf("failed to generate secret pepper: %w", err)
	}
	return pepper, nil
}
