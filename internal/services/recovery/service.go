// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/config"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/metrics"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/models"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/repository"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/session"
	"github.com/samber/oops"
)

// Store is the account persistence the recovery flow needs.
type Store interface {
	UpdateAccount(ctx context.Context, email string, fn func(*models.Account) error) (*models.Account, error)
	GetAccountByResetToken(ctx context.Context, email, tokenHash string, now time.Time) (*models.Account, error)
	ConsumeResetToken(ctx context.Context, id int64, tokenHash, passwordHash string) error
}

// Mailer delivers recovery mails.
type Mailer interface {
	SendOTP(ctx context.Context, acc *models.Account, otp string, ttl time.Duration) error
	SendPasswordChanged(ctx context.Context, acc *models.Account) error
}

// PasswordHasher produces the stored form of a login password.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// SessionIssuer logs an account in.
type SessionIssuer interface {
	Issue(acc *models.Account) (*session.Session, error)
}

// OTPRequest describes an accepted OTP request. Delivered is false when no
// account exists for the address; callers answer both cases identically.
type OTPRequest struct {
	Delivered         bool
	RequestsRemaining int
	ExpiresIn         time.Duration
}

// ResetParams are the inputs of a password reset.
type ResetParams struct {
	Email           string
	Token           string
	NewPassword     string
	ConfirmPassword string
}

// ResetResult is returned after a successful password reset.
type ResetResult struct {
	Account *models.Account
	Session *session.Session
}

// Service runs the request, verify and reset steps of password recovery.
type Service struct {
	store     Store
	mailer    Mailer
	passwords PasswordHasher
	sessions  SessionIssuer
	hasher    Hasher
	limiter   *RateLimiter
	otps      *OTPManager
	tokens    *TokenIssuer
	metrics   *metrics.Metrics
	now       func() time.Time

	minPasswordLength int

	notifications sync.WaitGroup
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithMetrics records outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService wires the recovery components from cfg.
func NewService(
	cfg config.RecoveryConfig,
	store Store,
	hasher Hasher,
	passwords PasswordHasher,
	sessions SessionIssuer,
	mailer Mailer,
	opts ...Option,
) *Service {
	s := &Service{
		store:             store,
		mailer:            mailer,
		passwords:         passwords,
		sessions:          sessions,
		hasher:            hasher,
		limiter:           NewRateLimiter(cfg.MaxRequests, cfg.RequestWindow, cfg.BlockDuration),
		otps:              NewOTPManager(hasher, cfg.OTPDigits, cfg.OTPTTL, cfg.OTPMaxAttempts),
		tokens:            NewTokenIssuer(hasher, cfg.ResetTokenBytes, cfg.ResetTokenTTL),
		now:               time.Now,
		minPasswordLength: cfg.PasswordMinLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close waits for pending notification mails.
func (s *Service) Close() {
	s.notifications.Wait()
}

// RequestOTP counts the request against the account's rate limit, then
// issues a new OTP and mails it. The limit is committed before the OTP is
// generated.
func (s *Service) RequestOTP(ctx context.Context, email string) (*OTPRequest, error) {
	email = models.NormalizeEmail(email)
	now := s.now()

	var decision RateDecision
	_, err := s.store.UpdateAccount(ctx, email, func(acc *models.Account) error {
		decision = s.limiter.Authorize(acc, now)
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		slog.Info("otp_requested", "email", email, "result", "unknown_account")
		s.metrics.OTPRequested(metrics.OutcomeUnknownAccount)
		return &OTPRequest{}, nil
	}
	if err != nil {
		return nil, oops.Code("RECOVERY_STORE").With("operation", "authorize").Wrap(err)
	}

	if !decision.Allowed {
		slog.Warn("otp_rate_limited", "email", email, "retry_after", decision.RetryAfter)
		s.metrics.OTPRequested(metrics.OutcomeRateLimited)
		return nil, &RateLimitError{RetryAfter: decision.RetryAfter}
	}

	otp, hash, err := s.otps.Generate()
	if err != nil {
		return nil, oops.Code("RECOVERY_HASH").With("operation", "generate_otp").Wrap(err)
	}

	acc, err := s.store.UpdateAccount(ctx, email, func(acc *models.Account) error {
		s.otps.Apply(acc, hash, now)
		return nil
	})
	if err != nil {
		return nil, oops.Code("RECOVERY_STORE").With("operation", "issue_otp").Wrap(err)
	}

	if err := s.mailer.SendOTP(ctx, acc, otp, s.otps.TTL()); err != nil {
		s.metrics.OTPRequested(metrics.OutcomeDeliveryFailed)
		return nil, oops.Code("RECOVERY_DELIVERY").
			With("account_id", acc.ID).
			Wrap(fmt.Errorf("%w: %w", ErrDeliveryFailed, err))
	}

	slog.Info("otp_requested", "account_id", acc.ID, "requests_remaining", decision.RequestsRemaining)
	s.metrics.OTPRequested(metrics.OutcomeSuccess)

	return &OTPRequest{
		Delivered:         true,
		RequestsRemaining: decision.RequestsRemaining,
		ExpiresIn:         s.otps.TTL(),
	}, nil
}

// VerifyOTP checks otp for email. On success the OTP is consumed and a
// reset token is issued in the same update; the plaintext token is returned.
func (s *Service) VerifyOTP(ctx context.Context, email, otp string) (string, error) {
	email = models.NormalizeEmail(email)
	now := s.now()
	candidate := s.hasher.Hash(otp)

	var (
		result VerifyResult
		token  string
	)
	acc, err := s.store.UpdateAccount(ctx, email, func(acc *models.Account) error {
		token = ""
		result = s.otps.VerifyHash(acc, candidate, now)
		if result.Status != VerifySuccess {
			return nil
		}
		var issueErr error
		token, issueErr = s.tokens.Issue(acc, now)
		return issueErr
	})
	if errors.Is(err, repository.ErrNotFound) {
		slog.Warn("otp_verify_failed", "email", email, "reason", "unknown_account")
		s.metrics.OTPVerified(metrics.OutcomeUnknownAccount)
		return "", ErrInvalidOTP
	}
	if err != nil {
		return "", oops.Code("RECOVERY_STORE").With("operation", "verify_otp").Wrap(err)
	}

	s.metrics.OTPVerified(result.Status.String())

	switch result.Status {
	case VerifySuccess:
		slog.Info("otp_verified", "account_id", acc.ID)
		return token, nil
	case VerifyNoActiveOTP:
		slog.Warn("otp_verify_failed", "account_id", acc.ID, "reason", result.Status.String())
		return "", ErrNoActiveOTP
	case VerifyExpired:
		slog.Warn("otp_verify_failed", "account_id", acc.ID, "reason", result.Status.String())
		return "", ErrOTPExpired
	case VerifyAttemptsExhausted:
		slog.Warn("otp_verify_failed", "account_id", acc.ID, "reason", result.Status.String())
		return "", ErrAttemptsExhausted
	default:
		slog.Warn("otp_verify_failed", "account_id", acc.ID, "reason", result.Status.String(),
			"attempts_remaining", result.AttemptsRemaining)
		return "", &MismatchError{AttemptsRemaining: result.AttemptsRemaining}
	}
}

// ResetPassword consumes a reset token, replaces the password and logs the
// account in. Unknown accounts, wrong tokens, used tokens and expired tokens
// all yield ErrInvalidResetToken.
func (s *Service) ResetPassword(ctx context.Context, p ResetParams) (*ResetResult, error) {
	if p.NewPassword != p.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}
	if utf8.RuneCountInString(p.NewPassword) < s.minPasswordLength {
		return nil, ErrPasswordTooShort
	}

	email := models.NormalizeEmail(p.Email)
	tokenHash := s.hasher.Hash(p.Token)

	acc, err := s.store.GetAccountByResetToken(ctx, email, tokenHash, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		slog.Warn("password_reset_failed", "email", email, "reason", "invalid_token")
		s.metrics.PasswordReset(metrics.OutcomeInvalidToken)
		return nil, ErrInvalidResetToken
	}
	if err != nil {
		return nil, oops.Code("RECOVERY_STORE").With("operation", "find_reset_token").Wrap(err)
	}

	passwordHash, err := s.passwords.Hash(p.NewPassword)
	if err != nil {
		return nil, oops.Code("RECOVERY_HASH").With("operation", "hash_password").Wrap(err)
	}

	err = s.store.ConsumeResetToken(ctx, acc.ID, tokenHash, passwordHash)
	if errors.Is(err, repository.ErrNotFound) {
		// Another request used the token first.
		slog.Warn("password_reset_failed", "account_id", acc.ID, "reason", "token_consumed")
		s.metrics.PasswordReset(metrics.OutcomeInvalidToken)
		return nil, ErrInvalidResetToken
	}
	if err != nil {
		return nil, oops.Code("RECOVERY_STORE").With("operation", "consume_reset_token").Wrap(err)
	}

	acc.PasswordHash = passwordHash
	acc.ClearResetToken()

	sess, err := s.sessions.Issue(acc)
	if err != nil {
		return nil, oops.Code("RECOVERY_SESSION").With("account_id", acc.ID).Wrap(err)
	}

	slog.Info("password_reset_success", "account_id", acc.ID)
	s.metrics.PasswordReset(metrics.OutcomeSuccess)
	s.notifyPasswordChanged(ctx, *acc)

	return &ResetResult{Account: acc, Session: sess}, nil
}

func (s *Service) notifyPasswordChanged(ctx context.Context, acc models.Account) {
	ctx = context.WithoutCancel(ctx)
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		if err := s.mailer.SendPasswordChanged(ctx, &acc); err != nil {
			slog.Warn("password_changed_mail_failed", "account_id", acc.ID, "error", err)
		}
	}()
}
