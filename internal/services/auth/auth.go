// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/metrics"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/models"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/repository"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/services/session"
	"github.com/samber/oops"
)

var (
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Store is the account persistence used by registration and login.
type Store interface {
	CreateAccount(ctx context.Context, acc *models.Account) error
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	RecordLogin(ctx context.Context, id int64, at time.Time) error
}

// Mailer sends the welcome mail.
type Mailer interface {
	SendWelcome(ctx context.Context, acc *models.Account) error
}

// SessionIssuer logs an account in.
type SessionIssuer interface {
	Issue(acc *models.Account) (*session.Session, error)
}

// RegisterParams holds the parameters for account registration.
type RegisterParams struct {
	FullName    string
	Email       string
	Password    string
	PhoneNumber string
}

// Result is a successful registration or login.
type Result struct {
	Account      *models.Account
	Session      *session.Session
	IsFirstLogin bool
}

type Service struct {
	store     Store
	passwords *PasswordHasher
	policy    *PasswordPolicy
	sessions  SessionIssuer
	mailer    Mailer
	metrics   *metrics.Metrics
	now       func() time.Time

	mails sync.WaitGroup
}

// Option customizes a Service.
type Option func(*Service)

// WithMetrics records outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store Store, passwords *PasswordHasher, policy *PasswordPolicy, sessions SessionIssuer, mailer Mailer, opts ...Option) *Service {
	s := &Service{
		store:     store,
		passwords: passwords,
		policy:    policy,
		sessions:  sessions,
		mailer:    mailer,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close waits for pending welcome mails.
func (s *Service) Close() {
	s.mails.Wait()
}

// SplitName splits a full name at the first space into first and last name.
func SplitName(fullName string) (first, last string) {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// Register creates an account, logs it in and sends a welcome mail.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*Result, error) {
	email := models.NormalizeEmail(params.Email)
	first, last := SplitName(params.FullName)

	localPart, _, _ := strings.Cut(email, "@")
	if err := s.policy.Validate(params.Password, localPart, first, last); err != nil {
		s.metrics.Registered(metrics.OutcomeInvalidPassword)
		return nil, err
	}

	hash, err := s.passwords.Hash(params.Password)
	if err != nil {
		return nil, oops.Code("AUTH_HASH").Wrap(err)
	}

	acc := &models.Account{
		Email:        email,
		FirstName:    first,
		LastName:     last,
		PhoneNumber:  strings.TrimSpace(params.PhoneNumber),
		PasswordHash: hash,
	}
	if err := s.store.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			slog.Warn("register_failed", "email", email, "reason", "exists")
			s.metrics.Registered(metrics.OutcomeDuplicate)
			return nil, ErrAccountExists
		}
		return nil, oops.Code("AUTH_STORE").With("operation", "create_account").Wrap(err)
	}

	sess, err := s.sessions.Issue(acc)
	if err != nil {
		return nil, oops.Code("AUTH_SESSION").With("account_id", acc.ID).Wrap(err)
	}

	slog.Info("register_success", "account_id", acc.ID)
	s.metrics.Registered(metrics.OutcomeSuccess)
	s.sendWelcome(ctx, *acc)

	return &Result{Account: acc, Session: sess, IsFirstLogin: true}, nil
}

func (s *Service) sendWelcome(ctx context.Context, acc models.Account) {
	ctx = context.WithoutCancel(ctx)
	s.mails.Add(1)
	go func() {
		defer s.mails.Done()
		if err := s.mailer.SendWelcome(ctx, &acc); err != nil {
			slog.Warn("welcome_mail_failed", "account_id", acc.ID, "error", err)
		}
	}()
}

// Login checks the password of email and opens a session. Unknown accounts
// and wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	email = models.NormalizeEmail(email)

	acc, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.passwords.Compare("", password)
			slog.Warn("login_failed", "email", email, "reason", "unknown_account")
			s.metrics.LoginAttempted(metrics.OutcomeUnknownAccount)
			return nil, ErrInvalidCredentials
		}
		return nil, oops.Code("AUTH_STORE").With("operation", "find_account").Wrap(err)
	}

	if !s.passwords.Compare(acc.PasswordHash, password) {
		slog.Warn("login_failed", "account_id", acc.ID, "reason", "invalid_password")
		s.metrics.LoginAttempted(metrics.OutcomeInvalidPassword)
		return nil, ErrInvalidCredentials
	}

	firstLogin := acc.LoginCount == 0
	now := s.now()
	if err := s.store.RecordLogin(ctx, acc.ID, now); err != nil {
		return nil, oops.Code("AUTH_STORE").With("operation", "record_login").Wrap(err)
	}
	acc.LoginCount++
	acc.LastLoginAt = &now

	sess, err := s.sessions.Issue(acc)
	if err != nil {
		return nil, oops.Code("AUTH_SESSION").With("account_id", acc.ID).Wrap(err)
	}

	slog.Info("login_success", "account_id", acc.ID, "first_login", firstLogin)
	s.metrics.LoginAttempted(metrics.OutcomeSuccess)

	return &Result{Account: acc, Session: sess, IsFirstLogin: firstLogin}, nil
}
