// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package email sends the account mails: one-time passwords, welcome and
// password-changed notices. Texts come from the i18n bundle in the locale
// carried by the context.
package email

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/config"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/i18n"
	"codeberg.org/oliverandrich/go-otp-recovery/internal/models"
	"github.com/wneessen/go-mail"
)

// Sender delivers a composed message.
type Sender interface {
	Send(ctx context.Context, msg *mail.Msg) error
}

// Service composes and sends mails.
type Service struct {
	sender   Sender
	from     string
	fromName string
}

// NewService returns a Service that delivers over SMTP, or one that only
// logs mails when no SMTP host is configured.
func NewService(cfg *config.SMTPConfig) (*Service, error) {
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}

	if cfg.Host == "" {
		slog.Warn("SMTP host not configured, mails are logged instead of sent")
		return New(LogSender{}, cfg.From, cfg.FromName), nil
	}

	sender, err := NewSMTPSender(cfg)
	if err != nil {
		return nil, err
	}
	return New(sender, cfg.From, cfg.FromName), nil
}

// New returns a Service sending through sender.
func New(sender Sender, from, fromName string) *Service {
	return &Service{sender: sender, from: from, fromName: fromName}
}

// SendOTP mails a one-time password valid for ttl.
func (s *Service) SendOTP(ctx context.Context, acc *models.Account, otp string, ttl time.Duration) error {
	c := content{
		Subject:  i18n.T(ctx, "email_otp_subject"),
		Greeting: greeting(ctx, acc),
		Paragraphs: []string{
			i18n.T(ctx, "email_otp_intro"),
		},
		Code: otp,
		Notes: []string{
			i18n.TData(ctx, "email_otp_expiry", map[string]any{
				"Minutes": int(math.Ceil(ttl.Minutes())),
			}),
			i18n.T(ctx, "email_otp_ignore"),
			i18n.T(ctx, "email_otp_spam_hint"),
		},
		Signature: i18n.T(ctx, "email_signature"),
	}
	return s.send(ctx, acc, c)
}

// SendPasswordChanged tells the account owner the password was reset.
func (s *Service) SendPasswordChanged(ctx context.Context, acc *models.Account) error {
	c := content{
		Subject:  i18n.T(ctx, "email_password_changed_subject"),
		Greeting: greeting(ctx, acc),
		Paragraphs: []string{
			i18n.TData(ctx, "email_password_changed_body", map[string]any{"Email": acc.Email}),
			i18n.T(ctx, "email_password_changed_warning"),
		},
		Signature: i18n.T(ctx, "email_signature"),
	}
	return s.send(ctx, acc, c)
}

// SendWelcome greets a newly registered account.
func (s *Service) SendWelcome(ctx context.Context, acc *models.Account) error {
	c := content{
		Subject:  i18n.TData(ctx, "email_welcome_subject", map[string]any{"Name": displayName(acc)}),
		Greeting: greeting(ctx, acc),
		Paragraphs: []string{
			i18n.TData(ctx, "email_welcome_body", map[string]any{"Email": acc.Email}),
		},
		Signature: i18n.T(ctx, "email_signature"),
	}
	return s.send(ctx, acc, c)
}

func greeting(ctx context.Context, acc *models.Account) string {
	return i18n.TData(ctx, "email_greeting", map[string]any{"Name": displayName(acc)})
}

func displayName(acc *models.Account) string {
	if acc.FirstName != "" {
		return acc.FirstName
	}
	return acc.Email
}

func (s *Service) send(ctx context.Context, acc *models.Account, c content) error {
	msg := mail.NewMsg()

	if s.fromName != "" {
		if err := msg.FromFormat(s.fromName, s.from); err != nil {
			return fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := msg.From(s.from); err != nil {
			return fmt.Errorf("setting from address: %w", err)
		}
	}

	if name := acc.FullName(); name != "" {
		if err := msg.AddToFormat(name, acc.Email); err != nil {
			return fmt.Errorf("setting to address: %w", err)
		}
	} else if err := msg.To(acc.Email); err != nil {
		return fmt.Errorf("setting to address: %w", err)
	}

	var html bytes.Buffer
	if err := c.HTML().Render(ctx, &html); err != nil {
		return fmt.Errorf("rendering mail: %w", err)
	}

	msg.Subject(c.Subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextPlain, c.Text())
	msg.AddAlternativeString(mail.TypeTextHTML, html.String())

	if err := s.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	return nil
}

// SMTPSender delivers through an SMTP server.
type SMTPSender struct {
	client *mail.Client
}

// NewSMTPSender builds the SMTP client from cfg.
func NewSMTPSender(cfg *config.SMTPConfig) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(10 * time.Second),
	}

	// Implicit TLS on 465, STARTTLS elsewhere
	if cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		if cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating mail client: %w", err)
	}
	return &SMTPSender{client: client}, nil
}

// Send dials the server and delivers msg.
func (s *SMTPSender) Send(ctx context.Context, msg *mail.Msg) error {
	return s.client.DialAndSendWithContext(ctx, msg)
}

// LogSender logs mails instead of delivering them. Only the subject and
// recipients are logged; bodies carry secrets.
type LogSender struct{}

// Send logs msg at info level.
func (LogSender) Send(ctx context.Context, msg *mail.Msg) error {
	slog.InfoContext(ctx, "mail_not_sent",
		"to", msg.GetToString(),
		"subject", msg.GetGenHeader(mail.HeaderSubject),
	)
	return nil
}
