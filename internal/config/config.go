// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"fmt"
	"strings"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

var configFile = altsrc.StringSourcer("config.toml")

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	TLS       TLSConfig
	Session   SessionConfig
	SMTP      SMTPConfig
	Recovery  RecoveryConfig
	RateLimit RateLimitConfig
}

type TLSConfig struct {
	Mode     string // auto, acme, manual, off
	CertDir  string // Directory for the ACME certificate cache
	Email    string // ACME email for Let's Encrypt
	CertFile string // Path to certificate file (manual mode)
	KeyFile  string // Path to private key file (manual mode)
}

type ServerConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host        string
	Port        int
	BaseURL     string
	MaxBodySize int // in MB
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

type DatabaseConfig struct {
	Driver string // sqlite, mysql
	DSN    string
}

type SessionConfig struct { //nolint:govet // fieldalignment not critical
	CookieName string // Session cookie name
	MaxAge     int    // Session max age in seconds
	HashKey    string // 32-byte hex string for HMAC signing
	BlockKey   string // 32-byte hex string for AES encryption (optional)
	Issuer     string // iss claim of bearer tokens
}

type SMTPConfig struct { //nolint:govet // fieldalignment not critical
	Host     string // empty logs mails instead of sending them
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
}

// RecoveryConfig holds the limits and work factors of the password
// recovery flow.
type RecoveryConfig struct { //nolint:govet // fieldalignment not critical
	OTPDigits      int
	OTPTTL         time.Duration
	OTPMaxAttempts int

	MaxRequests   int
	RequestWindow time.Duration
	BlockDuration time.Duration

	ResetTokenBytes int
	ResetTokenTTL   time.Duration

	SecretPepper     string // hex, generated per process if empty
	SecretHashTime   uint32
	SecretHashMemory uint32 // KiB

	PasswordMinLength int
	BcryptCost        int
}

// RateLimitConfig throttles the auth endpoints per client IP.
type RateLimitConfig struct {
	RequestsPerSecond float64 // 0 disables the limiter
}

// DefaultRecoveryConfig returns the production limits.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		OTPDigits:         6,
		OTPTTL:            5 * time.Minute,
		OTPMaxAttempts:    3,
		MaxRequests:       3,
		RequestWindow:     time.Hour,
		BlockDuration:     time.Hour,
		ResetTokenBytes:   32,
		ResetTokenTTL:     15 * time.Minute,
		SecretHashTime:    1,
		SecretHashMemory:  19 * 1024,
		PasswordMinLength: 8,
		BcryptCost:        12,
	}
}

// Validate rejects recovery settings that would disable a safeguard.
func (c RecoveryConfig) Validate() error {
	switch {
	case c.OTPDigits < 4 || c.OTPDigits > 10:
		return fmt.Errorf("otp digits must be between 4 and 10, got %d", c.OTPDigits)
	case c.OTPTTL <= 0 || c.ResetTokenTTL <= 0:
		return fmt.Errorf("otp and reset token ttl must be positive")
	case c.OTPMaxAttempts < 1 || c.MaxRequests < 1:
		return fmt.Errorf("otp max attempts and max requests must be at least 1")
	case c.RequestWindow <= 0 || c.BlockDuration <= 0:
		return fmt.Errorf("request window and block duration must be positive")
	case c.ResetTokenBytes < 32:
		return fmt.Errorf("reset token must have at least 32 bytes, got %d", c.ResetTokenBytes)
	case c.SecretHashTime < 1 || c.SecretHashMemory < 8:
		return fmt.Errorf("secret hash time must be >= 1 and memory >= 8 KiB")
	case c.PasswordMinLength < 1:
		return fmt.Errorf("password min length must be at least 1")
	}
	return nil
}

func NewFromCLI(cmd *cli.Command) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:        cmd.String("host"),
			Port:        int(cmd.Int("port")),
			BaseURL:     cmd.String("base-url"),
			MaxBodySize: int(cmd.Int("max-body-size")),
		},
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		Database: DatabaseConfig{
			Driver: cmd.String("database-driver"),
			DSN:    cmd.String("database-dsn"),
		},
		TLS: TLSConfig{
			Mode:     cmd.String("tls-mode"),
			CertDir:  cmd.String("tls-cert-dir"),
			Email:    cmd.String("tls-email"),
			CertFile: cmd.String("tls-cert-file"),
			KeyFile:  cmd.String("tls-key-file"),
		},
		Session: SessionConfig{
			CookieName: cmd.String("session-cookie-name"),
			MaxAge:     int(cmd.Int("session-max-age")),
			HashKey:    cmd.String("session-hash-key"),
			BlockKey:   cmd.String("session-block-key"),
			Issuer:     cmd.String("session-issuer"),
		},
		SMTP: SMTPConfig{
			Host:     cmd.String("smtp-host"),
			Port:     int(cmd.Int("smtp-port")),
			Username: cmd.String("smtp-username"),
			Password: cmd.String("smtp-password"),
			From:     cmd.String("smtp-from"),
			FromName: cmd.String("smtp-from-name"),
			TLS:      cmd.Bool("smtp-tls"),
		},
		Recovery: RecoveryConfig{
			OTPDigits:         int(cmd.Int("otp-digits")),
			OTPTTL:            cmd.Duration("otp-ttl"),
			OTPMaxAttempts:    int(cmd.Int("otp-max-attempts")),
			MaxRequests:       int(cmd.Int("otp-max-requests")),
			RequestWindow:     cmd.Duration("otp-request-window"),
			BlockDuration:     cmd.Duration("otp-block-duration"),
			ResetTokenBytes:   int(cmd.Int("reset-token-bytes")),
			ResetTokenTTL:     cmd.Duration("reset-token-ttl"),
			SecretPepper:      cmd.String("secret-pepper"),
			SecretHashTime:    uint32(cmd.Int("secret-hash-time")),   //nolint:gosec // bounded by Validate
			SecretHashMemory:  uint32(cmd.Int("secret-hash-memory")), //nolint:gosec // bounded by Validate
			PasswordMinLength: int(cmd.Int("password-min-length")),
			BcryptCost:        int(cmd.Int("bcrypt-cost")),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: cmd.Float("http-rate-limit"),
		},
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = buildBaseURL(cfg)
	}

	return cfg
}

// Secure reports whether cookies should carry the Secure attribute.
func (c *Config) Secure() bool {
	return strings.HasPrefix(c.Server.BaseURL, "https://")
}

func buildBaseURL(cfg *Config) string {
	host := cfg.Server.Host
	port := cfg.Server.Port
	mode := strings.ToLower(cfg.TLS.Mode)

	scheme := "http"
	if shouldUseTLS(mode, host) {
		scheme = "https"
	}

	// ACME mode always uses port 443
	if mode == "acme" {
		return fmt.Sprintf("https://%s", host)
	}

	// Hide default ports in URL
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

func shouldUseTLS(mode, host string) bool {
	switch mode {
	case "off":
		return false
	case "acme", "manual":
		return true
	default: // "auto" or empty
		return !IsLocalhost(host)
	}
}

// IsLocalhost checks if the host is a localhost address.
func IsLocalhost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	// Check for *.localhost subdomains (e.g., app.localhost)
	return strings.HasSuffix(host, ".localhost")
}

func source(env, key string) cli.ValueSourceChain {
	return cli.NewValueSourceChain(cli.EnvVar(env), toml.TOML(key, configFile))
}

func Flags() []cli.Flag {
	defaults := DefaultRecoveryConfig()

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "host",
			Value:   "localhost",
			Usage:   "Host to bind to",
			Sources: source("HOST", "server.host"),
		},
		&cli.IntFlag{
			Name:    "port",
			Value:   8080,
			Usage:   "Port to listen on",
			Sources: source("PORT", "server.port"),
		},
		&cli.StringFlag{
			Name:    "base-url",
			Usage:   "Base URL for the application",
			Sources: source("BASE_URL", "server.base_url"),
		},
		&cli.IntFlag{
			Name:    "max-body-size",
			Value:   1,
			Usage:   "Maximum request body size in MB",
			Sources: source("MAX_BODY_SIZE", "server.max_body_size"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: source("LOG_LEVEL", "log.level"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: source("LOG_FORMAT", "log.format"),
		},
		// Database flags
		&cli.StringFlag{
			Name:    "database-driver",
			Value:   "sqlite",
			Usage:   "Database driver (sqlite, mysql)",
			Sources: source("DATABASE_DRIVER", "database.driver"),
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			Value:   "./data/app.db",
			Usage:   "Database DSN",
			Sources: source("DATABASE_DSN", "database.dsn"),
		},
		// TLS flags
		&cli.StringFlag{
			Name:    "tls-mode",
			Value:   "auto",
			Usage:   "TLS mode (auto, acme, manual, off)",
			Sources: source("TLS_MODE", "tls.mode"),
		},
		&cli.StringFlag{
			Name:    "tls-cert-dir",
			Value:   "./data/certs",
			Usage:   "Directory for the ACME certificate cache",
			Sources: source("TLS_CERT_DIR", "tls.cert_dir"),
		},
		&cli.StringFlag{
			Name:    "tls-email",
			Usage:   "Email for ACME/Let's Encrypt registration",
			Sources: source("TLS_EMAIL", "tls.email"),
		},
		&cli.StringFlag{
			Name:    "tls-cert-file",
			Usage:   "Path to TLS certificate file (manual mode)",
			Sources: source("TLS_CERT_FILE", "tls.cert_file"),
		},
		&cli.StringFlag{
			Name:    "tls-key-file",
			Usage:   "Path to TLS private key file (manual mode)",
			Sources: source("TLS_KEY_FILE", "tls.key_file"),
		},
		// Session flags
		&cli.StringFlag{
			Name:    "session-cookie-name",
			Value:   "_session",
			Usage:   "Session cookie name",
			Sources: source("SESSION_COOKIE_NAME", "session.cookie_name"),
		},
		&cli.IntFlag{
			Name:    "session-max-age",
			Value:   604800, // 7 days in seconds
			Usage:   "Session max age in seconds",
			Sources: source("SESSION_MAX_AGE", "session.max_age"),
		},
		&cli.StringFlag{
			Name:    "session-hash-key",
			Usage:   "Session hash key (32-byte hex, auto-generated if empty in dev)",
			Sources: source("SESSION_HASH_KEY", "session.hash_key"),
		},
		&cli.StringFlag{
			Name:    "session-block-key",
			Usage:   "Session block key for encryption (32-byte hex, optional)",
			Sources: source("SESSION_BLOCK_KEY", "session.block_key"),
		},
		&cli.StringFlag{
			Name:    "session-issuer",
			Value:   "go-otp-recovery",
			Usage:   "Issuer claim of session tokens",
			Sources: source("SESSION_ISSUER", "session.issuer"),
		},
		// SMTP flags
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP host (mails are logged when empty)",
			Sources: source("SMTP_HOST", "smtp.host"),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Usage:   "SMTP port",
			Sources: source("SMTP_PORT", "smtp.port"),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: source("SMTP_USERNAME", "smtp.username"),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: source("SMTP_PASSWORD", "smtp.password"),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Value:   "no-reply@localhost",
			Usage:   "Sender address",
			Sources: source("SMTP_FROM", "smtp.from"),
		},
		&cli.StringFlag{
			Name:    "smtp-from-name",
			Usage:   "Sender display name",
			Sources: source("SMTP_FROM_NAME", "smtp.from_name"),
		},
		&cli.BoolFlag{
			Name:    "smtp-tls",
			Value:   true,
			Usage:   "Require TLS for SMTP",
			Sources: source("SMTP_TLS", "smtp.tls"),
		},
		// Recovery flags
		&cli.IntFlag{
			Name:    "otp-digits",
			Value:   defaults.OTPDigits,
			Usage:   "Number of digits in a one-time password",
			Sources: source("OTP_DIGITS", "recovery.otp_digits"),
		},
		&cli.DurationFlag{
			Name:    "otp-ttl",
			Value:   defaults.OTPTTL,
			Usage:   "How long a one-time password stays valid",
			Sources: source("OTP_TTL", "recovery.otp_ttl"),
		},
		&cli.IntFlag{
			Name:    "otp-max-attempts",
			Value:   defaults.OTPMaxAttempts,
			Usage:   "Failed verifications allowed per one-time password",
			Sources: source("OTP_MAX_ATTEMPTS", "recovery.otp_max_attempts"),
		},
		&cli.IntFlag{
			Name:    "otp-max-requests",
			Value:   defaults.MaxRequests,
			Usage:   "One-time password requests allowed per window",
			Sources: source("OTP_MAX_REQUESTS", "recovery.otp_max_requests"),
		},
		&cli.DurationFlag{
			Name:    "otp-request-window",
			Value:   defaults.RequestWindow,
			Usage:   "Length of the one-time password request window",
			Sources: source("OTP_REQUEST_WINDOW", "recovery.otp_request_window"),
		},
		&cli.DurationFlag{
			Name:    "otp-block-duration",
			Value:   defaults.BlockDuration,
			Usage:   "How long requests are refused once the window is exhausted",
			Sources: source("OTP_BLOCK_DURATION", "recovery.otp_block_duration"),
		},
		&cli.IntFlag{
			Name:    "reset-token-bytes",
			Value:   defaults.ResetTokenBytes,
			Usage:   "Random bytes in a reset token",
			Sources: source("RESET_TOKEN_BYTES", "recovery.reset_token_bytes"),
		},
		&cli.DurationFlag{
			Name:    "reset-token-ttl",
			Value:   defaults.ResetTokenTTL,
			Usage:   "How long a reset token stays valid",
			Sources: source("RESET_TOKEN_TTL", "recovery.reset_token_ttl"),
		},
		&cli.StringFlag{
			Name:    "secret-pepper",
			Usage:   "Server-side key mixed into OTP and token hashes (hex, auto-generated if empty in dev)",
			Sources: source("SECRET_PEPPER", "recovery.secret_pepper"),
		},
		&cli.IntFlag{
			Name:    "secret-hash-time",
			Value:   int(defaults.SecretHashTime),
			Usage:   "argon2id passes for OTP and token hashes",
			Sources: source("SECRET_HASH_TIME", "recovery.secret_hash_time"),
		},
		&cli.IntFlag{
			Name:    "secret-hash-memory",
			Value:   int(defaults.SecretHashMemory),
			Usage:   "argon2id memory in KiB for OTP and token hashes",
			Sources: source("SECRET_HASH_MEMORY", "recovery.secret_hash_memory"),
		},
		&cli.IntFlag{
			Name:    "password-min-length",
			Value:   defaults.PasswordMinLength,
			Usage:   "Minimum password length",
			Sources: source("PASSWORD_MIN_LENGTH", "recovery.password_min_length"),
		},
		&cli.IntFlag{
			Name:    "bcrypt-cost",
			Value:   defaults.BcryptCost,
			Usage:   "bcrypt cost for stored passwords",
			Sources: source("BCRYPT_COST", "recovery.bcrypt_cost"),
		},
		// HTTP throttle
		&cli.FloatFlag{
			Name:    "http-rate-limit",
			Value:   5,
			Usage:   "Requests per second per client IP on /api/auth (0 disables)",
			Sources: source("HTTP_RATE_LIMIT", "ratelimit.requests_per_second"),
		},
	}
}
