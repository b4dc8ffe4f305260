// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/models"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

const accountColumns = `id, public_id, email, first_name, last_name, phone_number, password_hash,
	login_count, last_login_at,
	otp_hash, otp_expires_at, otp_attempts, otp_request_count, otp_window_start, otp_blocked_until,
	reset_token_hash, reset_token_expires_at,
	version, created_at, updated_at`

// CreateAccount inserts a new account and fills in its generated fields.
func (r *Repository) CreateAccount(ctx context.Context, acc *models.Account) error {
	now := time.Now().UTC()
	acc.Email = models.NormalizeEmail(acc.Email)
	if acc.PublicID == "" {
		acc.PublicID = uuid.NewString()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (public_id, email, first_name, last_name, phone_number, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		acc.PublicID, acc.Email, acc.FirstName, acc.LastName, acc.PhoneNumber, acc.PasswordHash, now, now)
	if err != nil {
		return wrapError(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	acc.ID = id
	acc.CreatedAt = now
	acc.UpdatedAt = now
	return nil
}

// GetAccountByID retrieves an account by its internal ID.
func (r *Repository) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	var acc models.Account
	err := r.db.GetContext(ctx, &acc, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	if err != nil {
		return nil, wrapError(err)
	}
	return &acc, nil
}

// GetAccountByPublicID retrieves an account by the ID exposed to clients.
func (r *Repository) GetAccountByPublicID(ctx context.Context, publicID string) (*models.Account, error) {
	var acc models.Account
	err := r.db.GetContext(ctx, &acc, `SELECT `+accountColumns+` FROM accounts WHERE public_id = ?`, publicID)
	if err != nil {
		return nil, wrapError(err)
	}
	return &acc, nil
}

// GetAccountByEmail retrieves an account by email address.
func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var acc models.Account
	err := r.db.GetContext(ctx, &acc, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, models.NormalizeEmail(email))
	if err != nil {
		return nil, wrapError(err)
	}
	return &acc, nil
}

// GetAccountByResetToken returns the account for email whose reset token
// hash matches and has not expired at now. Every kind of miss is ErrNotFound.
func (r *Repository) GetAccountByResetToken(ctx context.Context, email, tokenHash string, now time.Time) (*models.Account, error) {
	var acc models.Account
	err := r.db.GetContext(ctx, &acc,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ? AND reset_token_hash = ?`,
		models.NormalizeEmail(email), tokenHash)
	if err != nil {
		return nil, wrapError(err)
	}
	if acc.ResetTokenExpiresAt == nil || !acc.ResetTokenExpiresAt.After(now) {
		return nil, ErrNotFound
	}
	return &acc, nil
}

// UpdateAccount loads the account for email, applies fn and writes the
// recovery fields back as one compare-and-set on the version column.
// fn may run more than once if another writer got in between.
func (r *Repository) UpdateAccount(ctx context.Context, email string, fn func(*models.Account) error) (*models.Account, error) {
	email = models.NormalizeEmail(email)

	var updated *models.Account
	err := retry.Do(ctx, conflictBackoff(), func(ctx context.Context) error {
		acc, err := r.updateAccountOnce(ctx, email, fn)
		if errors.Is(err, ErrConflict) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		updated = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *Repository) updateAccountOnce(ctx context.Context, email string, fn func(*models.Account) error) (*models.Account, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var acc models.Account
	if err := tx.GetContext(ctx, &acc, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email); err != nil {
		return nil, wrapError(err)
	}

	if err := fn(&acc); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET
			otp_hash = ?, otp_expires_at = ?, otp_attempts = ?,
			otp_request_count = ?, otp_window_start = ?, otp_blocked_until = ?,
			reset_token_hash = ?, reset_token_expires_at = ?,
			version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		acc.OTPHash, utc(acc.OTPExpiresAt), acc.OTPAttempts,
		acc.OTPRequestCount, utc(acc.OTPWindowStart), utc(acc.OTPBlockedUntil),
		acc.ResetTokenHash, utc(acc.ResetTokenExpiresAt),
		now, acc.ID, acc.Version)
	if err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	acc.Version++
	acc.UpdatedAt = now
	return &acc, nil
}

// ConsumeResetToken stores a new password hash and clears the reset token,
// but only while tokenHash is still the account's active token. A token that
// was already used, or replaced, yields ErrNotFound.
func (r *Repository) ConsumeResetToken(ctx context.Context, id int64, tokenHash, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET
			password_hash = ?, reset_token_hash = NULL, reset_token_expires_at = NULL,
			version = version + 1, updated_at = ?
		 WHERE id = ? AND reset_token_hash = ?`,
		passwordHash, time.Now().UTC(), id, tokenHash)
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLogin increments the login counter and stamps the login time.
func (r *Repository) RecordLogin(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET login_count = login_count + 1, last_login_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
