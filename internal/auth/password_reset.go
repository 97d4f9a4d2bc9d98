// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// RequestPasswordReset mails a reset link when the email belongs to an
// account. The response never reveals whether it does.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (msg string, err error) {
	defer func() { s.record("request_reset", err) }()

	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if isNotFound(err) {
			return MsgResetRequested, nil
		}
		return "", oops.Code("AUTH_RESET_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	var token string
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		token, _, err = s.tokens.Issue(ctx, TokenPasswordReset, user.ID)
		return err
	})
	if err != nil {
		return "", oops.Code("AUTH_RESET_REQUEST_FAILED").
			With("operation", "issue reset token").
			Wrap(err)
	}

	if err := s.mailer.SendPasswordResetEmail(ctx, user.Email, token); err != nil {
		s.logger.ErrorContext(ctx, "password reset email failed",
			"user_id", user.ID.String(),
			"error", err)
	}
	return MsgResetRequested, nil
}

// ResetPassword sets a new password using a mailed reset token. The token
// must belong to the account with the given email. On success every session
// of the account is revoked.
func (s *Service) ResetPassword(ctx context.Context, email, token, newPassword string) (msg string, err error) {
	defer func() { s.record("reset_password", err) }()

	invalid := func() error {
		return fail("AUTH_INVALID_RESET_TOKEN", KindBadRequest, msgInvalidResetToken)
	}

	reset, err := s.tokens.FindActiveByValue(ctx, TokenPasswordReset, token)
	if err != nil {
		if isNotFound(err) {
			return "", invalid()
		}
		return "", oops.Code("AUTH_RESET_FAILED").
			With("operation", "find reset token").
			Wrap(err)
	}

	user, err := s.users.GetByID(ctx, reset.UserID)
	if err != nil {
		if isNotFound(err) {
			return "", invalid()
		}
		return "", oops.Code("AUTH_RESET_FAILED").
			With("operation", "get user").
			Wrap(err)
	}
	if user.Email != NormalizeEmail(email) {
		return "", invalid()
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, ErrEmptyPassword) {
			return "", fail("AUTH_INVALID_REQUEST", KindBadRequest, msgInvalidRequest)
		}
		return "", oops.Code("AUTH_RESET_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		now := s.now()
		if err := s.users.UpdatePassword(ctx, user.ID, hash, now); err != nil {
			return oops.Code("AUTH_RESET_FAILED").
				With("operation", "update password").
				With("user_id", user.ID.String()).
				Wrap(err)
		}
		if err := s.tokens.Consume(ctx, reset); err != nil {
			if isNotFound(err) {
				return invalid()
			}
			return oops.Code("AUTH_RESET_FAILED").
				With("operation", "consume token").
				Wrap(err)
		}
		revoked, err := s.sessions.RevokeAllForUser(ctx, user.ID, now)
		if err != nil {
			return oops.Code("AUTH_RESET_FAILED").
				With("operation", "revoke sessions").
				With("user_id", user.ID.String()).
				Wrap(err)
		}
		s.logger.InfoContext(ctx, "password reset",
			"user_id", user.ID.String(),
			"sessions_revoked", revoked)
		return nil
	})
	if err != nil {
		return "", err //nolint:wrapcheck // transaction body errors are already coded
	}
	return MsgPasswordReset, nil
}
