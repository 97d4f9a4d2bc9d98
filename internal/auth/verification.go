// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth

import (
	"context"

	"github.com/samber/oops"
)

// VerifyEmail confirms an account's email with the code that was mailed to
// it. An unknown email fails with the generic invalid-request message; a
// wrong, expired or used code fails with the invalid-code message. Both are
// KindBadRequest.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) (msg string, err error) {
	defer func() { s.record("verify_email", err) }()

	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if isNotFound(err) {
			return "", fail("AUTH_INVALID_REQUEST", KindBadRequest, msgInvalidRequest)
		}
		return "", oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	token, err := s.tokens.FindActiveForUser(ctx, TokenEmailVerification, user.ID)
	if err != nil {
		if isNotFound(err) {
			return "", fail("AUTH_INVALID_CODE", KindBadRequest, msgInvalidCode)
		}
		return "", oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "find verification token").
			Wrap(err)
	}
	if !token.Matches(code) {
		return "", fail("AUTH_INVALID_CODE", KindBadRequest, msgInvalidCode)
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.users.MarkVerified(ctx, user.ID, s.now()); err != nil {
			return oops.Code("AUTH_VERIFY_FAILED").
				With("operation", "mark verified").
				With("user_id", user.ID.String()).
				Wrap(err)
		}
		if err := s.tokens.Consume(ctx, token); err != nil {
			if isNotFound(err) {
				return fail("AUTH_INVALID_CODE", KindBadRequest, msgInvalidCode)
			}
			return oops.Code("AUTH_VERIFY_FAILED").
				With("operation", "consume token").
				Wrap(err)
		}
		return nil
	})
	if err != nil {
		return "", err //nolint:wrapcheck // transaction body errors are already coded
	}
	return MsgEmailVerified, nil
}

// ResendVerification mails a fresh code to an existing, active, unverified
// account. The response is the same for every email.
func (s *Service) ResendVerification(ctx context.Context, email string) (msg string, err error) {
	defer func() { s.record("resend_verification", err) }()

	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if isNotFound(err) {
			return MsgVerificationSent, nil
		}
		return "", oops.Code("AUTH_RESEND_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	if user.IsVerified() || !user.IsActive() {
		return MsgVerificationSent, nil
	}

	var code string
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		code, _, err = s.tokens.Issue(ctx, TokenEmailVerification, user.ID)
		return err
	})
	if err != nil {
		return "", oops.Code("AUTH_RESEND_FAILED").
			With("operation", "issue verification token").
			Wrap(err)
	}

	if err := s.mailer.SendVerificationEmail(ctx, user.Email, code); err != nil {
		s.logger.ErrorContext(ctx, "verification email failed",
			"operation", "resend",
			"user_id", user.ID.String(),
			"error", err)
	}
	return MsgVerificationSent, nil
}
