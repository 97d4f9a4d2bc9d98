// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/oops"
)

// Register creates an account, or restarts registration for an existing
// unverified one, and emails a verification code. A verified account with the
// same email fails with KindConflict. Invite redemption and the verification
// token are written in the same transaction as the user row.
func (s *Service) Register(ctx context.Context, in RegisterInput) (msg string, err error) {
	defer func() { s.record("register", err) }()

	email := NormalizeEmail(in.Email)

	// Hash first so the existing and new account paths cost the same.
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, ErrEmptyPassword) {
			return "", fail("AUTH_INVALID_REQUEST", KindBadRequest, msgInvalidRequest)
		}
		return "", oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	var invite *InviteCode
	if code := strings.TrimSpace(in.InviteCode); code != "" {
		invite, err = s.invites.Validate(ctx, code)
		if err != nil {
			return "", inviteToBadRequest(err)
		}
	}

	var pendingCode string
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		now := s.now()

		user, err := s.users.GetByEmail(ctx, email)
		switch {
		case isNotFound(err):
			user, err = NewUser(email, in.DisplayName, hash, now)
			if err != nil {
				return fail("AUTH_INVALID_REQUEST", KindBadRequest, msgInvalidRequest)
			}
			user.applyInvite(invite)
			if err := s.users.Create(ctx, user); err != nil {
				if errors.Is(err, ErrDuplicate) {
					return fail("AUTH_ACCOUNT_EXISTS", KindConflict, msgAccountExists)
				}
				return oops.Code("AUTH_REGISTER_FAILED").
					With("operation", "create user").
					Wrap(err)
			}
		case err != nil:
			return oops.Code("AUTH_REGISTER_FAILED").
				With("operation", "get user by email").
				Wrap(err)
		case user.IsVerified():
			return fail("AUTH_ACCOUNT_EXISTS", KindConflict, msgAccountExists)
		default:
			displayName := strings.TrimSpace(in.DisplayName)
			if n := len([]rune(displayName)); n < MinDisplayNameLength || n > MaxDisplayNameLength {
				return fail("AUTH_INVALID_REQUEST", KindBadRequest, msgInvalidRequest)
			}
			user.PasswordHash = hash
			user.DisplayName = displayName
			user.applyInvite(invite)
			user.UpdatedAt = now
			if err := s.users.Update(ctx, user); err != nil {
				return oops.Code("AUTH_REGISTER_FAILED").
					With("operation", "update unverified user").
					With("user_id", user.ID.String()).
					Wrap(err)
			}
		}

		if invite != nil {
			if _, err := s.invites.Redeem(ctx, invite.Code, user.ID); err != nil {
				return inviteToBadRequest(err)
			}
		}

		pendingCode, err = s.policy.begin(ctx, s.users, s.tokens, user, now)
		if err != nil {
			return oops.Code("AUTH_REGISTER_FAILED").
				With("operation", "begin verification").
				With("policy", s.policy.Name()).
				Wrap(err)
		}
		return nil
	})
	if err != nil {
		return "", err //nolint:wrapcheck // transaction body errors are already coded
	}

	if pendingCode != "" {
		if err := s.mailer.SendVerificationEmail(ctx, email, pendingCode); err != nil {
			s.logger.ErrorContext(ctx, "verification email failed",
				"operation", "register",
				"error", err)
			return "", oops.Code("AUTH_MAIL_FAILED").
				With("operation", "send verification email").
				Wrap(err)
		}
	}

	return MsgCheckEmail, nil
}

// inviteToBadRequest turns ledger failures into the BadRequest registration
// reports. Infrastructure errors pass through unchanged.
func inviteToBadRequest(err error) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	return oops.Code("AUTH_INVALID_INVITE").
		With("reason", e.Message).
		Wrap(&Error{Kind: KindBadRequest, Message: e.Message, cause: err})
}

// ValidateInviteCode reports whether an invite can be used to register.
// Unknown codes fail with KindNotFound; expired and exhausted codes fail with
// KindBadRequest.
func (s *Service) ValidateInviteCode(ctx context.Context, code string) (info *InviteInfo, err error) {
	defer func() { s.record("validate_invite", err) }()

	invite, err := s.invites.Validate(ctx, code)
	if err != nil {
		return nil, err //nolint:wrapcheck // ledger errors are already coded
	}
	sub, err := s.invites.Subcommunity(ctx, invite)
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}
	return &InviteInfo{Valid: true, IsRestricted: invite.IsRestricted, Subcommunity: *sub}, nil
}
