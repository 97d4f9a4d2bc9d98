// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth

import (
	"context"

	"github.com/samber/oops"
)

// Login authenticates by email and password and opens a new session.
//
// Unknown emails and wrong passwords fail identically with KindUnauthorized.
// Accounts that are not ACTIVE fail with KindForbidden. Logging in to an
// unverified account has a side effect: a fresh verification code is issued
// and emailed, then the login fails with KindForbidden.
func (s *Service) Login(ctx context.Context, email, password string, meta ClientMeta) (result *AuthResult, err error) {
	defer func() { s.record("login", err) }()

	email = NormalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !isNotFound(err) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by email").
				Wrap(err)
		}
		//nolint:errcheck // only run for its cost
		s.hasher.Verify(password, s.dummyHash)
		return nil, fail("AUTH_INVALID_CREDENTIALS", KindUnauthorized, msgInvalidCredentials)
	}

	if !user.IsActive() {
		return nil, fail("AUTH_ACCOUNT_INACTIVE", KindForbidden, msgAccountInactive)
	}

	if !user.IsVerified() {
		s.resendOnLogin(ctx, user)
		return nil, fail("AUTH_EMAIL_UNVERIFIED", KindForbidden, msgVerifyFirst)
	}

	valid, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	if !valid {
		return nil, fail("AUTH_INVALID_CREDENTIALS", KindUnauthorized, msgInvalidCredentials)
	}

	pair, err := s.issueSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Tokens: pair}, nil
}

// resendOnLogin issues and mails a new verification code. Failures are
// logged; the login fails with the same error either way.
func (s *Service) resendOnLogin(ctx context.Context, user *User) {
	var code string
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		code, _, err = s.tokens.Issue(ctx, TokenEmailVerification, user.ID)
		return err
	})
	if err == nil {
		err = s.mailer.SendVerificationEmail(ctx, user.Email, code)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "verification resend on login failed",
			"user_id", user.ID.String(),
			"error", err)
	}
}

// RefreshTokens exchanges a refresh token for a new pair bound to the same
// session. The session is rotated in place with a compare-and-swap on the
// stored token hash, so a superseded or concurrently replayed token fails
// with KindUnauthorized.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string, meta ClientMeta) (result *AuthResult, err error) {
	defer func() { s.record("refresh", err) }()

	invalid := func() error {
		return fail("AUTH_INVALID_SESSION", KindUnauthorized, msgInvalidSession)
	}

	claims, err := s.minter.VerifyRefresh(refreshToken)
	if err != nil || claims.SessionID == "" {
		return nil, invalid()
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, invalid()
	}

	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		if isNotFound(err) {
			return nil, invalid()
		}
		return nil, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "get session").
			Wrap(err)
	}
	if !session.UsableAt(s.now()) || session.UserID != userID {
		return nil, invalid()
	}

	match, err := s.hasher.Verify(refreshToken, session.TokenHash)
	if err != nil || !match {
		return nil, invalid()
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if isNotFound(err) {
			return nil, invalid()
		}
		return nil, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "get user").
			Wrap(err)
	}
	if !user.IsActive() {
		return nil, invalid()
	}

	refresh, refreshExp, err := s.minter.MintRefresh(user.ID, session.ID)
	if err != nil {
		return nil, oops.Code("AUTH_REFRESH_FAILED").Wrap(err)
	}
	newHash, err := s.hasher.Hash(refresh)
	if err != nil {
		return nil, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "hash refresh token").
			Wrap(err)
	}

	err = s.sessions.Rotate(ctx, session.ID, session.TokenHash, RotateParams{
		TokenHash: newHash,
		Meta:      meta,
		ExpiresAt: refreshExp,
		At:        s.now(),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, invalid()
		}
		return nil, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "rotate session").
			Wrap(err)
	}

	access, _, err := s.minter.MintAccess(user.ID, user.Role)
	if err != nil {
		return nil, oops.Code("AUTH_REFRESH_FAILED").Wrap(err)
	}
	return &AuthResult{User: user, Tokens: s.pair(access, refresh)}, nil
}

// Logout revokes the session named by a refresh token. The token's signature
// must verify but an expired token is accepted. Revoking a missing or already
// revoked session succeeds.
func (s *Service) Logout(ctx context.Context, refreshToken string) (msg string, err error) {
	defer func() { s.record("logout", err) }()

	claims, err := s.minter.ParseRefreshIgnoringExpiry(refreshToken)
	if err != nil || claims.SessionID == "" {
		return "", fail("AUTH_INVALID_SESSION", KindUnauthorized, msgInvalidSession)
	}

	if err := s.sessions.Revoke(ctx, claims.SessionID, s.now()); err != nil && !isNotFound(err) {
		return "", oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "revoke session").
			Wrap(err)
	}
	return MsgLoggedOut, nil
}
