// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Caller-facing success messages. Enumeration-sensitive operations return
// the same message whether or not the account exists.
const (
	MsgCheckEmail       = "registration received; check your email to verify your account"
	MsgEmailVerified    = "email verified; you can now log in"
	MsgVerificationSent = "if that account exists and is unverified, a new code has been sent"
	MsgLoggedOut        = "logged out"
	MsgResetRequested   = "if that account exists, a password reset link has been sent"
	MsgPasswordReset    = "password has been reset; please log in again"
)

// Config is the Service configuration, loaded once at startup.
type Config struct {
	Tokens TokenConfig
	Policy VerificationPolicy
}

// Dependencies are the Service collaborators. Codes, Events and Clock are
// optional.
type Dependencies struct {
	Users      UserRepository
	Sessions   SessionRepository
	Tokens     EphemeralTokenRepository
	Invites    InviteRepository
	Transactor Transactor
	Hasher     PasswordHasher
	Mailer     Mailer
	Codes      CodeGenerator
	Events     EventRecorder
	Clock      func() time.Time
}

// TokenPair is the credential pair handed to a client.
type TokenPair struct {
	AccessToken           string
	RefreshToken          string
	AccessTokenExpiresIn  time.Duration
	RefreshTokenExpiresIn time.Duration
}

// AuthResult is returned by login and refresh.
type AuthResult struct {
	User   *User
	Tokens TokenPair
}

// RegisterInput is a registration request.
type RegisterInput struct {
	Email       string
	DisplayName string
	Password    string
	InviteCode  string
}

// InviteInfo describes a valid invite code.
type InviteInfo struct {
	Valid        bool
	IsRestricted bool
	Subcommunity Subcommunity
}

// Service orchestrates registration, verification, login, refresh, logout,
// password reset and account moderation.
type Service struct {
	users    UserRepository
	sessions SessionRepository
	tokens   *EphemeralTokenStore
	invites  *InviteLedger
	tx       Transactor
	hasher   PasswordHasher
	mailer   Mailer
	codes    CodeGenerator
	minter   *TokenMinter
	policy   VerificationPolicy
	events   EventRecorder
	logger   *slog.Logger
	now      func() time.Time

	// dummyHash is verified when a login names no account, so unknown emails
	// cost the same as wrong passwords under the configured hasher.
	dummyHash string
}

// NewService creates a Service with validated dependencies.
func NewService(deps Dependencies, cfg Config, logger *slog.Logger) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, oops.Errorf("user repository is required")
	case deps.Sessions == nil:
		return nil, oops.Errorf("session repository is required")
	case deps.Tokens == nil:
		return nil, oops.Errorf("token repository is required")
	case deps.Invites == nil:
		return nil, oops.Errorf("invite repository is required")
	case deps.Transactor == nil:
		return nil, oops.Errorf("transactor is required")
	case deps.Hasher == nil:
		return nil, oops.Errorf("password hasher is required")
	case deps.Mailer == nil:
		return nil, oops.Errorf("mailer is required")
	case logger == nil:
		return nil, oops.Errorf("logger is required")
	}

	codes := deps.Codes
	if codes == nil {
		codes = NewSecureCodeGenerator()
	}
	events := deps.Events
	if events == nil {
		events = nopRecorder{}
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	policy := cfg.Policy
	if policy == nil {
		policy = RequireCode
	}

	minter, err := NewTokenMinter(cfg.Tokens, codes)
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}
	minter.now = now

	tokens, err := NewEphemeralTokenStore(deps.Tokens, codes, now)
	if err != nil {
		return nil, err //nolint:wrapcheck // constructor error
	}
	invites, err := NewInviteLedger(deps.Invites, deps.Transactor, codes, now)
	if err != nil {
		return nil, err //nolint:wrapcheck // constructor error
	}

	filler, err := codes.OpaqueToken(ResetTokenLength)
	if err != nil {
		return nil, oops.Code("AUTH_INIT_FAILED").With("operation", "generate dummy secret").Wrap(err)
	}
	dummyHash, err := deps.Hasher.Hash(filler)
	if err != nil {
		return nil, oops.Code("AUTH_INIT_FAILED").With("operation", "hash dummy secret").Wrap(err)
	}

	return &Service{
		users:    deps.Users,
		sessions: deps.Sessions,
		tokens:   tokens,
		invites:  invites,
		tx:       deps.Transactor,
		hasher:   deps.Hasher,
		mailer:   deps.Mailer,
		codes:    codes,
		minter:   minter,
		policy:   policy,
		events:   events,
		logger:   logger,
		now:      now,

		dummyHash: dummyHash,
	}, nil
}

// Minter exposes the token minter so transports can authenticate access tokens.
func (s *Service) Minter() *TokenMinter {
	return s.minter
}

// Policy returns the verification policy in effect.
func (s *Service) Policy() VerificationPolicy {
	return s.policy
}

// record counts the outcome of an operation.
func (s *Service) record(event string, err error) {
	outcome := "success"
	if err != nil {
		outcome = KindOf(err).String()
	}
	s.events.RecordAuthEvent(event, outcome)
}

// issueSession creates a new session for the user and returns its tokens.
func (s *Service) issueSession(ctx context.Context, user *User, meta ClientMeta) (TokenPair, error) {
	id, err := NewSessionID(s.codes)
	if err != nil {
		return TokenPair{}, oops.Code("AUTH_SESSION_CREATE_FAILED").Wrap(err)
	}

	refresh, refreshExp, err := s.minter.MintRefresh(user.ID, id)
	if err != nil {
		return TokenPair{}, oops.Code("AUTH_SESSION_CREATE_FAILED").Wrap(err)
	}
	refreshHash, err := s.hasher.Hash(refresh)
	if err != nil {
		return TokenPair{}, oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "hash refresh token").
			Wrap(err)
	}

	session, err := NewSession(id, user.ID, refreshHash, meta, refreshExp, s.now())
	if err != nil {
		return TokenPair{}, oops.Code("AUTH_SESSION_CREATE_FAILED").Wrap(err)
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return TokenPair{}, oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "persist session").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	access, _, err := s.minter.MintAccess(user.ID, user.Role)
	if err != nil {
		return TokenPair{}, oops.Code("AUTH_SESSION_CREATE_FAILED").Wrap(err)
	}
	return s.pair(access, refresh), nil
}

func (s *Service) pair(access, refresh string) TokenPair {
	return TokenPair{
		AccessToken:           access,
		RefreshToken:          refresh,
		AccessTokenExpiresIn:  s.minter.AccessTTL(),
		RefreshTokenExpiresIn: s.minter.RefreshTTL(),
	}
}

// CurrentUser returns the account behind an authenticated request.
func (s *Service) CurrentUser(ctx context.Context, userID ulid.ULID) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, fail("AUTH_USER_NOT_FOUND", KindNotFound, msgUserNotFound)
		}
		return nil, oops.Code("AUTH_CURRENT_USER_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return user, nil
}
