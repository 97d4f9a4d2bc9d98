// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenKind discriminates single-use tokens.
type TokenKind string

// Token kinds.
const (
	TokenEmailVerification TokenKind = "email_verification"
	TokenPasswordReset     TokenKind = "password_reset"
)

// Token lifetimes.
const (
	VerificationTokenTTL = 10 * time.Minute
	ResetTokenTTL        = 30 * time.Minute
)

// TTL returns the lifetime of tokens of this kind.
func (k TokenKind) TTL() time.Duration {
	if k == TokenPasswordReset {
		return ResetTokenTTL
	}
	return VerificationTokenTTL
}

// stored maps a plaintext to the persisted value. Reset tokens are stored as
// a SHA-256 digest; verification codes are stored as-is.
func (k TokenKind) stored(plaintext string) string {
	if k == TokenPasswordReset {
		h := sha256.Sum256([]byte(plaintext))
		return hex.EncodeToString(h[:])
	}
	return plaintext
}

func (k TokenKind) valid() bool {
	return k == TokenEmailVerification || k == TokenPasswordReset
}

// EphemeralToken is a single-use, time-boxed token.
type EphemeralToken struct {
	ID        ulid.ULID
	Kind      TokenKind
	UserID    ulid.ULID
	Value     string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// ActiveAt reports whether the token is unused and unexpired at t.
func (t *EphemeralToken) ActiveAt(at time.Time) bool {
	return t.UsedAt == nil && t.ExpiresAt.After(at)
}

// Matches compares a plaintext against the stored value in constant time.
func (t *EphemeralToken) Matches(plaintext string) bool {
	if plaintext == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(t.Kind.stored(plaintext)), []byte(t.Value)) == 1
}

// EphemeralTokenRepository manages single-use token persistence.
type EphemeralTokenRepository interface {
	// Create stores a new token.
	Create(ctx context.Context, token *EphemeralToken) error

	// DeleteForUser removes every token of the kind belonging to the user.
	DeleteForUser(ctx context.Context, kind TokenKind, userID ulid.ULID) error

	// FindActiveForUser returns the most recent unused token of the kind
	// that has not expired at now. Returns ErrNotFound otherwise.
	FindActiveForUser(ctx context.Context, kind TokenKind, userID ulid.ULID, now time.Time) (*EphemeralToken, error)

	// FindActiveByValue returns the unused, unexpired token with the stored
	// value. Returns ErrNotFound otherwise.
	FindActiveByValue(ctx context.Context, kind TokenKind, value string, now time.Time) (*EphemeralToken, error)

	// MarkUsed sets the used timestamp. Returns ErrNotFound if the token is
	// missing or already used.
	MarkUsed(ctx context.Context, id ulid.ULID, at time.Time) error

	// DeleteExpired removes unused tokens that expired before the given time.
	// Consumed tokens are kept.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// EphemeralTokenStore issues, finds and consumes ephemeral tokens.
type EphemeralTokenStore struct {
	repo  EphemeralTokenRepository
	codes CodeGenerator
	now   func() time.Time
}

// NewEphemeralTokenStore creates an EphemeralTokenStore.
func NewEphemeralTokenStore(repo EphemeralTokenRepository, codes CodeGenerator, now func() time.Time) (*EphemeralTokenStore, error) {
	if repo == nil {
		return nil, oops.Errorf("token repository is required")
	}
	if codes == nil {
		return nil, oops.Errorf("code generator is required")
	}
	if now == nil {
		now = time.Now
	}
	return &EphemeralTokenStore{repo: repo, codes: codes, now: now}, nil
}

// Issue invalidates every prior token of the kind for the user and creates a
// new one. It returns the plaintext to deliver to the user. Callers wanting
// the delete and insert to be atomic run Issue inside a transaction.
func (s *EphemeralTokenStore) Issue(ctx context.Context, kind TokenKind, userID ulid.ULID) (string, *EphemeralToken, error) {
	if !kind.valid() {
		return "", nil, oops.Code("TOKEN_INVALID_KIND").With("kind", string(kind)).Errorf("unknown token kind")
	}

	var (
		plaintext string
		err       error
	)
	if kind == TokenPasswordReset {
		plaintext, err = s.codes.OpaqueToken(ResetTokenLength)
	} else {
		plaintext, err = s.codes.NumericCode()
	}
	if err != nil {
		return "", nil, oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "generate value").
			With("kind", string(kind)).
			Wrap(err)
	}

	if err := s.repo.DeleteForUser(ctx, kind, userID); err != nil {
		return "", nil, oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "delete prior tokens").
			With("kind", string(kind)).
			With("user_id", userID.String()).
			Wrap(err)
	}

	now := s.now()
	token := &EphemeralToken{
		ID:        ulid.Make(),
		Kind:      kind,
		UserID:    userID,
		Value:     kind.stored(plaintext),
		ExpiresAt: now.Add(kind.TTL()),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, token); err != nil {
		return "", nil, oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "create token").
			With("kind", string(kind)).
			With("user_id", userID.String()).
			Wrap(err)
	}
	return plaintext, token, nil
}

// FindActiveForUser returns the user's active token of the kind. Expired,
// used and missing tokens all yield ErrNotFound.
func (s *EphemeralTokenStore) FindActiveForUser(ctx context.Context, kind TokenKind, userID ulid.ULID) (*EphemeralToken, error) {
	token, err := s.repo.FindActiveForUser(ctx, kind, userID, s.now())
	if err != nil {
		return nil, err //nolint:wrapcheck // ErrNotFound must stay comparable
	}
	return token, nil
}

// FindActiveByValue looks a token up by its plaintext. Expired, used and
// missing tokens all yield ErrNotFound.
func (s *EphemeralTokenStore) FindActiveByValue(ctx context.Context, kind TokenKind, plaintext string) (*EphemeralToken, error) {
	if plaintext == "" {
		return nil, ErrNotFound
	}
	token, err := s.repo.FindActiveByValue(ctx, kind, kind.stored(plaintext), s.now())
	if err != nil {
		return nil, err //nolint:wrapcheck // ErrNotFound must stay comparable
	}
	return token, nil
}

// Consume marks the token used. Tokens are never deleted on use.
func (s *EphemeralTokenStore) Consume(ctx context.Context, token *EphemeralToken) error {
	now := s.now()
	if err := s.repo.MarkUsed(ctx, token.ID, now); err != nil {
		return oops.Code("TOKEN_CONSUME_FAILED").
			With("token_id", token.ID.String()).
			With("kind", string(token.Kind)).
			Wrap(err)
	}
	token.UsedAt = &now
	return nil
}
