// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionID identifies a session. The same value is the primary key and the
// sid claim of every refresh token in the session's lineage.
type SessionID string

func (id SessionID) String() string { return string(id) }

// NewSessionID draws a fresh opaque session identifier.
func NewSessionID(codes CodeGenerator) (SessionID, error) {
	raw, err := codes.OpaqueToken(SessionIDLength)
	if err != nil {
		return "", oops.Code("SESSION_ID_GENERATE_FAILED").Wrap(err)
	}
	return SessionID(raw), nil
}

// ClientMeta describes the client presenting credentials.
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// Session tracks one refresh-token lineage. It is rotated in place on each
// refresh and revoked softly.
type Session struct {
	ID        SessionID
	UserID    ulid.ULID
	TokenHash string
	UserAgent string
	IPAddress string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSession creates a validated Session.
func NewSession(id SessionID, userID ulid.ULID, tokenHash string, meta ClientMeta, expiresAt, now time.Time) (*Session, error) {
	if id == "" {
		return nil, oops.Code("SESSION_INVALID_ID").Errorf("session ID cannot be empty")
	}
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(now) {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").
			With("expires_at", expiresAt).
			Errorf("expiry must be in the future")
	}

	return &Session{
		ID:        id,
		UserID:    userID,
		TokenHash: tokenHash,
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsRevoked reports whether the session has been revoked.
func (s *Session) IsRevoked() bool {
	return s.RevokedAt != nil
}

// UsableAt reports whether the session can back a refresh at t.
func (s *Session) UsableAt(t time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(t)
}

// RotateParams is the new state written by a rotation.
type RotateParams struct {
	TokenHash string
	Meta      ClientMeta
	ExpiresAt time.Time
	At        time.Time
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByID retrieves a session by ID, including revoked and expired ones.
	GetByID(ctx context.Context, id SessionID) (*Session, error)

	// Rotate replaces the token hash, metadata and expiry, but only while the
	// session is unrevoked and the stored hash still equals expectedHash.
	// Returns ErrNotFound when no row matched: missing, revoked or superseded.
	Rotate(ctx context.Context, id SessionID, expectedHash string, params RotateParams) error

	// Revoke marks one session revoked. Returns ErrNotFound if it does not exist.
	Revoke(ctx context.Context, id SessionID, at time.Time) error

	// RevokeAllForUser revokes every live session of the user and returns
	// how many were revoked. Zero is not an error.
	RevokeAllForUser(ctx context.Context, userID ulid.ULID, at time.Time) (int64, error)

	// DeleteExpired removes sessions that expired before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
