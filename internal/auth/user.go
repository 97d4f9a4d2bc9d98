// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is a user's forum-wide role.
type Role string

// Roles.
const (
	RoleMember Role = "MEMBER"
	RoleAdmin  Role = "ADMIN"
)

// Status is the account lifecycle state.
type Status string

// Account states. Only ACTIVE accounts may log in or refresh.
const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusDisabled  Status = "DISABLED"
)

// Display name bounds.
const (
	MinDisplayNameLength = 1
	MaxDisplayNameLength = 64
)

// User is a forum account. Users are never hard-deleted.
type User struct {
	ID                         ulid.ULID
	Email                      string
	PasswordHash               string
	DisplayName                string
	Role                       Role
	Status                     Status
	EmailVerifiedAt            *time.Time
	IsRestricted               bool
	RestrictedToSubcommunityID *ulid.ULID
	RegisteredWithInviteID     *ulid.ULID
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// NormalizeEmail trims and lower-cases an address. All lookups go through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewUser creates a validated, unverified MEMBER account.
func NewUser(email, displayName, passwordHash string, now time.Time) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, oops.Code("USER_INVALID_EMAIL").With("email", email).Errorf("email is invalid")
	}
	displayName = strings.TrimSpace(displayName)
	if n := len([]rune(displayName)); n < MinDisplayNameLength || n > MaxDisplayNameLength {
		return nil, oops.Code("USER_INVALID_DISPLAY_NAME").
			With("min", MinDisplayNameLength).
			With("max", MaxDisplayNameLength).
			Errorf("display name must be %d-%d characters", MinDisplayNameLength, MaxDisplayNameLength)
	}
	if strings.TrimSpace(passwordHash) == "" {
		return nil, oops.Code("USER_INVALID_PASSWORD").Errorf("password hash cannot be empty")
	}

	return &User{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  displayName,
		Role:         RoleMember,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsVerified reports whether the email address has been confirmed.
func (u *User) IsVerified() bool {
	return u.EmailVerifiedAt != nil
}

// IsActive reports whether the account may authenticate.
func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

// IsAdmin reports whether the account holds the ADMIN role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// applyInvite records the invite the account registered with, and its
// restriction when the invite is restricted.
func (u *User) applyInvite(invite *InviteCode) {
	if invite == nil {
		return
	}
	id := invite.ID
	u.RegisteredWithInviteID = &id
	if invite.IsRestricted {
		sub := invite.SubcommunityID
		u.IsRestricted = true
		u.RestrictedToSubcommunityID = &sub
	}
}

// anonymize scrubs personal data in place. unusableHash must be a hash of a
// secret nobody knows.
func (u *User) anonymize(unusableHash string, now time.Time) {
	u.Email = "deleted+" + u.ID.String() + "@invalid"
	u.DisplayName = "[deleted]"
	u.PasswordHash = unusableHash
	u.Status = StatusDisabled
	u.UpdatedAt = now
}

// UserRepository manages account persistence.
type UserRepository interface {
	// Create stores a new user. Returns ErrDuplicate if the email is taken.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by normalized email.
	// Returns ErrNotFound if no user has the given email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Update writes every mutable column of an existing user.
	Update(ctx context.Context, user *User) error

	// UpdatePassword updates only the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, at time.Time) error

	// MarkVerified sets the email verification timestamp.
	MarkVerified(ctx context.Context, id ulid.ULID, at time.Time) error

	// SetStatus changes the account status.
	SetStatus(ctx context.Context, id ulid.ULID, status Status, at time.Time) error
}
