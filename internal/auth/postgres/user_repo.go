// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/commonsforum/commons/internal/auth"
)

const userColumns = `id, email, password_hash, display_name, role, status, email_verified_at,
		is_restricted, restricted_to_subcommunity_id, registered_with_invite_id, created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool poolIface
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		user.ID.String(),
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		string(user.Role),
		string(user.Status),
		user.EmailVerifiedAt,
		user.IsRestricted,
		nullableString(user.RestrictedToSubcommunityID),
		nullableString(user.RegisteredWithInviteID),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("USER_DUPLICATE_EMAIL").
				With("email", user.Email).
				Wrap(auth.ErrDuplicate)
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by normalized email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

// Update writes every mutable column of an existing user.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET
			email = $2,
			password_hash = $3,
			display_name = $4,
			role = $5,
			status = $6,
			email_verified_at = $7,
			is_restricted = $8,
			restricted_to_subcommunity_id = $9,
			registered_with_invite_id = $10,
			updated_at = $11
		WHERE id = $1
	`,
		user.ID.String(),
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		string(user.Role),
		string(user.Status),
		user.EmailVerifiedAt,
		user.IsRestricted,
		nullableString(user.RestrictedToSubcommunityID),
		nullableString(user.RegisteredWithInviteID),
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("USER_DUPLICATE_EMAIL").
				With("id", user.ID.String()).
				Wrap(auth.ErrDuplicate)
		}
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePassword updates only the password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, at time.Time) error {
	return r.exec(ctx, "update password", id, `
		UPDATE users SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), passwordHash, at)
}

// MarkVerified sets the email verification timestamp.
func (r *UserRepository) MarkVerified(ctx context.Context, id ulid.ULID, at time.Time) error {
	return r.exec(ctx, "mark verified", id, `
		UPDATE users SET email_verified_at = $2, updated_at = $2
		WHERE id = $1
	`, id.String(), at)
}

// SetStatus changes the account status.
func (r *UserRepository) SetStatus(ctx context.Context, id ulid.ULID, status auth.Status, at time.Time) error {
	return r.exec(ctx, "set status", id, `
		UPDATE users SET status = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), string(status), at)
}

// exec runs a single-row update and maps zero affected rows to ErrNotFound.
func (r *UserRepository) exec(ctx context.Context, operation string, id ulid.ULID, sql string, args ...any) error {
	result, err := conn(ctx, r.pool).Exec(ctx, sql, args...)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", operation).
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr, email, hash, name string
		role, status             string
		verifiedAt               *time.Time
		restricted               bool
		restrictedTo, inviteID   *string
		createdAt, updatedAt     time.Time
	)

	err := row.Scan(&idStr, &email, &hash, &name, &role, &status, &verifiedAt,
		&restricted, &restrictedTo, &inviteID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", idStr).Wrap(err)
	}
	restrictedToID, err := parseOptionalID(restrictedTo)
	if err != nil {
		return nil, oops.Code("USER_INVALID_SUBCOMMUNITY_ID").With("id", idStr).Wrap(err)
	}
	invite, err := parseOptionalID(inviteID)
	if err != nil {
		return nil, oops.Code("USER_INVALID_INVITE_ID").With("id", idStr).Wrap(err)
	}

	return &auth.User{
		ID:                         id,
		Email:                      email,
		PasswordHash:               hash,
		DisplayName:                name,
		Role:                       auth.Role(role),
		Status:                     auth.Status(status),
		EmailVerifiedAt:            verifiedAt,
		IsRestricted:               restricted,
		RestrictedToSubcommunityID: restrictedToID,
		RegisteredWithInviteID:     invite,
		CreatedAt:                  createdAt,
		UpdatedAt:                  updatedAt,
	}, nil
}

func parseOptionalID(s *string) (*ulid.ULID, error) {
	if s == nil {
		return nil, nil
	}
	id, err := ulid.Parse(*s)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers add context
	}
	return &id, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
