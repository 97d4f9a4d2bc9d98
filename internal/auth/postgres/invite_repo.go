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

const inviteColumns = `id, code, subcommunity_id, is_restricted, uses_remaining, expires_at, created_by, created_at`

// InviteRepository implements auth.InviteRepository using PostgreSQL.
type InviteRepository struct {
	pool poolIface
}

// NewInviteRepository creates a new InviteRepository.
func NewInviteRepository(pool poolIface) *InviteRepository {
	return &InviteRepository{pool: pool}
}

// GetByCode retrieves an invite by its code string.
func (r *InviteRepository) GetByCode(ctx context.Context, code string) (*auth.InviteCode, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+inviteColumns+`
		FROM invite_codes
		WHERE code = $1
	`, code)
	return r.get(row, "get invite by code")
}

// GetByCodeForUpdate retrieves an invite and holds its row lock for the
// rest of the transaction in ctx.
func (r *InviteRepository) GetByCodeForUpdate(ctx context.Context, code string) (*auth.InviteCode, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+inviteColumns+`
		FROM invite_codes
		WHERE code = $1
		FOR UPDATE
	`, code)
	return r.get(row, "lock invite by code")
}

func (r *InviteRepository) get(row pgx.Row, operation string) (*auth.InviteCode, error) {
	invite, err := scanInvite(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("INVITE_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("INVITE_GET_FAILED").
			With("operation", operation).
			Wrap(err)
	}
	return invite, nil
}

// DecrementUses lowers uses_remaining by one while it is positive.
func (r *InviteRepository) DecrementUses(ctx context.Context, id ulid.ULID) error {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE invite_codes SET uses_remaining = uses_remaining - 1
		WHERE id = $1 AND uses_remaining > 0
	`, id.String())
	if err != nil {
		return oops.Code("INVITE_DECREMENT_FAILED").
			With("operation", "decrement invite uses").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("INVITE_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// AddMembership joins the user to the subcommunity.
func (r *InviteRepository) AddMembership(ctx context.Context, userID, subcommunityID ulid.ULID, at time.Time) (bool, error) {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO memberships (user_id, subcommunity_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, subcommunity_id) DO NOTHING
	`, userID.String(), subcommunityID.String(), at)
	if err != nil {
		return false, oops.Code("MEMBERSHIP_CREATE_FAILED").
			With("operation", "insert membership").
			With("user_id", userID.String()).
			With("subcommunity_id", subcommunityID.String()).
			Wrap(err)
	}
	return result.RowsAffected() == 1, nil
}

// Create stores a new invite.
func (r *InviteRepository) Create(ctx context.Context, invite *auth.InviteCode) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO invite_codes (`+inviteColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		invite.ID.String(),
		invite.Code,
		invite.SubcommunityID.String(),
		invite.IsRestricted,
		invite.UsesRemaining,
		invite.ExpiresAt,
		nullableString(invite.CreatedBy),
		invite.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("INVITE_DUPLICATE_CODE").Wrap(auth.ErrDuplicate)
		}
		return oops.Code("INVITE_CREATE_FAILED").
			With("operation", "insert invite").
			With("subcommunity_id", invite.SubcommunityID.String()).
			Wrap(err)
	}
	return nil
}

// GetSubcommunity retrieves a subcommunity by ID.
func (r *InviteRepository) GetSubcommunity(ctx context.Context, id ulid.ULID) (*auth.Subcommunity, error) {
	var name, slug string
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT name, slug FROM subcommunities WHERE id = $1
	`, id.String()).Scan(&name, &slug)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SUBCOMMUNITY_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SUBCOMMUNITY_GET_FAILED").
			With("operation", "get subcommunity").
			With("id", id.String()).
			Wrap(err)
	}
	return &auth.Subcommunity{ID: id, Name: name, Slug: slug}, nil
}

// CreateSubcommunity stores a subcommunity. Subcommunities are owned by the
// forum proper; this exists for seeding.
func (r *InviteRepository) CreateSubcommunity(ctx context.Context, sub *auth.Subcommunity) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO subcommunities (id, name, slug) VALUES ($1, $2, $3)
	`, sub.ID.String(), sub.Name, sub.Slug)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("SUBCOMMUNITY_DUPLICATE").With("slug", sub.Slug).Wrap(auth.ErrDuplicate)
		}
		return oops.Code("SUBCOMMUNITY_CREATE_FAILED").
			With("operation", "insert subcommunity").
			Wrap(err)
	}
	return nil
}

// IsMember reports whether the user belongs to the subcommunity.
func (r *InviteRepository) IsMember(ctx context.Context, userID, subcommunityID ulid.ULID) (bool, error) {
	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM memberships WHERE user_id = $1 AND subcommunity_id = $2)
	`, userID.String(), subcommunityID.String()).Scan(&exists)
	if err != nil {
		return false, oops.Code("MEMBERSHIP_GET_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return exists, nil
}

// scanInvite scans a single row into an InviteCode.
// Callers are responsible for handling pgx.ErrNoRows.
func scanInvite(row pgx.Row) (*auth.InviteCode, error) {
	var (
		idStr, code, subStr string
		restricted          bool
		uses                *int
		expiresAt           *time.Time
		createdBy           *string
		createdAt           time.Time
	)

	if err := row.Scan(&idStr, &code, &subStr, &restricted, &uses, &expiresAt, &createdBy, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("INVITE_SCAN_FAILED").
			With("operation", "scan invite").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("INVITE_INVALID_ID").With("id", idStr).Wrap(err)
	}
	subID, err := ulid.Parse(subStr)
	if err != nil {
		return nil, oops.Code("INVITE_INVALID_SUBCOMMUNITY_ID").With("id", idStr).Wrap(err)
	}
	creator, err := parseOptionalID(createdBy)
	if err != nil {
		return nil, oops.Code("INVITE_INVALID_CREATOR_ID").With("id", idStr).Wrap(err)
	}

	return &auth.InviteCode{
		ID:             id,
		Code:           code,
		SubcommunityID: subID,
		IsRestricted:   restricted,
		UsesRemaining:  uses,
		ExpiresAt:      expiresAt,
		CreatedBy:      creator,
		CreatedAt:      createdAt,
	}, nil
}

// Compile-time interface check.
var _ auth.InviteRepository = (*InviteRepository)(nil)
