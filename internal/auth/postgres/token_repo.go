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

const tokenColumns = `id, kind, user_id, value, expires_at, used_at, created_at`

// TokenRepository implements auth.EphemeralTokenRepository using PostgreSQL.
type TokenRepository struct {
	pool poolIface
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(pool poolIface) *TokenRepository {
	return &TokenRepository{pool: pool}
}

// Create stores a new token.
func (r *TokenRepository) Create(ctx context.Context, token *auth.EphemeralToken) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO ephemeral_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		token.ID.String(),
		string(token.Kind),
		token.UserID.String(),
		token.Value,
		token.ExpiresAt,
		token.UsedAt,
		token.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("TOKEN_DUPLICATE").
				With("kind", string(token.Kind)).
				Wrap(auth.ErrDuplicate)
		}
		return oops.Code("TOKEN_CREATE_FAILED").
			With("operation", "insert token").
			With("kind", string(token.Kind)).
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteForUser removes every token of the kind belonging to the user.
func (r *TokenRepository) DeleteForUser(ctx context.Context, kind auth.TokenKind, userID ulid.ULID) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM ephemeral_tokens WHERE kind = $1 AND user_id = $2
	`, string(kind), userID.String())
	if err != nil {
		return oops.Code("TOKEN_DELETE_FAILED").
			With("operation", "delete tokens by user").
			With("kind", string(kind)).
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// FindActiveForUser returns the user's most recent active token of the kind.
func (r *TokenRepository) FindActiveForUser(ctx context.Context, kind auth.TokenKind, userID ulid.ULID, now time.Time) (*auth.EphemeralToken, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM ephemeral_tokens
		WHERE kind = $1 AND user_id = $2 AND used_at IS NULL AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1
	`, string(kind), userID.String(), now)
	return r.find(row, "find active token by user")
}

// FindActiveByValue returns the active token with the stored value.
func (r *TokenRepository) FindActiveByValue(ctx context.Context, kind auth.TokenKind, value string, now time.Time) (*auth.EphemeralToken, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM ephemeral_tokens
		WHERE kind = $1 AND value = $2 AND used_at IS NULL AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1
	`, string(kind), value, now)
	return r.find(row, "find active token by value")
}

func (r *TokenRepository) find(row pgx.Row, operation string) (*auth.EphemeralToken, error) {
	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").
			With("operation", operation).
			Wrap(err)
	}
	return token, nil
}

// MarkUsed sets the used timestamp of an unused token.
func (r *TokenRepository) MarkUsed(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE ephemeral_tokens SET used_at = $2
		WHERE id = $1 AND used_at IS NULL
	`, id.String(), at)
	if err != nil {
		return oops.Code("TOKEN_MARK_USED_FAILED").
			With("operation", "mark token used").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("TOKEN_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteExpired removes unused tokens that expired before the given time.
// Consumed tokens stay as a record of use.
func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM ephemeral_tokens WHERE expires_at < $1 AND used_at IS NULL
	`, before)
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanToken scans a single row into an EphemeralToken.
// Callers are responsible for handling pgx.ErrNoRows.
func scanToken(row pgx.Row) (*auth.EphemeralToken, error) {
	var (
		idStr, kind, userIDStr, value string
		expiresAt, createdAt          time.Time
		usedAt                        *time.Time
	)

	if err := row.Scan(&idStr, &kind, &userIDStr, &value, &expiresAt, &usedAt, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("TOKEN_SCAN_FAILED").
			With("operation", "scan token").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_ID").With("id", idStr).Wrap(err)
	}
	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_USER_ID").With("user_id", userIDStr).Wrap(err)
	}

	return &auth.EphemeralToken{
		ID:        id,
		Kind:      auth.TokenKind(kind),
		UserID:    userID,
		Value:     value,
		ExpiresAt: expiresAt,
		UsedAt:    usedAt,
		CreatedAt: createdAt,
	}, nil
}

// Compile-time interface check.
var _ auth.EphemeralTokenRepository = (*TokenRepository)(nil)
