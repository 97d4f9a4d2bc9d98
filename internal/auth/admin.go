// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// requireAdmin loads the acting account and checks it is an active admin.
func (s *Service) requireAdmin(ctx context.Context, actorID ulid.ULID) (*User, error) {
	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		if isNotFound(err) {
			return nil, fail("AUTH_FORBIDDEN", KindForbidden, msgAdminRequired)
		}
		return nil, oops.Code("AUTH_ADMIN_CHECK_FAILED").
			With("actor_id", actorID.String()).
			Wrap(err)
	}
	if !actor.IsActive() || !actor.IsAdmin() {
		return nil, fail("AUTH_FORBIDDEN", KindForbidden, msgAdminRequired)
	}
	return actor, nil
}

// loadTarget fetches the account an admin action applies to.
func (s *Service) loadTarget(ctx context.Context, actorID, userID ulid.ULID) (*User, error) {
	if actorID == userID {
		return nil, fail("AUTH_SELF_MODERATION", KindBadRequest, msgCannotModerateSelf)
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, fail("AUTH_USER_NOT_FOUND", KindNotFound, msgUserNotFound)
		}
		return nil, oops.Code("AUTH_MODERATION_FAILED").
			With("operation", "get user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if user.Status == StatusDisabled {
		return nil, fail("AUTH_ACCOUNT_DELETED", KindConflict, msgAccountDeleted)
	}
	return user, nil
}

// SuspendUser suspends an account and revokes all of its sessions in one
// transaction.
func (s *Service) SuspendUser(ctx context.Context, actorID, userID ulid.ULID) (err error) {
	defer func() { s.record("suspend_user", err) }()

	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}

	return s.tx.InTransaction(ctx, func(ctx context.Context) error {
		user, err := s.loadTarget(ctx, actorID, userID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := s.users.SetStatus(ctx, user.ID, StatusSuspended, now); err != nil {
			return oops.Code("AUTH_SUSPEND_FAILED").
				With("operation", "set status").
				With("user_id", user.ID.String()).
				Wrap(err)
		}
		revoked, err := s.sessions.RevokeAllForUser(ctx, user.ID, now)
		if err != nil {
			return oops.Code("AUTH_SUSPEND_FAILED").
				With("operation", "revoke sessions").
				With("user_id", user.ID.String()).
				Wrap(err)
		}
		s.logger.InfoContext(ctx, "user suspended",
			"actor_id", actorID.String(),
			"user_id", user.ID.String(),
			"sessions_revoked", revoked)
		return nil
	})
}

// ReinstateUser returns a suspended account to ACTIVE. Deleted accounts
// cannot be reinstated.
func (s *Service) ReinstateUser(ctx context.Context, actorID, userID ulid.ULID) (err error) {
	defer func() { s.record("reinstate_user", err) }()

	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}

	user, err := s.loadTarget(ctx, actorID, userID)
	if err != nil {
		return err
	}
	if err := s.users.SetStatus(ctx, user.ID, StatusActive, s.now()); err != nil {
		return oops.Code("AUTH_REINSTATE_FAILED").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "user reinstated",
		"actor_id", actorID.String(),
		"user_id", user.ID.String())
	return nil
}

// DeleteUser anonymizes an account, disables it and revokes all of its
// sessions in one transaction. The row is kept.
func (s *Service) DeleteUser(ctx context.Context, actorID, userID ulid.ULID) (err error) {
	defer func() { s.record("delete_user", err) }()

	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}

	secret, err := s.codes.OpaqueToken(ResetTokenLength)
	if err != nil {
		return oops.Code("AUTH_DELETE_FAILED").
			With("operation", "generate filler secret").
			Wrap(err)
	}
	unusable, err := s.hasher.Hash(secret)
	if err != nil {
		return oops.Code("AUTH_DELETE_FAILED").
			With("operation", "hash filler secret").
			Wrap(err)
	}

	return s.tx.InTransaction(ctx, func(ctx context.Context) error {
		user, err := s.loadTarget(ctx, actorID, userID)
		if err != nil {
			return err
		}
		now := s.now()
		user.anonymize(unusable, now)
		if err := s.users.Update(ctx, user); err != nil {
			return oops.Code("AUTH_DELETE_FAILED").
				With("operation", "anonymize user").
				With("user_id", user.ID.String()).
				Wrap(err)
		}
		if _, err := s.sessions.RevokeAllForUser(ctx, user.ID, now); err != nil {
			return oops.Code("AUTH_DELETE_FAILED").
				With("operation", "revoke sessions").
				With("user_id", user.ID.String()).
				Wrap(err)
		}
		s.logger.InfoContext(ctx, "user deleted",
			"actor_id", actorID.String(),
			"user_id", user.ID.String())
		return nil
	})
}

// CreateInviteCode mints an invite for a subcommunity on behalf of an admin.
func (s *Service) CreateInviteCode(ctx context.Context, actorID ulid.ULID, params CreateInviteParams) (invite *InviteCode, err error) {
	defer func() { s.record("create_invite", err) }()

	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	params.CreatedBy = actorID

	invite, err = s.invites.Create(ctx, params)
	if err != nil {
		if isNotFound(err) {
			return nil, fail("AUTH_SUBCOMMUNITY_NOT_FOUND", KindNotFound, msgSubcommunityNotFound)
		}
		return nil, err //nolint:wrapcheck // already coded
	}
	return invite, nil
}
