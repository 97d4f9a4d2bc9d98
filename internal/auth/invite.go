// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Subcommunity is the part of a subcommunity the ledger needs.
type Subcommunity struct {
	ID   ulid.ULID
	Name string
	Slug string
}

// InviteCode grants registration and an automatic subcommunity join.
// A nil UsesRemaining means unlimited; otherwise it is never negative.
type InviteCode struct {
	ID             ulid.ULID
	Code           string
	SubcommunityID ulid.ULID
	IsRestricted   bool
	UsesRemaining  *int
	ExpiresAt      *time.Time
	CreatedBy      *ulid.ULID
	CreatedAt      time.Time
}

// checkAt returns the ledger error that makes the code unusable at t, if any.
func (c *InviteCode) checkAt(t time.Time) error {
	if c.ExpiresAt != nil && !c.ExpiresAt.After(t) {
		return ErrInviteExpired
	}
	if c.UsesRemaining != nil && *c.UsesRemaining <= 0 {
		return ErrInviteExhausted
	}
	return nil
}

// Redemption is the outcome of a successful redeem.
type Redemption struct {
	Invite *InviteCode
	// Joined is false when the user was already a member.
	Joined bool
}

// CreateInviteParams describes a new invite code.
type CreateInviteParams struct {
	SubcommunityID ulid.ULID
	IsRestricted   bool
	MaxUses        *int
	ExpiresAt      *time.Time
	CreatedBy      ulid.ULID
}

// InviteRepository manages invite codes, subcommunities and memberships.
type InviteRepository interface {
	// GetByCode retrieves an invite by its code string.
	GetByCode(ctx context.Context, code string) (*InviteCode, error)

	// GetByCodeForUpdate retrieves an invite and locks its row until the
	// surrounding transaction ends.
	GetByCodeForUpdate(ctx context.Context, code string) (*InviteCode, error)

	// DecrementUses lowers uses_remaining by one while it is positive.
	// Returns ErrNotFound when no row was changed.
	DecrementUses(ctx context.Context, id ulid.ULID) error

	// AddMembership joins the user to the subcommunity. It reports false
	// when the membership already existed.
	AddMembership(ctx context.Context, userID, subcommunityID ulid.ULID, at time.Time) (bool, error)

	// Create stores a new invite. Returns ErrDuplicate if the code is taken.
	Create(ctx context.Context, invite *InviteCode) error

	// GetSubcommunity retrieves a subcommunity by ID.
	GetSubcommunity(ctx context.Context, id ulid.ULID) (*Subcommunity, error)
}

// InviteLedger validates and redeems invite codes.
type InviteLedger struct {
	repo  InviteRepository
	tx    Transactor
	codes CodeGenerator
	now   func() time.Time
}

// NewInviteLedger creates an InviteLedger.
func NewInviteLedger(repo InviteRepository, tx Transactor, codes CodeGenerator, now func() time.Time) (*InviteLedger, error) {
	if repo == nil {
		return nil, oops.Errorf("invite repository is required")
	}
	if tx == nil {
		return nil, oops.Errorf("transactor is required")
	}
	if codes == nil {
		return nil, oops.Errorf("code generator is required")
	}
	if now == nil {
		now = time.Now
	}
	return &InviteLedger{repo: repo, tx: tx, codes: codes, now: now}, nil
}

// Validate returns the invite if it can be redeemed now. It fails with
// ErrInviteNotFound, ErrInviteExpired or ErrInviteExhausted.
func (l *InviteLedger) Validate(ctx context.Context, code string) (*InviteCode, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, oops.Code("INVITE_NOT_FOUND").Wrap(ErrInviteNotFound)
	}

	invite, err := l.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("INVITE_NOT_FOUND").With("code", code).Wrap(ErrInviteNotFound)
		}
		return nil, oops.Code("INVITE_VALIDATE_FAILED").
			With("operation", "get invite by code").
			Wrap(err)
	}
	if err := invite.checkAt(l.now()); err != nil {
		return nil, oops.Code("INVITE_UNUSABLE").With("code", code).Wrap(err)
	}
	return invite, nil
}

// Redeem re-validates the code under a row lock, joins the user to the
// invite's subcommunity when not already a member, and consumes one use of
// a limited code. It joins the caller's transaction when there is one.
//
// A use is consumed on every successful redemption, including when the
// membership already existed.
func (l *InviteLedger) Redeem(ctx context.Context, code string, userID ulid.ULID) (*Redemption, error) {
	code = strings.TrimSpace(code)
	var redemption *Redemption

	err := l.tx.InTransaction(ctx, func(ctx context.Context) error {
		invite, err := l.repo.GetByCodeForUpdate(ctx, code)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return oops.Code("INVITE_NOT_FOUND").With("code", code).Wrap(ErrInviteNotFound)
			}
			return oops.Code("INVITE_REDEEM_FAILED").
				With("operation", "lock invite").
				Wrap(err)
		}

		now := l.now()
		if err := invite.checkAt(now); err != nil {
			return oops.Code("INVITE_UNUSABLE").With("code", code).Wrap(err)
		}

		joined, err := l.repo.AddMembership(ctx, userID, invite.SubcommunityID, now)
		if err != nil {
			return oops.Code("INVITE_REDEEM_FAILED").
				With("operation", "add membership").
				With("user_id", userID.String()).
				With("subcommunity_id", invite.SubcommunityID.String()).
				Wrap(err)
		}

		if invite.UsesRemaining != nil {
			if err := l.repo.DecrementUses(ctx, invite.ID); err != nil {
				if errors.Is(err, ErrNotFound) {
					return oops.Code("INVITE_UNUSABLE").With("code", code).Wrap(ErrInviteExhausted)
				}
				return oops.Code("INVITE_REDEEM_FAILED").
					With("operation", "decrement uses").
					With("invite_id", invite.ID.String()).
					Wrap(err)
			}
			remaining := *invite.UsesRemaining - 1
			invite.UsesRemaining = &remaining
		}

		redemption = &Redemption{Invite: invite, Joined: joined}
		return nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // ledger errors are already coded
	}
	return redemption, nil
}

// Create mints a new invite code for a subcommunity.
func (l *InviteLedger) Create(ctx context.Context, params CreateInviteParams) (*InviteCode, error) {
	if params.MaxUses != nil && *params.MaxUses < 1 {
		return nil, fail("INVITE_INVALID_USES", KindBadRequest, msgInvalidInviteParams)
	}
	now := l.now()
	if params.ExpiresAt != nil && !params.ExpiresAt.After(now) {
		return nil, fail("INVITE_INVALID_EXPIRY", KindBadRequest, msgInvalidInviteParams)
	}

	if _, err := l.repo.GetSubcommunity(ctx, params.SubcommunityID); err != nil {
		return nil, oops.Code("INVITE_CREATE_FAILED").
			With("operation", "get subcommunity").
			With("subcommunity_id", params.SubcommunityID.String()).
			Wrap(err)
	}

	code, err := l.codes.OpaqueToken(InviteCodeLength)
	if err != nil {
		return nil, oops.Code("INVITE_CREATE_FAILED").
			With("operation", "generate code").
			Wrap(err)
	}

	creator := params.CreatedBy
	invite := &InviteCode{
		ID:             ulid.Make(),
		Code:           code,
		SubcommunityID: params.SubcommunityID,
		IsRestricted:   params.IsRestricted,
		UsesRemaining:  params.MaxUses,
		ExpiresAt:      params.ExpiresAt,
		CreatedBy:      &creator,
		CreatedAt:      now,
	}
	if err := l.repo.Create(ctx, invite); err != nil {
		return nil, oops.Code("INVITE_CREATE_FAILED").
			With("operation", "persist invite").
			Wrap(err)
	}
	return invite, nil
}

// Subcommunity returns the subcommunity an invite targets.
func (l *InviteLedger) Subcommunity(ctx context.Context, invite *InviteCode) (*Subcommunity, error) {
	sub, err := l.repo.GetSubcommunity(ctx, invite.SubcommunityID)
	if err != nil {
		return nil, oops.Code("INVITE_SUBCOMMUNITY_FAILED").
			With("subcommunity_id", invite.SubcommunityID.String()).
			Wrap(err)
	}
	return sub, nil
}
