// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commonsforum/commons/internal/auth"
	"github.com/commonsforum/commons/pkg/errutil"
)

func newLedger(t *testing.T, store *memStore, now time.Time) *auth.InviteLedger {
	t.Helper()
	ledger, err := auth.NewInviteLedger(fakeInvites{store}, &fakeTx{store: store}, auth.NewSecureCodeGenerator(),
		func() time.Time { return now })
	require.NoError(t, err)
	return ledger
}

func TestInviteLedger_Validate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore()
	sub := store.addSubcommunity("go")
	ledger := newLedger(t, store, now)

	exact := now
	later := now.Add(time.Second)
	zero := 0
	one := 1
	store.addInvite(auth.InviteCode{Code: "EXPIRES-NOW", SubcommunityID: sub.ID, ExpiresAt: &exact})
	store.addInvite(auth.InviteCode{Code: "EXPIRES-LATER", SubcommunityID: sub.ID, ExpiresAt: &later})
	store.addInvite(auth.InviteCode{Code: "NO-USES", SubcommunityID: sub.ID, UsesRemaining: &zero})
	store.addInvite(auth.InviteCode{Code: "ONE-USE", SubcommunityID: sub.ID, UsesRemaining: &one})

	tests := []struct {
		code    string
		wantErr error
	}{
		{"EXPIRES-NOW", auth.ErrInviteExpired},
		{"EXPIRES-LATER", nil},
		{"NO-USES", auth.ErrInviteExhausted},
		{"ONE-USE", nil},
		{"MISSING", auth.ErrInviteNotFound},
		{"   ", auth.ErrInviteNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			invite, err := ledger.Validate(ctx, tt.code)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, sub.ID, invite.SubcommunityID)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("not found is coded", func(t *testing.T) {
		_, err := ledger.Validate(ctx, "MISSING")
		errutil.AssertErrorCode(t, err, "INVITE_NOT_FOUND")
	})
}

func TestInviteLedger_Redeem(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("consumes a use even when already a member", func(t *testing.T) {
		store := newMemStore()
		sub := store.addSubcommunity("go")
		uses := 3
		inv := store.addInvite(auth.InviteCode{Code: "GO", SubcommunityID: sub.ID, UsesRemaining: &uses})
		ledger := newLedger(t, store, now)
		user := ulid.Make()

		first, err := ledger.Redeem(ctx, "GO", user)
		require.NoError(t, err)
		assert.True(t, first.Joined)
		assert.Equal(t, 2, *first.Invite.UsesRemaining)

		second, err := ledger.Redeem(ctx, "GO", user)
		require.NoError(t, err)
		assert.False(t, second.Joined)
		assert.Equal(t, 1, *store.invite(inv.ID).UsesRemaining)
	})

	t.Run("never drops below zero under contention", func(t *testing.T) {
		store := newMemStore()
		sub := store.addSubcommunity("go")
		uses := 3
		inv := store.addInvite(auth.InviteCode{Code: "GO", SubcommunityID: sub.ID, UsesRemaining: &uses})
		ledger := newLedger(t, store, now)

		const n = 10
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := range n {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = ledger.Redeem(ctx, "GO", ulid.Make())
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, auth.ErrInviteExhausted)
		}
		assert.Equal(t, 3, ok)
		assert.Equal(t, 0, *store.invite(inv.ID).UsesRemaining)
	})

	t.Run("unlimited codes are not decremented", func(t *testing.T) {
		store := newMemStore()
		sub := store.addSubcommunity("go")
		inv := store.addInvite(auth.InviteCode{Code: "GO", SubcommunityID: sub.ID})
		ledger := newLedger(t, store, now)

		for range 5 {
			_, err := ledger.Redeem(ctx, "GO", ulid.Make())
			require.NoError(t, err)
		}
		assert.Nil(t, store.invite(inv.ID).UsesRemaining)
	})
}

func TestNewInviteLedger_RequiresDependencies(t *testing.T) {
	store := newMemStore()
	_, err := auth.NewInviteLedger(nil, &fakeTx{store: store}, auth.NewSecureCodeGenerator(), nil)
	assert.Error(t, err)
	_, err = auth.NewInviteLedger(fakeInvites{store}, nil, auth.NewSecureCodeGenerator(), nil)
	assert.Error(t, err)
	_, err = auth.NewInviteLedger(fakeInvites{store}, &fakeTx{store: store}, nil, nil)
	assert.Error(t, err)
}
