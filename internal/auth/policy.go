// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth

import (
	"context"
	"time"

	"github.com/samber/oops"
)

// VerificationPolicy decides how a freshly registered account gets its email
// verified. It is chosen once when the Service is built.
type VerificationPolicy interface {
	// Name identifies the policy in logs.
	Name() string

	// begin runs inside the registration transaction after the user row is
	// written. It returns the code to email after commit, or "" when no mail
	// is needed.
	begin(ctx context.Context, users UserRepository, tokens *EphemeralTokenStore, user *User, now time.Time) (string, error)
}

// Verification policies.
var (
	// RequireCode issues a six digit code that the user must submit.
	RequireCode VerificationPolicy = requireCode{}

	// AutoVerify marks accounts verified at creation and sends no mail.
	AutoVerify VerificationPolicy = autoVerify{}
)

// PolicyFor maps the skip-verification toggle to a policy.
func PolicyFor(skipEmailVerification bool) VerificationPolicy {
	if skipEmailVerification {
		return AutoVerify
	}
	return RequireCode
}

type requireCode struct{}

func (requireCode) Name() string { return "require_code" }

func (requireCode) begin(ctx context.Context, _ UserRepository, tokens *EphemeralTokenStore, user *User, _ time.Time) (string, error) {
	code, _, err := tokens.Issue(ctx, TokenEmailVerification, user.ID)
	if err != nil {
		return "", err //nolint:wrapcheck // already coded by the store
	}
	return code, nil
}

type autoVerify struct{}

func (autoVerify) Name() string { return "auto_verify" }

func (autoVerify) begin(ctx context.Context, users UserRepository, _ *EphemeralTokenStore, user *User, now time.Time) (string, error) {
	if err := users.MarkVerified(ctx, user.ID, now); err != nil {
		return "", oops.Code("AUTH_AUTO_VERIFY_FAILED").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	user.EmailVerifiedAt = &now
	return "", nil
}
