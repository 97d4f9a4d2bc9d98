// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by repositories when a unique constraint rejects a write.
var ErrDuplicate = errors.New("duplicate")

// Kind classifies a failure for the caller. The zero value is KindInternal.
type Kind uint8

// Failure kinds surfaced by the Service.
const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindConflict
	KindNotFound
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a caller-facing failure. Message is static and safe to show to clients.
type Error struct {
	Kind    Kind
	Message string

	cause error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the failure this one reclassifies, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Public messages. Several call sites share one message on purpose so that
// responses do not reveal which check failed.
const (
	msgInvalidCredentials = "invalid credentials"
	msgInvalidRequest     = "invalid request"
	msgInvalidCode        = "invalid or expired code"
	msgInvalidResetToken  = "invalid or expired reset token"
	msgAccountExists      = "an account with this email already exists"
	msgAccountInactive    = "account is not active"
	msgVerifyFirst        = "please verify your email; we sent you a new code"
	msgInvalidSession     = "invalid or expired session"
	msgInviteNotFound     = "invite code not found"
	msgInviteExpired      = "invite code has expired"
	msgInviteExhausted    = "invite code has no uses remaining"
	msgUserNotFound       = "user not found"

	msgSubcommunityNotFound = "subcommunity not found"
	msgAdminRequired        = "administrator role required"
	msgCannotModerateSelf   = "administrators cannot moderate their own account"
	msgAccountDeleted       = "account has been deleted"
	msgInvalidInviteParams  = "invite codes need at least one use and a future expiry"
)

// Sentinel ledger errors. They carry their kind so callers can compare with errors.Is.
var (
	ErrInviteNotFound  = &Error{Kind: KindNotFound, Message: msgInviteNotFound}
	ErrInviteExpired   = &Error{Kind: KindBadRequest, Message: msgInviteExpired}
	ErrInviteExhausted = &Error{Kind: KindBadRequest, Message: msgInviteExhausted}
)

// fail builds an oops error with the given code wrapping a caller-facing Error.
func fail(code string, kind Kind, msg string) error {
	return oops.Code(code).Wrap(&Error{Kind: kind, Message: msg})
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// KindOf reports the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns the caller-facing message carried by err, or fallback.
func PublicMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return fallback
}
