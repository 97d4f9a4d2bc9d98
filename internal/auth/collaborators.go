// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth

import "context"

// Transactor runs a function inside a database transaction. Repositories
// called with the ctx passed to fn take part in that transaction. A call made
// with a ctx that already carries a transaction joins it.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Mailer delivers account emails.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, email, code string) error
	SendPasswordResetEmail(ctx context.Context, email, token string) error
}

// EventRecorder counts authentication outcomes.
type EventRecorder interface {
	RecordAuthEvent(event, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthEvent(string, string) {}
