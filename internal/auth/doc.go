// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

// Package auth implements the Commons session and credential lifecycle.
//
// # Domain Types
//
// Domain types should be created with their constructors:
//   - NewUser - creates an unverified member account with a normalized email
//   - NewSession - creates a Session bound to one refresh-token lineage
//
// Ephemeral tokens and invite codes are created through EphemeralTokenStore
// and InviteLedger, which own their generation rules.
//
// # Services
//
// Service coordinates registration, email verification, login, token
// refresh, logout, password reset and account moderation. Every multi-step
// change runs through a Transactor; repositories declared here pick the
// transaction up from the context. Caller-facing failures carry an *Error
// whose Kind the transport maps to a status code.
//
// Janitor deletes expired sessions and tokens in the background.
package auth
