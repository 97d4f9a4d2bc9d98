// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

// Package httpapi exposes the auth service as a JSON HTTP API.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/commonsforum/commons/internal/auth"
)

// AuthService is the subset of *auth.Service the API calls.
type AuthService interface {
	Register(ctx context.Context, in auth.RegisterInput) (string, error)
	VerifyEmail(ctx context.Context, email, code string) (string, error)
	ResendVerification(ctx context.Context, email string) (string, error)
	Login(ctx context.Context, email, password string, meta auth.ClientMeta) (*auth.AuthResult, error)
	RefreshTokens(ctx context.Context, refreshToken string, meta auth.ClientMeta) (*auth.AuthResult, error)
	Logout(ctx context.Context, refreshToken string) (string, error)
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, email, token, newPassword string) (string, error)
	ValidateInviteCode(ctx context.Context, code string) (*auth.InviteInfo, error)
	CurrentUser(ctx context.Context, userID ulid.ULID) (*auth.User, error)
	SuspendUser(ctx context.Context, actorID, userID ulid.ULID) error
	ReinstateUser(ctx context.Context, actorID, userID ulid.ULID) error
	DeleteUser(ctx context.Context, actorID, userID ulid.ULID) error
	CreateInviteCode(ctx context.Context, actorID ulid.ULID, params auth.CreateInviteParams) (*auth.InviteCode, error)
}

// AccessVerifier validates access tokens. *auth.TokenMinter satisfies it.
type AccessVerifier interface {
	VerifyAccess(token string) (*auth.AccessClaims, error)
}

// RequestObserver records served requests. *observability.Metrics satisfies it.
type RequestObserver interface {
	ObserveRequest(route, method string, status int, elapsed time.Duration)
}

// Options are the API dependencies. Metrics is optional.
type Options struct {
	Service AuthService
	Tokens  AccessVerifier
	Metrics RequestObserver
	Logger  *slog.Logger
}

// API holds the handler dependencies.
type API struct {
	svc      AuthService
	tokens   AccessVerifier
	metrics  RequestObserver
	logger   *slog.Logger
	validate *validator.Validate
}

// New validates opts and builds the API.
func New(opts Options) (*API, error) {
	switch {
	case opts.Service == nil:
		return nil, oops.Errorf("auth service is required")
	case opts.Tokens == nil:
		return nil, oops.Errorf("access token verifier is required")
	case opts.Logger == nil:
		return nil, oops.Errorf("logger is required")
	}
	return &API{
		svc:      opts.Service,
		tokens:   opts.Tokens,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		validate: newValidator(),
	}, nil
}

// Handler returns the routed API.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestContext)
	r.Use(a.instrument)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		a.writeJSON(w, r, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", a.handleRegister)
		r.Post("/verify-email", a.handleVerifyEmail)
		r.Post("/verification/resend", a.handleResendVerification)
		r.Post("/login", a.handleLogin)
		r.Post("/refresh", a.handleRefresh)
		r.Post("/logout", a.handleLogout)
		r.Post("/password/request-reset", a.handleRequestReset)
		r.Post("/password/reset", a.handleResetPassword)
		r.Post("/validate-invite-code", a.handleValidateInvite)

		r.With(a.authenticate).Get("/me", a.handleMe)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(a.authenticate, a.requireAdmin)
		r.Post("/users/{id}/suspend", a.handleSuspend)
		r.Post("/users/{id}/reinstate", a.handleReinstate)
		r.Delete("/users/{id}", a.handleDelete)
		r.Post("/invite-codes", a.handleCreateInvite)
	})

	return r
}
