// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/commonsforum/commons/internal/auth"
	"github.com/commonsforum/commons/internal/logging"
)

const (
	msgMissingToken = "missing bearer token"
	msgInvalidToken = "invalid or expired access token"
	msgAdminOnly    = "administrator role required"
)

// Principal is the caller identified by a verified access token.
type Principal struct {
	UserID ulid.ULID
	Role   auth.Role
}

type principalKey struct{}

// PrincipalFrom returns the caller stored by the authentication middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// requestContext copies chi's request id into the logging context and echoes
// it back to the client.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := middleware.GetReqID(r.Context())
		if id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

var tracer = otel.Tracer("github.com/commonsforum/commons/internal/httpapi")

// instrument traces, logs and measures each request under its route pattern.
func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracer.Start(r.Context(), r.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		r = r.WithContext(ctx)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.response.status_code", status),
		)

		if a.metrics != nil {
			a.metrics.ObserveRequest(route, r.Method, status, elapsed)
		}
		a.logger.DebugContext(r.Context(), "request served",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

// authenticate requires a valid bearer access token.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			a.writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: msgMissingToken})
			return
		}

		claims, err := a.tokens.VerifyAccess(raw)
		if err != nil {
			a.writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: msgInvalidToken})
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			a.writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: msgInvalidToken})
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, Principal{UserID: userID, Role: claims.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin rejects callers whose token does not carry the admin role.
// The service checks the stored role again.
func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok || p.Role != auth.RoleAdmin {
			a.writeJSON(w, r, http.StatusForbidden, errorResponse{Error: msgAdminOnly})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// clientMeta captures the caller's user agent and address. RealIP has already
// rewritten RemoteAddr from proxy headers.
func clientMeta(r *http.Request) auth.ClientMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return auth.ClientMeta{UserAgent: r.UserAgent(), IPAddress: ip}
}
