// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token audiences. Each token class is bound to its own audience as well as
// its own secret.
const (
	AccessAudience  = "commons/access"
	RefreshAudience = "commons/refresh"
)

const jtiLength = 16

// ErrInvalidToken is returned for any token that fails verification: bad
// signature, wrong secret or audience, malformed claims, or expiry in the past.
var ErrInvalidToken = errors.New("invalid token")

// TokenConfig holds the secrets and lifetimes of both token classes.
type TokenConfig struct {
	Issuer        string
	AccessSecret  string
	AccessTTL     time.Duration
	RefreshSecret string
	RefreshTTL    time.Duration
}

// AccessClaims are carried by access tokens.
type AccessClaims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *AccessClaims) UserID() (ulid.ULID, error) {
	return ulid.Parse(c.Subject)
}

// RefreshClaims are carried by refresh tokens. SessionID may be empty when the
// presented token was not minted as a refresh token.
type RefreshClaims struct {
	SessionID SessionID `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *RefreshClaims) UserID() (ulid.ULID, error) {
	return ulid.Parse(c.Subject)
}

// TokenMinter signs and verifies access and refresh tokens.
type TokenMinter struct {
	cfg   TokenConfig
	codes CodeGenerator
	now   func() time.Time
}

// NewTokenMinter creates a TokenMinter. Both secrets must be set and distinct.
func NewTokenMinter(cfg TokenConfig, codes CodeGenerator) (*TokenMinter, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("access_ttl", cfg.AccessTTL.String()).
			With("refresh_ttl", cfg.RefreshTTL.String()).
			Errorf("token lifetimes must be positive")
	}
	if codes == nil {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("code generator is required")
	}
	return &TokenMinter{cfg: cfg, codes: codes, now: time.Now}, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *TokenMinter) AccessTTL() time.Duration { return m.cfg.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (m *TokenMinter) RefreshTTL() time.Duration { return m.cfg.RefreshTTL }

// MintAccess signs an access token for the user.
func (m *TokenMinter) MintAccess(userID ulid.ULID, role Role) (string, time.Time, error) {
	registered, err := m.registered(userID, AccessAudience, m.cfg.AccessTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	claims := AccessClaims{Role: role, RegisteredClaims: registered}
	return m.sign(claims, m.cfg.AccessSecret, registered.ExpiresAt.Time)
}

// MintRefresh signs a refresh token bound to the session.
func (m *TokenMinter) MintRefresh(userID ulid.ULID, sessionID SessionID) (string, time.Time, error) {
	registered, err := m.registered(userID, RefreshAudience, m.cfg.RefreshTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	claims := RefreshClaims{SessionID: sessionID, RegisteredClaims: registered}
	return m.sign(claims, m.cfg.RefreshSecret, registered.ExpiresAt.Time)
}

// VerifyAccess validates an access token and returns its claims.
func (m *TokenMinter) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(token, m.cfg.AccessSecret, AccessAudience, claims, true); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh validates a refresh token and returns its claims.
func (m *TokenMinter) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(token, m.cfg.RefreshSecret, RefreshAudience, claims, true); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefreshIgnoringExpiry checks the signature and audience of a refresh
// token but accepts it after expiry. Logout uses it so that an expired token
// can still revoke its session.
func (m *TokenMinter) ParseRefreshIgnoringExpiry(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(token, m.cfg.RefreshSecret, RefreshAudience, claims, false); err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *TokenMinter) registered(userID ulid.ULID, audience string, ttl time.Duration) (jwt.RegisteredClaims, error) {
	jti, err := m.codes.OpaqueToken(jtiLength)
	if err != nil {
		return jwt.RegisteredClaims{}, oops.Code("TOKEN_MINT_FAILED").
			With("operation", "generate jti").
			Wrap(err)
	}
	now := m.now()
	return jwt.RegisteredClaims{
		ID:        jti,
		Issuer:    m.cfg.Issuer,
		Subject:   userID.String(),
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}, nil
}

func (m *TokenMinter) sign(claims jwt.Claims, secret string, expiresAt time.Time) (string, time.Time, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_MINT_FAILED").
			With("operation", "sign token").
			Wrap(err)
	}
	return signed, expiresAt, nil
}

func (m *TokenMinter) parse(token, secret, audience string, claims jwt.Claims, checkExpiry bool) error {
	if token == "" {
		return ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithAudience(audience),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithTimeFunc(m.now),
	}
	if m.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.cfg.Issuer))
	}
	if checkExpiry {
		opts = append(opts, jwt.WithExpirationRequired())
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		if !checkExpiry && errors.Is(err, jwt.ErrTokenExpired) && parsed != nil && signatureChecked(err) {
			return nil
		}
		return ErrInvalidToken
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}

// signatureChecked reports whether the only failure was claim validation,
// meaning the signature itself verified.
func signatureChecked(err error) bool {
	return !errors.Is(err, jwt.ErrTokenSignatureInvalid) &&
		!errors.Is(err, jwt.ErrTokenMalformed) &&
		!errors.Is(err, jwt.ErrTokenUnverifiable) &&
		!errors.Is(err, jwt.ErrTokenInvalidAudience) &&
		!errors.Is(err, jwt.ErrTokenInvalidIssuer)
}
