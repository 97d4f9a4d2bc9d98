// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package httpapi

import (
	"strings"
	"time"

	"github.com/commonsforum/commons/internal/auth"
)

// trimmer is implemented by requests whose identifier fields tolerate
// surrounding whitespace. decode calls trim before validation.
type trimmer interface {
	trim()
}

type registerRequest struct {
	Email       string `json:"email"       validate:"required,email,max=254"`
	DisplayName string `json:"displayName" validate:"required,min=1,max=64"`
	Password    string `json:"password"    validate:"required,min=8,max=128"`
	InviteCode  string `json:"inviteCode"  validate:"omitempty,max=64"`
}

func (r *registerRequest) trim() {
	r.Email = strings.TrimSpace(r.Email)
	r.InviteCode = strings.TrimSpace(r.InviteCode)
}

type verifyEmailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Code  string `json:"code"  validate:"required,len=6,numeric"`
}

func (r *verifyEmailRequest) trim() {
	r.Email = strings.TrimSpace(r.Email)
	r.Code = strings.TrimSpace(r.Code)
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

func (r *emailRequest) trim() { r.Email = strings.TrimSpace(r.Email) }

type loginRequest struct {
	Email    string `json:"email"    validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

func (r *loginRequest) trim() { r.Email = strings.TrimSpace(r.Email) }

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required,max=4096"`
}

type resetPasswordRequest struct {
	Email    string `json:"email"    validate:"required,email,max=254"`
	Token    string `json:"token"    validate:"required,max=128"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

func (r *resetPasswordRequest) trim() { r.Email = strings.TrimSpace(r.Email) }

type inviteCodeRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

func (r *inviteCodeRequest) trim() { r.Code = strings.TrimSpace(r.Code) }

type createInviteRequest struct {
	SubcommunityID string     `json:"subcommunityId" validate:"required,ulid"`
	IsRestricted   bool       `json:"isRestricted"`
	MaxUses        *int       `json:"maxUses"        validate:"omitempty,min=1"`
	ExpiresAt      *time.Time `json:"expiresAt"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type userResponse struct {
	ID                         string      `json:"id"`
	Email                      string      `json:"email"`
	DisplayName                string      `json:"displayName"`
	Role                       auth.Role   `json:"role"`
	Status                     auth.Status `json:"status"`
	EmailVerified              bool        `json:"emailVerified"`
	IsRestricted               bool        `json:"isRestricted"`
	RestrictedToSubcommunityID *string     `json:"restrictedToSubcommunityId,omitempty"`
	CreatedAt                  time.Time   `json:"createdAt"`
}

func newUserResponse(u *auth.User) userResponse {
	resp := userResponse{
		ID:            u.ID.String(),
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		Role:          u.Role,
		Status:        u.Status,
		EmailVerified: u.IsVerified(),
		IsRestricted:  u.IsRestricted,
		CreatedAt:     u.CreatedAt,
	}
	if u.RestrictedToSubcommunityID != nil {
		id := u.RestrictedToSubcommunityID.String()
		resp.RestrictedToSubcommunityID = &id
	}
	return resp
}

type tokensResponse struct {
	AccessToken           string `json:"accessToken"`
	RefreshToken          string `json:"refreshToken"`
	AccessTokenExpiresIn  int64  `json:"accessTokenExpiresIn"`
	RefreshTokenExpiresIn int64  `json:"refreshTokenExpiresIn"`
}

type authResponse struct {
	User   userResponse   `json:"user"`
	Tokens tokensResponse `json:"tokens"`
}

func newAuthResponse(res *auth.AuthResult) authResponse {
	return authResponse{
		User: newUserResponse(res.User),
		Tokens: tokensResponse{
			AccessToken:           res.Tokens.AccessToken,
			RefreshToken:          res.Tokens.RefreshToken,
			AccessTokenExpiresIn:  int64(res.Tokens.AccessTokenExpiresIn.Seconds()),
			RefreshTokenExpiresIn: int64(res.Tokens.RefreshTokenExpiresIn.Seconds()),
		},
	}
}

type subcommunityResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type inviteInfoResponse struct {
	Valid        bool                 `json:"valid"`
	IsRestricted bool                 `json:"isRestricted"`
	Subcommunity subcommunityResponse `json:"subcommunity"`
}

type inviteResponse struct {
	ID             string     `json:"id"`
	Code           string     `json:"code"`
	SubcommunityID string     `json:"subcommunityId"`
	IsRestricted   bool       `json:"isRestricted"`
	UsesRemaining  *int       `json:"usesRemaining"`
	ExpiresAt      *time.Time `json:"expiresAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func newInviteResponse(c *auth.InviteCode) inviteResponse {
	return inviteResponse{
		ID:             c.ID.String(),
		Code:           c.Code,
		SubcommunityID: c.SubcommunityID.String(),
		IsRestricted:   c.IsRestricted,
		UsesRemaining:  c.UsesRemaining,
		ExpiresAt:      c.ExpiresAt,
		CreatedAt:      c.CreatedAt,
	}
}
