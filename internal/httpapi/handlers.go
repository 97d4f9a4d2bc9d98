// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/commonsforum/commons/internal/auth"
)

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decode(w, r, &req) {
		return
	}
	msg, err := a.svc.Register(r.Context(), auth.RegisterInput{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		InviteCode:  req.InviteCode,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeMessage(w, r, http.StatusAccepted, msg)
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !a.decode(w, r, &req) {
		return
	}
	msg, err := a.svc.VerifyEmail(r.Context(), req.Email, req.Code)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeMessage(w, r, http.StatusOK, msg)
}

func (a *API) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decode(w, r, &req) {
		return
	}
	msg, err := a.svc.ResendVerification(r.Context(), req.Email)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeMessage(w, r, http.StatusOK, msg)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.svc.Login(r.Context(), req.Email, req.Password, clientMeta(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, newAuthResponse(res))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.svc.RefreshTokens(r.Context(), req.RefreshToken, clientMeta(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, newAuthResponse(res))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !a.decode(w, r, &req) {
		return
	}
	msg, err := a.svc.Logout(r.Context(), req.RefreshToken)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeMessage(w, r, http.StatusOK, msg)
}

func (a *API) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decode(w, r, &req) {
		return
	}
	msg, err := a.svc.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeMessage(w, r, http.StatusOK, msg)
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !a.decode(w, r, &req) {
		return
	}
	msg, err := a.svc.ResetPassword(r.Context(), req.Email, req.Token, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeMessage(w, r, http.StatusOK, msg)
}

func (a *API) handleValidateInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteCodeRequest
	if !a.decode(w, r, &req) {
		return
	}
	info, err := a.svc.ValidateInviteCode(r.Context(), req.Code)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, inviteInfoResponse{
		Valid:        info.Valid,
		IsRestricted: info.IsRestricted,
		Subcommunity: subcommunityResponse{
			ID:   info.Subcommunity.ID.String(),
			Name: info.Subcommunity.Name,
			Slug: info.Subcommunity.Slug,
		},
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	user, err := a.svc.CurrentUser(r.Context(), p.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, newUserResponse(user))
}

// moderate runs an admin action against the user named in the path.
func (a *API) moderate(w http.ResponseWriter, r *http.Request, action func(actorID, userID ulid.ULID) error, done string) {
	userID, err := ulid.ParseStrict(chi.URLParam(r, "id"))
	if err != nil {
		a.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid user id"})
		return
	}
	p, _ := PrincipalFrom(r.Context())
	if err := action(p.UserID, userID); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeMessage(w, r, http.StatusOK, done)
}

func (a *API) handleSuspend(w http.ResponseWriter, r *http.Request) {
	a.moderate(w, r, func(actor, user ulid.ULID) error {
		return a.svc.SuspendUser(r.Context(), actor, user)
	}, "user suspended")
}

func (a *API) handleReinstate(w http.ResponseWriter, r *http.Request) {
	a.moderate(w, r, func(actor, user ulid.ULID) error {
		return a.svc.ReinstateUser(r.Context(), actor, user)
	}, "user reinstated")
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	a.moderate(w, r, func(actor, user ulid.ULID) error {
		return a.svc.DeleteUser(r.Context(), actor, user)
	}, "user deleted")
}

func (a *API) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var req createInviteRequest
	if !a.decode(w, r, &req) {
		return
	}
	p, _ := PrincipalFrom(r.Context())
	invite, err := a.svc.CreateInviteCode(r.Context(), p.UserID, auth.CreateInviteParams{
		SubcommunityID: ulid.MustParseStrict(req.SubcommunityID),
		IsRestricted:   req.IsRestricted,
		MaxUses:        req.MaxUses,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusCreated, newInviteResponse(invite))
}

var _ AuthService = (*auth.Service)(nil)
