// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

//go:build integration

package auth_test

import (
	"net/http"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/commonsforum/commons/internal/auth"
)

const password = "longenough1"

var _ = Describe("Session lifecycle", func() {
	It("registers, verifies, logs in and reads the current user", func() {
		c := signUp("flow@example.com", password)

		status, body := call(http.MethodGet, "/auth/me", nil, c.access)
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["email"]).To(Equal("flow@example.com"))
		Expect(body["emailVerified"]).To(BeTrue())
		Expect(body["id"]).To(Equal(c.userID))
	})

	It("refuses login until the email is verified", func() {
		status, _ := call(http.MethodPost, "/auth/register", map[string]any{
			"email": "pending@example.com", "displayName": "Pending", "password": password,
		}, "")
		Expect(status).To(Equal(http.StatusAccepted))

		status, body := call(http.MethodPost, "/auth/login", map[string]any{
			"email": "pending@example.com", "password": password,
		}, "")
		Expect(status).To(Equal(http.StatusForbidden))
		Expect(body["error"]).To(ContainSubstring("verify"))
	})

	It("rotates refresh tokens and rejects replays", func() {
		c := signUp("rotate@example.com", password)

		status, body := call(http.MethodPost, "/auth/refresh", map[string]any{"refreshToken": c.refresh}, "")
		Expect(status).To(Equal(http.StatusOK))
		next := body["tokens"].(map[string]any)["refreshToken"].(string)
		Expect(next).NotTo(Equal(c.refresh))

		status, _ = call(http.MethodPost, "/auth/refresh", map[string]any{"refreshToken": c.refresh}, "")
		Expect(status).To(Equal(http.StatusUnauthorized))

		status, _ = call(http.MethodPost, "/auth/refresh", map[string]any{"refreshToken": next}, "")
		Expect(status).To(Equal(http.StatusOK))
	})

	It("logs out idempotently", func() {
		c := signUp("logout@example.com", password)

		for range 2 {
			status, _ := call(http.MethodPost, "/auth/logout", map[string]any{"refreshToken": c.refresh}, "")
			Expect(status).To(Equal(http.StatusOK))
		}
		status, _ := call(http.MethodPost, "/auth/refresh", map[string]any{"refreshToken": c.refresh}, "")
		Expect(status).To(Equal(http.StatusUnauthorized))
	})

	It("rejects duplicate registrations of a verified email", func() {
		signUp("dupe@example.com", password)

		status, _ := call(http.MethodPost, "/auth/register", map[string]any{
			"email": "DUPE@example.com", "displayName": "Again", "password": password,
		}, "")
		Expect(status).To(Equal(http.StatusConflict))
	})
})

var _ = Describe("Password reset", func() {
	It("replaces the password and revokes existing sessions", func() {
		c := signUp("reset@example.com", password)

		status, known := call(http.MethodPost, "/auth/password/request-reset", map[string]any{"email": "reset@example.com"}, "")
		Expect(status).To(Equal(http.StatusOK))
		status, unknown := call(http.MethodPost, "/auth/password/request-reset", map[string]any{"email": "ghost@example.com"}, "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(unknown).To(Equal(known))

		token := env.mail.reset("reset@example.com")
		Expect(token).NotTo(BeEmpty())

		status, _ = call(http.MethodPost, "/auth/password/reset", map[string]any{
			"email": "reset@example.com", "token": token, "password": "a different one",
		}, "")
		Expect(status).To(Equal(http.StatusOK))

		status, _ = call(http.MethodPost, "/auth/refresh", map[string]any{"refreshToken": c.refresh}, "")
		Expect(status).To(Equal(http.StatusUnauthorized))

		status, _ = call(http.MethodPost, "/auth/login", map[string]any{"email": "reset@example.com", "password": password}, "")
		Expect(status).To(Equal(http.StatusUnauthorized))
		login("reset@example.com", "a different one")

		status, _ = call(http.MethodPost, "/auth/password/reset", map[string]any{
			"email": "reset@example.com", "token": token, "password": "yet another one",
		}, "")
		Expect(status).To(Equal(http.StatusBadRequest))
	})
})

var _ = Describe("Invites and moderation", Ordered, func() {
	var (
		admin creds
		sub   auth.Subcommunity
	)

	BeforeAll(func() {
		c := signUp("admin@example.com", password)
		promote(c.userID)
		admin = login("admin@example.com", password)

		sub = auth.Subcommunity{ID: ulid.Make(), Name: "Poetry", Slug: "poetry"}
		Expect(env.invites.CreateSubcommunity(env.ctx, &sub)).To(Succeed())
	})

	It("creates a single-use restricted invite and redeems it once", func() {
		status, body := call(http.MethodPost, "/admin/invite-codes", map[string]any{
			"subcommunityId": sub.ID.String(), "isRestricted": true, "maxUses": 1,
		}, admin.access)
		Expect(status).To(Equal(http.StatusCreated))
		code := body["code"].(string)

		status, body = call(http.MethodPost, "/auth/validate-invite-code", map[string]any{"code": code}, "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["valid"]).To(BeTrue())
		Expect(body["subcommunity"]).To(HaveKeyWithValue("slug", "poetry"))

		status, _ = call(http.MethodPost, "/auth/register", map[string]any{
			"email": "poet@example.com", "displayName": "Poet", "password": password, "inviteCode": code,
		}, "")
		Expect(status).To(Equal(http.StatusAccepted))

		var uses int
		Expect(env.pool.QueryRow(env.ctx, `SELECT uses_remaining FROM invite_codes WHERE code = $1`, code).Scan(&uses)).To(Succeed())
		Expect(uses).To(Equal(0))

		status, _ = call(http.MethodPost, "/auth/register", map[string]any{
			"email": "late@example.com", "displayName": "Late", "password": password, "inviteCode": code,
		}, "")
		Expect(status).To(Equal(http.StatusBadRequest))
	})

	It("keeps members out of admin routes", func() {
		member := signUp("member@example.com", password)
		status, _ := call(http.MethodPost, "/admin/invite-codes", map[string]any{"subcommunityId": sub.ID.String()}, member.access)
		Expect(status).To(Equal(http.StatusForbidden))
	})

	It("suspends and reinstates an account", func() {
		target := signUp("suspend@example.com", password)

		status, _ := call(http.MethodPost, "/admin/users/"+target.userID+"/suspend", nil, admin.access)
		Expect(status).To(Equal(http.StatusOK))

		status, _ = call(http.MethodPost, "/auth/login", map[string]any{"email": "suspend@example.com", "password": password}, "")
		Expect(status).To(Equal(http.StatusForbidden))
		status, _ = call(http.MethodPost, "/auth/refresh", map[string]any{"refreshToken": target.refresh}, "")
		Expect(status).To(Equal(http.StatusUnauthorized))

		status, _ = call(http.MethodPost, "/admin/users/"+target.userID+"/reinstate", nil, admin.access)
		Expect(status).To(Equal(http.StatusOK))
		login("suspend@example.com", password)
	})

	It("deletes an account so its email cannot log in", func() {
		target := signUp("delete@example.com", password)

		status, _ := call(http.MethodDelete, "/admin/users/"+target.userID, nil, admin.access)
		Expect(status).To(Equal(http.StatusOK))

		status, _ = call(http.MethodPost, "/auth/login", map[string]any{"email": "delete@example.com", "password": password}, "")
		Expect(status).NotTo(Equal(http.StatusOK))
	})
})
