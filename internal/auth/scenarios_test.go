// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/commonsforum/commons/internal/auth"
	"github.com/commonsforum/commons/pkg/errutil"
)

var _ = Describe("Account lifecycle", func() {
	var (
		ctx context.Context
		h   *harness
	)

	BeforeEach(func() {
		ctx = context.Background()
		h = newHarness(GinkgoT())
	})

	kindOf := func(err error) auth.Kind {
		GinkgoHelper()
		Expect(err).To(HaveOccurred())
		return auth.KindOf(err)
	}

	Describe("registration", func() {
		It("answers generically and stores a fresh verification code", func() {
			msg, err := h.svc.Register(ctx, auth.RegisterInput{
				Email: "a@x.com", DisplayName: "A", Password: "longenough1",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(msg).To(ContainSubstring("check your email"))

			user := h.store.user(GinkgoT(), "a@x.com")
			tokens := h.store.tokensFor(auth.TokenEmailVerification, user.ID)
			Expect(tokens).To(HaveLen(1))
			Expect(tokens[0].UsedAt).To(BeNil())
			Expect(tokens[0].ExpiresAt).To(BeTemporally("~", h.clock.Now().Add(auth.VerificationTokenTTL)))
		})

		It("invalidates an earlier code when a new one is issued", func() {
			first := h.register(GinkgoT(), "b@x.com")
			_, err := h.svc.ResendVerification(ctx, "b@x.com")
			Expect(err).NotTo(HaveOccurred())
			second := h.mail.lastCode(GinkgoT(), "b@x.com")

			_, err = h.svc.VerifyEmail(ctx, "b@x.com", first)
			Expect(kindOf(err)).To(Equal(auth.KindBadRequest))

			_, err = h.svc.VerifyEmail(ctx, "b@x.com", second)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("login", func() {
		It("issues tokens for the registered user once verified", func() {
			user := h.verifiedUser(GinkgoT(), "c@x.com")

			res := h.login(GinkgoT(), "c@x.com")
			claims, err := h.svc.Minter().VerifyAccess(res.Tokens.AccessToken)
			Expect(err).NotTo(HaveOccurred())
			id, err := claims.UserID()
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal(user.ID))
			Expect(res.Tokens.RefreshToken).NotTo(BeEmpty())
		})
	})

	Describe("refresh", func() {
		It("rotates once and rejects the original token afterwards", func() {
			h.verifiedUser(GinkgoT(), "d@x.com")
			original := h.login(GinkgoT(), "d@x.com").Tokens.RefreshToken

			next, err := h.svc.RefreshTokens(ctx, original, auth.ClientMeta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(next.Tokens.RefreshToken).NotTo(Equal(original))

			_, err = h.svc.RefreshTokens(ctx, original, auth.ClientMeta{})
			Expect(kindOf(err)).To(Equal(auth.KindUnauthorized))
		})

		DescribeTable("after logout",
			func(logouts int) {
				h.verifiedUser(GinkgoT(), "e@x.com")
				token := h.login(GinkgoT(), "e@x.com").Tokens.RefreshToken

				for range logouts {
					_, err := h.svc.Logout(ctx, token)
					Expect(err).NotTo(HaveOccurred())
				}

				_, err := h.svc.RefreshTokens(ctx, token, auth.ClientMeta{})
				Expect(kindOf(err)).To(Equal(auth.KindUnauthorized))
			},
			Entry("once", 1),
			Entry("twice", 2),
		)
	})

	Describe("invite codes", func() {
		It("allows exactly as many redemptions as uses", func() {
			sub := h.store.addSubcommunity("gardening")
			uses := 1
			inv := h.store.addInvite(auth.InviteCode{Code: "GROW", SubcommunityID: sub.ID, UsesRemaining: &uses})

			_, err := h.svc.Register(ctx, auth.RegisterInput{
				Email: "f@x.com", DisplayName: "F", Password: testPassword, InviteCode: "GROW",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(*h.store.invite(inv.ID).UsesRemaining).To(Equal(0))

			_, err = h.svc.Register(ctx, auth.RegisterInput{
				Email: "g@x.com", DisplayName: "G", Password: testPassword, InviteCode: "GROW",
			})
			Expect(kindOf(err)).To(Equal(auth.KindBadRequest))
			Expect(auth.PublicMessage(err, "")).To(ContainSubstring("no uses remaining"))
		})
	})

	Describe("password reset", func() {
		It("answers identically whether or not the account exists", func() {
			h.verifiedUser(GinkgoT(), "h@x.com")

			known, err := h.svc.RequestPasswordReset(ctx, "h@x.com")
			Expect(err).NotTo(HaveOccurred())
			unknown, err := h.svc.RequestPasswordReset(ctx, "nobody@x.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(unknown).To(Equal(known))
		})

		It("rejects a token presented with another user's email", func() {
			owner := h.verifiedUser(GinkgoT(), "u@x.com")
			h.verifiedUser(GinkgoT(), "v@x.com")

			_, err := h.svc.RequestPasswordReset(ctx, "u@x.com")
			Expect(err).NotTo(HaveOccurred())
			token := h.mail.lastReset(GinkgoT(), "u@x.com")

			_, err = h.svc.ResetPassword(ctx, "v@x.com", token, "a brand new password")
			Expect(kindOf(err)).To(Equal(auth.KindBadRequest))

			ok, err := h.hasher.Verify(testPassword, h.store.user(GinkgoT(), "u@x.com").PasswordHash)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(h.store.user(GinkgoT(), "u@x.com").ID).To(Equal(owner.ID))
		})
	})

	Describe("suspension", func() {
		It("blocks login and invalidates outstanding sessions", func() {
			admin := h.admin(GinkgoT(), "admin@x.com")
			user := h.verifiedUser(GinkgoT(), "i@x.com")
			refresh := h.login(GinkgoT(), "i@x.com").Tokens.RefreshToken

			Expect(h.svc.SuspendUser(ctx, admin.ID, user.ID)).To(Succeed())

			_, err := h.svc.Login(ctx, "i@x.com", testPassword, auth.ClientMeta{})
			Expect(kindOf(err)).To(Equal(auth.KindForbidden))
			errutil.AssertErrorCode(GinkgoT(), err, "AUTH_ACCOUNT_INACTIVE")

			_, err = h.svc.RefreshTokens(ctx, refresh, auth.ClientMeta{})
			Expect(kindOf(err)).To(Equal(auth.KindUnauthorized))
			errutil.AssertErrorCode(GinkgoT(), err, "AUTH_INVALID_SESSION")
		})
	})
})
