// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

//go:build integration

package store_test

import (
	"context"
	"log/slog"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/commonsforum/commons/internal/store"
)

var _ = Describe("Connect", func() {
	It("opens a pool that answers queries", func() {
		ctx := context.Background()
		pool, err := store.Connect(ctx, store.PoolConfig{URL: connStr, MaxConns: 4}, slog.Default())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(pool.Close)

		var one int
		Expect(pool.QueryRow(ctx, "SELECT 1").Scan(&one)).To(Succeed())
		Expect(one).To(Equal(1))
		Expect(pool.Config().MaxConns).To(Equal(int32(4)))
	})
})

var _ = Describe("Migrator", Ordered, func() {
	var migrator *store.Migrator

	tableExists := func(name string) bool {
		ctx := context.Background()
		pool, err := store.Connect(ctx, store.PoolConfig{URL: connStr}, slog.Default())
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		var exists bool
		Expect(pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
			name).Scan(&exists)).To(Succeed())
		return exists
	}

	BeforeAll(func() {
		var err error
		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { Expect(migrator.Close()).To(Succeed()) })
	})

	It("starts at version zero with everything pending", func() {
		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Version).To(BeZero())
		Expect(status.Pending).NotTo(BeEmpty())
	})

	It("applies the schema", func() {
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Up()).To(Succeed(), "a second run is a no-op")

		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeNumerically(">", 0))
		Expect(dirty).To(BeFalse())

		for _, table := range []string{"users", "sessions", "ephemeral_tokens", "invite_codes", "subcommunities", "memberships"} {
			Expect(tableExists(table)).To(BeTrue(), table)
		}
	})

	It("rolls back and reapplies one step", func() {
		Expect(migrator.Steps(-1)).To(Succeed())
		Expect(tableExists("users")).To(BeFalse())
		Expect(migrator.Steps(1)).To(Succeed())
		Expect(tableExists("users")).To(BeTrue())
	})

	It("drops everything on down", func() {
		Expect(migrator.Down()).To(Succeed())

		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(tableExists("sessions")).To(BeFalse())
	})

	It("forces a version without running migrations", func() {
		Expect(migrator.Force(1)).To(Succeed())

		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Version).To(Equal(uint(1)))
		Expect(status.Dirty).To(BeFalse())
		Expect(status.Pending).To(BeEmpty())
		Expect(tableExists("users")).To(BeFalse())
	})
})
