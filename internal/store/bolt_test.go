package store

import (
	"context"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frno10/ExpenseTracker-sub000/internal/core"
	"github.com/frno10/ExpenseTracker-sub000/internal/parser"
)

var _ = Describe("BoltStore", func() {
	var (
		ctx   context.Context
		store *BoltStore
		base  time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		var err error
		store, err = NewBoltStore(filepath.Join(GinkgoT().TempDir(), "sessions.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
		}
	})

	Describe("uploads", func() {
		var rec *core.UploadRecord

		BeforeEach(func() {
			rec = &core.UploadRecord{
				ID:        "u1",
				UserID:    "alice",
				FileName:  "jan.csv",
				Status:    core.StatusUploaded,
				CreatedAt: base,
				UpdatedAt: base,
			}
			Expect(store.SaveUpload(ctx, rec)).To(Succeed())
		})

		It("should round trip a record", func() {
			got, err := store.GetUpload(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.FileName).To(Equal("jan.csv"))
			Expect(got.UpdatedAt.Equal(base)).To(BeTrue())
		})

		When("the upload does not exist", func() {
			It("should return ErrUploadNotFound", func() {
				_, err := store.GetUpload(ctx, "missing")
				Expect(err).To(MatchError(core.ErrUploadNotFound))
			})
		})

		It("should list only uploads idle before the cutoff", func() {
			fresh := *rec
			fresh.ID = "u2"
			fresh.UpdatedAt = base.Add(2 * time.Hour)
			Expect(store.SaveUpload(ctx, &fresh)).To(Succeed())

			got, err := store.ListUploadsBefore(ctx, base.Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].ID).To(Equal("u1"))
		})

		It("should delete a record", func() {
			Expect(store.DeleteUpload(ctx, "u1")).To(Succeed())
			_, err := store.GetUpload(ctx, "u1")
			Expect(err).To(MatchError(core.ErrUploadNotFound))
		})

		When("the context is cancelled", func() {
			It("should refuse to write", func() {
				cancelled, cancel := context.WithCancel(ctx)
				cancel()
				Expect(store.SaveUpload(cancelled, rec)).To(MatchError(context.Canceled))
			})
		})
	})

	Describe("parse results", func() {
		It("should return nil when nothing is cached", func() {
			got, err := store.GetParseResult(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeNil())
		})

		It("should keep amounts exact", func() {
			res := &parser.ParseResult{
				Success: true,
				Transactions: []parser.ParsedTransaction{{
					Date:        time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
					Description: "Coffee Shop",
					Amount:      decimal.RequireFromString("-4.50"),
				}},
			}
			Expect(store.SaveParseResult(ctx, "u1", res)).To(Succeed())

			got, err := store.GetParseResult(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Transactions).To(HaveLen(1))
			Expect(got.Transactions[0].Amount.Equal(decimal.RequireFromString("-4.5"))).To(BeTrue())

			Expect(store.DeleteParseResult(ctx, "u1")).To(Succeed())
			got, err = store.GetParseResult(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeNil())
		})
	})

	Describe("manifests", func() {
		BeforeEach(func() {
			Expect(store.SaveManifest(ctx, &core.RollbackManifest{
				Token:      "t1",
				UploadID:   "u1",
				UserID:     "alice",
				ExpenseIDs: []string{"e1", "e2"},
				Status:     core.ManifestComplete,
				UpdatedAt:  base,
			})).To(Succeed())
		})

		It("should round trip the expense ids", func() {
			got, err := store.GetManifest(ctx, "t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ExpenseIDs).To(Equal([]string{"e1", "e2"}))
			Expect(got.Status).To(Equal(core.ManifestComplete))
		})

		It("should return ErrManifestNotFound once deleted", func() {
			Expect(store.DeleteManifest(ctx, "t1")).To(Succeed())
			_, err := store.GetManifest(ctx, "t1")
			Expect(err).To(MatchError(core.ErrManifestNotFound))
		})

		It("should list manifests older than the cutoff", func() {
			got, err := store.ListManifestsBefore(ctx, base.Add(time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))

			got, err = store.ListManifestsBefore(ctx, base)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeEmpty())
		})
	})

	Describe("history", func() {
		BeforeEach(func() {
			imported := base.Add(time.Hour)
			entries := []core.HistoryEntry{
				{UploadID: "a", UserID: "alice", Status: core.StatusImported, ContentHash: "h1", CreatedAt: base, ImportedAt: &imported},
				{UploadID: "b", UserID: "alice", Status: core.StatusParsed, ContentHash: "h1", CreatedAt: base.Add(time.Hour)},
				{UploadID: "c", UserID: "alice", Status: core.StatusImported, ContentHash: "h2", CreatedAt: base.Add(2 * time.Hour)},
				{UploadID: "d", UserID: "bob", Status: core.StatusImported, ContentHash: "h1", CreatedAt: base.Add(3 * time.Hour)},
			}
			for i := range entries {
				Expect(store.SaveHistory(ctx, &entries[i])).To(Succeed())
			}
		})

		It("should list a user's entries newest first", func() {
			got, err := store.ListHistory(ctx, "alice", 10, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(got)).To(Equal([]string{"c", "b", "a"}))
		})

		It("should page with limit and offset", func() {
			got, err := store.ListHistory(ctx, "alice", 1, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(got)).To(Equal([]string{"b"}))

			got, err = store.ListHistory(ctx, "alice", 5, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeEmpty())
		})

		It("should find only imported uploads by hash", func() {
			got, err := store.FindHistoryByHash(ctx, "alice", "h1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).NotTo(BeNil())
			Expect(got.UploadID).To(Equal("a"))

			got, err = store.FindHistoryByHash(ctx, "alice", "h3")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeNil())
		})

		It("should delete an entry", func() {
			Expect(store.DeleteHistory(ctx, "b")).To(Succeed())
			got, err := store.GetHistory(ctx, "b")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeNil())
		})
	})

	Describe("audit log", func() {
		BeforeEach(func() {
			entries := []core.AuditEntry{
				{ID: "1", Action: core.ActionUpload, UserID: "alice", CreatedAt: base},
				{ID: "2", Action: core.ActionImport, UserID: "alice", CreatedAt: base.Add(time.Hour)},
				{ID: "3", Action: core.ActionRollback, UserID: "alice", CreatedAt: base.Add(time.Hour)},
				{ID: "4", Action: core.ActionUpload, UserID: "bob", CreatedAt: base.Add(2 * time.Hour)},
			}
			for i := range entries {
				Expect(store.AppendAudit(ctx, &entries[i])).To(Succeed())
			}
		})

		It("should list newest first with ties in reverse insertion order", func() {
			got, err := store.ListAudit(ctx, core.AuditLogFilter{UserID: "alice"})
			Expect(err).NotTo(HaveOccurred())
			Expect(auditIDs(got)).To(Equal([]string{"3", "2", "1"}))
		})

		It("should filter by action and time range", func() {
			got, err := store.ListAudit(ctx, core.AuditLogFilter{Action: core.ActionUpload})
			Expect(err).NotTo(HaveOccurred())
			Expect(auditIDs(got)).To(Equal([]string{"4", "1"}))

			got, err = store.ListAudit(ctx, core.AuditLogFilter{
				StartTime: base.Add(time.Hour),
				EndTime:   base.Add(2 * time.Hour),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(auditIDs(got)).To(Equal([]string{"3", "2"}))
		})

		It("should page with limit and offset", func() {
			got, err := store.ListAudit(ctx, core.AuditLogFilter{UserID: "alice", Limit: 1, Offset: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(auditIDs(got)).To(Equal([]string{"2"}))

			got, err = store.ListAudit(ctx, core.AuditLogFilter{Offset: 10})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeEmpty())
		})

		It("should purge entries before the cutoff", func() {
			n, err := store.PurgeAuditBefore(ctx, base.Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			got, err := store.ListAudit(ctx, core.AuditLogFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(auditIDs(got)).To(Equal([]string{"4", "3", "2"}))
		})

		It("should keep appending after a purge", func() {
			_, err := store.PurgeAuditBefore(ctx, base.Add(24*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(store.AppendAudit(ctx, &core.AuditEntry{ID: "5", UserID: "alice", CreatedAt: base})).To(Succeed())

			got, err := store.ListAudit(ctx, core.AuditLogFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(auditIDs(got)).To(Equal([]string{"5"}))
		})
	})
})

func ids(entries []core.HistoryEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.UploadID
	}
	return out
}

func auditIDs(entries []core.AuditEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
