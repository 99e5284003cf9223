package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frno10/ExpenseTracker-sub000/internal/core"
)

var _ = Describe("LocalStorage", func() {
	var (
		ctx     context.Context
		dir     string
		storage *LocalStorage
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = filepath.Join(GinkgoT().TempDir(), "uploads")
		var err error
		storage, err = NewLocalStorage(dir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			content string
			maxSize int64
			path    string
			size    int64
			hash    string
			err     error
		)

		BeforeEach(func() {
			content = "Date,Description,Amount\n"
			maxSize = 1024
		})

		JustBeforeEach(func() {
			path, size, hash, err = storage.Save(ctx, "u1.csv", strings.NewReader(content), maxSize)
		})

		When("the content fits", func() {
			It("should write the file and hash it", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(path).To(Equal(filepath.Join(dir, "u1.csv")))
				Expect(size).To(Equal(int64(len(content))))
				Expect(hash).To(HaveLen(64))

				data, readErr := os.ReadFile(path)
				Expect(readErr).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal(content))
			})
		})

		When("the content exceeds the limit", func() {
			BeforeEach(func() {
				maxSize = 5
			})

			It("should reject it and leave no file", func() {
				Expect(err).To(MatchError(core.ErrFileTooLarge))
				_, statErr := os.Stat(filepath.Join(dir, "u1.csv"))
				Expect(os.IsNotExist(statErr)).To(BeTrue())
			})
		})

		When("the content is empty", func() {
			BeforeEach(func() {
				content = ""
			})

			It("should return ErrEmptyFile", func() {
				Expect(err).To(MatchError(core.ErrEmptyFile))
			})
		})

		When("the name carries directories", func() {
			It("should stay inside the storage directory", func() {
				p, _, _, saveErr := storage.Save(ctx, "../../escape.csv", strings.NewReader("x"), 10)
				Expect(saveErr).NotTo(HaveOccurred())
				Expect(filepath.Dir(p)).To(Equal(dir))
			})
		})
	})

	Describe("Remove", func() {
		It("should ignore missing files", func() {
			Expect(storage.Remove(filepath.Join(dir, "nope.csv"))).To(Succeed())
		})

		It("should delete a stored file", func() {
			p, _, _, err := storage.Save(ctx, "u2.csv", strings.NewReader("x"), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(storage.Remove(p)).To(Succeed())
			_, statErr := os.Stat(p)
			Expect(os.IsNotExist(statErr)).To(BeTrue())
		})
	})
})
