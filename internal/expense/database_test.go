package expense

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	newEntry := func(id string, createdAt time.Time) *LedgerEntry {
		return &LedgerEntry{
			ID: id,
			Record: Record{
				Category:    CategoryTransport,
				Amount:      320,
				Date:        "2024-03-01",
				Description: "train",
				IsValid:     true,
			},
			CreatedAt: createdAt,
		}
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveEntry", func() {
		var (
			entry *LedgerEntry
			err   error
		)

		BeforeEach(func() {
			entry = newEntry("test-id", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
		})

		JustBeforeEach(func() {
			err = db.SaveEntry(entry)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should be retrievable", func() {
				got, getErr := db.GetEntry("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(got.Record).To(Equal(entry.Record))
				Expect(got.CreatedAt.Equal(entry.CreatedAt)).To(BeTrue())
			})
		})

		When("the entry has no ID", func() {
			BeforeEach(func() {
				entry.ID = ""
			})

			It("should return an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("GetEntry", func() {
		When("the entry does not exist", func() {
			It("should return ErrEntryNotFound", func() {
				_, err := db.GetEntry("missing")
				Expect(errors.Is(err, ErrEntryNotFound)).To(BeTrue())
			})
		})
	})

	Describe("ListEntries", func() {
		When("the ledger is empty", func() {
			It("should return an empty slice", func() {
				entries, err := db.ListEntries()
				Expect(err).NotTo(HaveOccurred())
				Expect(entries).NotTo(BeNil())
				Expect(entries).To(BeEmpty())
			})
		})

		When("entries exist", func() {
			BeforeEach(func() {
				Expect(db.SaveEntry(newEntry("b", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)))).To(Succeed())
				Expect(db.SaveEntry(newEntry("a", time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)))).To(Succeed())
				Expect(db.SaveEntry(newEntry("c", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))).To(Succeed())
			})

			It("should order them oldest first", func() {
				entries, err := db.ListEntries()
				Expect(err).NotTo(HaveOccurred())
				Expect(entries).To(HaveLen(3))
				Expect([]string{entries[0].ID, entries[1].ID, entries[2].ID}).To(Equal([]string{"c", "b", "a"}))
			})
		})
	})

	Describe("DeleteEntry", func() {
		When("the entry exists", func() {
			BeforeEach(func() {
				Expect(db.SaveEntry(newEntry("test-id", time.Now()))).To(Succeed())
			})

			It("should remove it", func() {
				Expect(db.DeleteEntry("test-id")).To(Succeed())
				_, err := db.GetEntry("test-id")
				Expect(errors.Is(err, ErrEntryNotFound)).To(BeTrue())
			})
		})

		When("the entry does not exist", func() {
			It("should return ErrEntryNotFound", func() {
				Expect(errors.Is(db.DeleteEntry("missing"), ErrEntryNotFound)).To(BeTrue())
			})
		})
	})

	Describe("persistence", func() {
		It("should keep entries across reopen", func() {
			Expect(db.SaveEntry(newEntry("kept", time.Now()))).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
			entries, err := db.ListEntries()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].ID).To(Equal("kept"))
		})
	})
})
