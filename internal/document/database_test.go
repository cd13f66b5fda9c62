package document

import (
	"encoding/json"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.etcd.io/bbolt"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

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

	newRecord := func(name string) *Record {
		return &Record{
			FileName:      name,
			ExtractedText: "- Issuer: ACME\n- Total: 12.50",
			Analysis:      "- Total: 12.50",
			ModelUsed:     "hosted-vision",
			DocumentType:  "image/png",
			CreatedAt:     time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
			RawBytes:      []byte{0x89, 'P', 'N', 'G', 0x00, 0xff},
		}
	}

	Describe("CreateDocument", func() {
		var (
			record *Record
			id     uint64
			err    error
		)

		BeforeEach(func() {
			record = newRecord("invoice.png")
		})

		JustBeforeEach(func() {
			id, err = db.CreateDocument(record)
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should assign the first sequence number", func() {
			Expect(id).To(Equal(uint64(1)))
			Expect(record.ID).To(Equal(id))
		})

		It("should store every field including the raw bytes", func() {
			saved, getErr := db.GetDocument(id)
			Expect(getErr).NotTo(HaveOccurred())
			Expect(saved.FileName).To(Equal("invoice.png"))
			Expect(saved.ExtractedText).To(Equal(record.ExtractedText))
			Expect(saved.Analysis).To(Equal(record.Analysis))
			Expect(saved.ModelUsed).To(Equal("hosted-vision"))
			Expect(saved.DocumentType).To(Equal("image/png"))
			Expect(saved.CreatedAt.Equal(record.CreatedAt)).To(BeTrue())
			Expect(saved.RawBytes).To(Equal(record.RawBytes))
		})

		When("more documents are created", func() {
			It("should assign increasing IDs", func() {
				second, err := db.CreateDocument(newRecord("second.png"))
				Expect(err).NotTo(HaveOccurred())
				Expect(second).To(Equal(id + 1))
			})
		})

		When("the record has no creation time", func() {
			BeforeEach(func() {
				record.CreatedAt = time.Time{}
				db.now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }
			})

			It("should stamp it with the current time", func() {
				saved, getErr := db.GetDocument(id)
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.CreatedAt.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))).To(BeTrue())
			})
		})
	})

	Describe("GetDocument", func() {
		var (
			documentID uint64
			record     *Record
			err        error
		)

		JustBeforeEach(func() {
			record, err = db.GetDocument(documentID)
		})

		When("document exists", func() {
			BeforeEach(func() {
				var createErr error
				documentID, createErr = db.CreateDocument(newRecord("invoice.png"))
				Expect(createErr).NotTo(HaveOccurred())
			})

			It("should return the document", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(record.ID).To(Equal(documentID))
			})
		})

		When("document does not exist", func() {
			BeforeEach(func() {
				documentID = 42
			})

			It("should return ErrNotFound", func() {
				Expect(err).To(MatchError(ErrNotFound))
				Expect(record).To(BeNil())
			})
		})

		When("the row predates model_used", func() {
			BeforeEach(func() {
				documentID = 7
				legacy, _ := json.Marshal(map[string]any{
					"id":             7,
					"file_name":      "old.pdf",
					"extracted_text": "text",
					"analysis":       "analysis",
					"document_type":  "application/pdf",
				})
				Expect(db.db.Update(func(tx *bbolt.Tx) error {
					return tx.Bucket([]byte(bucketName)).Put(key(7), legacy)
				})).To(Succeed())
			})

			It("should report the default model", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(record.ModelUsed).To(Equal(DefaultModelUsed))
			})
		})
	})

	Describe("ListDocuments", func() {
		var (
			limit     int
			summaries []*Summary
			err       error
		)

		BeforeEach(func() {
			limit = 0
		})

		JustBeforeEach(func() {
			summaries, err = db.ListDocuments(limit)
		})

		When("no documents exist", func() {
			It("should return an empty list", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(summaries).NotTo(BeNil())
				Expect(summaries).To(BeEmpty())
			})
		})

		When("documents exist", func() {
			BeforeEach(func() {
				for _, name := range []string{"first.png", "second.png", "third.png"} {
					_, createErr := db.CreateDocument(newRecord(name))
					Expect(createErr).NotTo(HaveOccurred())
				}
			})

			It("should return the most recent first", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(summaries).To(HaveLen(3))
				Expect(summaries[0].FileName).To(Equal("third.png"))
				Expect(summaries[1].FileName).To(Equal("second.png"))
				Expect(summaries[2].FileName).To(Equal("first.png"))
			})

			When("a limit is given", func() {
				BeforeEach(func() {
					limit = 2
				})

				It("should return at most that many", func() {
					Expect(summaries).To(HaveLen(2))
					Expect(summaries[0].ID).To(Equal(uint64(3)))
				})
			})
		})
	})

	Describe("UpdateAnalysis", func() {
		var (
			documentID uint64
			err        error
		)

		JustBeforeEach(func() {
			err = db.UpdateAnalysis(documentID, "- Total: 15.00")
		})

		When("document exists", func() {
			var original *Record

			BeforeEach(func() {
				original = newRecord("invoice.png")
				var createErr error
				documentID, createErr = db.CreateDocument(original)
				Expect(createErr).NotTo(HaveOccurred())
			})

			It("should replace only the analysis", func() {
				Expect(err).NotTo(HaveOccurred())
				saved, getErr := db.GetDocument(documentID)
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Analysis).To(Equal("- Total: 15.00"))
				Expect(saved.ExtractedText).To(Equal(original.ExtractedText))
				Expect(saved.RawBytes).To(Equal(original.RawBytes))
				Expect(saved.CreatedAt.Equal(original.CreatedAt)).To(BeTrue())
			})
		})

		When("document does not exist", func() {
			BeforeEach(func() {
				documentID = 99
			})

			It("should return ErrNotFound", func() {
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("DeleteDocument", func() {
		var (
			documentID uint64
			err        error
		)

		JustBeforeEach(func() {
			err = db.DeleteDocument(documentID)
		})

		When("document exists", func() {
			BeforeEach(func() {
				var createErr error
				documentID, createErr = db.CreateDocument(newRecord("invoice.png"))
				Expect(createErr).NotTo(HaveOccurred())
			})

			It("should delete the document", func() {
				Expect(err).NotTo(HaveOccurred())
				_, getErr := db.GetDocument(documentID)
				Expect(getErr).To(MatchError(ErrNotFound))
			})
		})

		When("document does not exist", func() {
			BeforeEach(func() {
				documentID = 5
			})

			It("should return ErrNotFound", func() {
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("reopening the database", func() {
		It("should keep documents and continue the sequence", func() {
			id, err := db.CreateDocument(newRecord("invoice.png"))
			Expect(err).NotTo(HaveOccurred())
			Expect(db.Close()).To(Succeed())

			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())

			saved, err := db.GetDocument(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.FileName).To(Equal("invoice.png"))

			next, err := db.CreateDocument(newRecord("next.png"))
			Expect(err).NotTo(HaveOccurred())
			Expect(next).To(Equal(id + 1))
		})
	})
})
