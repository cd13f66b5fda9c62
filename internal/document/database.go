package document

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "documents"

// DB defines the interface for database operations
type DB interface {
	// CreateDocument stores a new record and returns its assigned ID
	CreateDocument(record *Record) (uint64, error)

	// GetDocument retrieves a record by ID
	GetDocument(id uint64) (*Record, error)

	// ListDocuments returns up to limit summaries, most recent first
	ListDocuments(limit int) ([]*Summary, error)

	// UpdateAnalysis replaces the analysis of a record
	UpdateAnalysis(id uint64, analysis string) error

	// DeleteDocument removes a record
	DeleteDocument(id uint64) error

	// Close closes the database connection
	Close() error
}

// storedRecord is the on-disk row; unlike Record it carries the raw bytes
type storedRecord struct {
	ID            uint64    `json:"id"`
	FileName      string    `json:"file_name"`
	ExtractedText string    `json:"extracted_text"`
	Analysis      string    `json:"analysis"`
	ModelUsed     string    `json:"model_used,omitempty"`
	DocumentType  string    `json:"document_type"`
	CreatedAt     time.Time `json:"created_at"`
	RawBytes      []byte    `json:"raw_bytes"`
}

func (s *storedRecord) record() *Record {
	r := &Record{
		ID:            s.ID,
		FileName:      s.FileName,
		ExtractedText: s.ExtractedText,
		Analysis:      s.Analysis,
		ModelUsed:     s.ModelUsed,
		DocumentType:  s.DocumentType,
		CreatedAt:     s.CreatedAt,
		RawBytes:      s.RawBytes,
	}
	if r.ModelUsed == "" {
		r.ModelUsed = DefaultModelUsed
	}
	return r
}

// storedSummary decodes a row without keeping the blob
type storedSummary struct {
	ID           uint64    `json:"id"`
	FileName     string    `json:"file_name"`
	ModelUsed    string    `json:"model_used"`
	DocumentType string    `json:"document_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db, now: time.Now}, nil
}

// key encodes IDs big-endian so cursor order is creation order
func key(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// CreateDocument assigns the next sequence number as the record ID
func (b *BoltDB) CreateDocument(record *Record) (uint64, error) {
	var id uint64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating id: %w", err)
		}

		createdAt := record.CreatedAt
		if createdAt.IsZero() {
			createdAt = b.now()
		}
		data, err := json.Marshal(&storedRecord{
			ID:            seq,
			FileName:      record.FileName,
			ExtractedText: record.ExtractedText,
			Analysis:      record.Analysis,
			ModelUsed:     record.ModelUsed,
			DocumentType:  record.DocumentType,
			CreatedAt:     createdAt,
			RawBytes:      record.RawBytes,
		})
		if err != nil {
			return fmt.Errorf("marshaling document: %w", err)
		}
		if err := bucket.Put(key(seq), data); err != nil {
			return err
		}
		id = seq
		record.CreatedAt = createdAt
		return nil
	})
	if err != nil {
		return 0, err
	}
	record.ID = id
	return id, nil
}

// GetDocument retrieves a record by ID
func (b *BoltDB) GetDocument(id uint64) (*Record, error) {
	var stored storedRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get(key(id))
		if data == nil {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return json.Unmarshal(data, &stored)
	})
	if err != nil {
		return nil, err
	}
	return stored.record(), nil
}

// ListDocuments walks the bucket backwards from the newest record
func (b *BoltDB) ListDocuments(limit int) ([]*Summary, error) {
	summaries := make([]*Summary, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(summaries) >= limit {
				break
			}
			var s storedSummary
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("unmarshaling document: %w", err)
			}
			if s.ModelUsed == "" {
				s.ModelUsed = DefaultModelUsed
			}
			summaries = append(summaries, &Summary{
				ID:           s.ID,
				FileName:     s.FileName,
				ModelUsed:    s.ModelUsed,
				DocumentType: s.DocumentType,
				CreatedAt:    s.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// UpdateAnalysis rewrites only the analysis of a record
func (b *BoltDB) UpdateAnalysis(id uint64, analysis string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get(key(id))
		if data == nil {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		var stored storedRecord
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("unmarshaling document: %w", err)
		}
		stored.Analysis = analysis
		updated, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("marshaling document: %w", err)
		}
		return bucket.Put(key(id), updated)
	})
}

// DeleteDocument removes a record from the database
func (b *BoltDB) DeleteDocument(id uint64) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get(key(id)) == nil {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return bucket.Delete(key(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
