package document

import (
	"errors"
	"time"
)

// DefaultModelUsed is reported for records written before the backend was recorded
const DefaultModelUsed = "unknown"

// ErrNotFound is returned when no document has the requested ID
var ErrNotFound = errors.New("document not found")

// Record is one processed document. Only Analysis changes after creation.
type Record struct {
	ID            uint64    `json:"id"`
	FileName      string    `json:"file_name"`
	ExtractedText string    `json:"extracted_text"`
	Analysis      string    `json:"analysis"`
	ModelUsed     string    `json:"model_used"`
	DocumentType  string    `json:"document_type"`
	CreatedAt     time.Time `json:"created_at"`
	RawBytes      []byte    `json:"-"`
}

// Summary is the list view of a record
type Summary struct {
	ID           uint64    `json:"id"`
	FileName     string    `json:"file_name"`
	ModelUsed    string    `json:"model_used"`
	DocumentType string    `json:"document_type"`
	CreatedAt    time.Time `json:"created_at"`
}
