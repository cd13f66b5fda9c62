package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/zombor/invoice-reader/internal/conversation"
	"github.com/zombor/invoice-reader/internal/scanning"
)

// DefaultListLimit is used when a listing asks for no particular size
const DefaultListLimit = 100

// ErrSessionNotFound is returned for unknown or discarded session IDs
var ErrSessionNotFound = errors.New("session not found")

// Backend extracts and analyzes documents
type Backend interface {
	Name() string
	Extract(ctx context.Context, data []byte, kind scanning.Kind) (string, error)
	Analyze(ctx context.Context, req scanning.AnalysisRequest) (string, error)
	Available(ctx context.Context) error
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service ties the backend, the live sessions and the record store together
type Service struct {
	db         DB
	backend    Backend
	manager    *conversation.Manager
	sessions   *conversation.Registry
	timeSource TimeSource
}

// NewService creates a new Service with a fresh session registry
func NewService(db DB, backend Backend) *Service {
	return NewServiceWithDeps(db, backend, conversation.NewRegistry(), &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, backend Backend, sessions *conversation.Registry, timeSrc TimeSource) *Service {
	return &Service{
		db:         db,
		backend:    backend,
		manager:    conversation.NewManager(backend),
		sessions:   sessions,
		timeSource: timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filepath.Base(filename), ext)

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Phone cameras produce very long names
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "document"
	}

	return base + ext
}

// Upload is the result of processing a new document
type Upload struct {
	Document *Record              `json:"document"`
	Session  conversation.Snapshot `json:"session"`
}

// ProcessDocument extracts and analyzes an uploaded file, stores it and opens
// a session on it. Nothing is stored when extraction or analysis fails.
func (s *Service) ProcessDocument(ctx context.Context, filename string, data []byte, contentType string) (*Upload, error) {
	kind := scanning.KindFromContentType(contentType)

	text, extractErr := s.backend.Extract(ctx, data, kind)
	if extractErr != nil {
		slog.Error("Failed to extract document",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"backend", s.backend.Name(),
			"error", extractErr,
		)
	}

	session := s.sessions.New()
	analysis, err := s.manager.Start(ctx, session, text, extractErr)
	if err != nil {
		s.sessions.Discard(session.ID)
		if extractErr != nil {
			return nil, fmt.Errorf("extracting document: %w", err)
		}
		return nil, fmt.Errorf("analyzing document: %w", err)
	}

	record := &Record{
		FileName:      filename,
		ExtractedText: text,
		Analysis:      analysis,
		ModelUsed:     s.backend.Name(),
		DocumentType:  contentType,
		CreatedAt:     s.timeSource.Now(),
		RawBytes:      data,
	}
	if _, err := s.db.CreateDocument(record); err != nil {
		s.sessions.Discard(session.ID)
		return nil, fmt.Errorf("saving document to database: %w", err)
	}
	s.sessions.Attach(session, record.ID)

	slog.Info("Processed document",
		"id", record.ID,
		"filename", filename,
		"backend", record.ModelUsed,
		"session", session.ID,
	)

	return &Upload{Document: record, Session: session.Snapshot()}, nil
}

// Reply is the answer to one follow-up message
type Reply struct {
	Reply   string                `json:"reply"`
	Session conversation.Snapshot `json:"session"`
}

// Respond handles a question or correction in a session. Corrections replace
// the stored analysis of the attached document before the session takes them.
func (s *Service) Respond(ctx context.Context, sessionID, content string, correction bool) (*Reply, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if strings.TrimSpace(content) == "" {
		return nil, &scanning.Error{Kind: scanning.ErrValidation, Op: "respond", Err: errors.New("message content is empty")}
	}

	reply, err := s.manager.Respond(ctx, session, content, correction, s.saveAnalysis)
	if err != nil {
		return nil, fmt.Errorf("responding in session %s: %w", sessionID, err)
	}

	return &Reply{Reply: reply, Session: session.Snapshot()}, nil
}

func (s *Service) saveAnalysis(documentID uint64, analysis string) error {
	if err := s.db.UpdateAnalysis(documentID, analysis); err != nil {
		return fmt.Errorf("saving corrected analysis: %w", err)
	}
	return nil
}

// OpenSession starts a new conversation on a stored document without calling the model
func (s *Service) OpenSession(id uint64) (conversation.Snapshot, error) {
	record, err := s.db.GetDocument(id)
	if err != nil {
		return conversation.Snapshot{}, fmt.Errorf("getting document: %w", err)
	}

	session := s.sessions.New()
	if err := s.manager.Resume(session, record.ID, record.ExtractedText, record.Analysis); err != nil {
		s.sessions.Discard(session.ID)
		return conversation.Snapshot{}, fmt.Errorf("resuming session: %w", err)
	}
	s.sessions.Attach(session, record.ID)
	return session.Snapshot(), nil
}

// GetSession returns the current state of a session
func (s *Service) GetSession(id string) (conversation.Snapshot, error) {
	session, ok := s.sessions.Get(id)
	if !ok {
		return conversation.Snapshot{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return session.Snapshot(), nil
}

// EndSession discards a session
func (s *Service) EndSession(id string) error {
	if _, ok := s.sessions.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.sessions.Discard(id)
	return nil
}

// GetDocument retrieves a document by ID
func (s *Service) GetDocument(id uint64) (*Record, error) {
	record, err := s.db.GetDocument(id)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return record, nil
}

// ListDocuments returns the most recent documents
func (s *Service) ListDocuments(limit int) ([]*Summary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	summaries, err := s.db.ListDocuments(limit)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return summaries, nil
}

// DeleteDocument removes a document and every session open on it
func (s *Service) DeleteDocument(id uint64) error {
	if err := s.db.DeleteDocument(id); err != nil {
		return fmt.Errorf("deleting document from database: %w", err)
	}
	if n := s.sessions.DiscardDocument(id); n > 0 {
		slog.Info("Discarded sessions of deleted document", "id", id, "sessions", n)
	}
	return nil
}

// GetDocumentFile returns the original bytes, their content type and a safe file name
func (s *Service) GetDocumentFile(id uint64) ([]byte, string, string, error) {
	record, err := s.db.GetDocument(id)
	if err != nil {
		return nil, "", "", fmt.Errorf("getting document: %w", err)
	}

	contentType := record.DocumentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return record.RawBytes, contentType, sanitizeFilename(record.FileName), nil
}

// Available reports whether the configured backend can serve requests
func (s *Service) Available(ctx context.Context) error {
	if err := s.backend.Available(ctx); err != nil {
		return fmt.Errorf("backend %s unavailable: %w", s.backend.Name(), err)
	}
	return nil
}

// BackendName identifies the configured backend
func (s *Service) BackendName() string {
	return s.backend.Name()
}
