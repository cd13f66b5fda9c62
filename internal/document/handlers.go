package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/invoice-reader/internal/conversation"
	"github.com/zombor/invoice-reader/internal/scanning"
)

// maxFormSize bounds uploads; high-resolution phone photos fit comfortably
const maxFormSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes {"error": message} with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps a service error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrInvalidTransition):
		return http.StatusConflict
	// A failed extraction carries both its cause and ErrCannotAnalyze; the cause decides
	case errors.Is(err, scanning.ErrDependencyMissing), errors.Is(err, scanning.ErrConnectivity):
		return http.StatusServiceUnavailable
	case errors.Is(err, scanning.ErrValidation), errors.Is(err, scanning.ErrExtractionEmpty):
		return http.StatusUnprocessableEntity
	case errors.Is(err, scanning.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, scanning.ErrCannotAnalyze):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// documentID parses the {id} path value
func documentID(r *http.Request) (uint64, error) {
	raw := r.PathValue("id")
	if raw == "" {
		return 0, errors.New("document ID required")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid document ID %q", raw)
	}
	return id, nil
}

// contentTypeFor returns the bare media type of an upload, falling back to
// the file extension when the part has no usable type
func contentTypeFor(header string, filename string, data []byte) string {
	if mediaType, _, err := mime.ParseMediaType(header); err == nil && mediaType != "application/octet-stream" {
		return mediaType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	contentType, _, _ := strings.Cut(http.DetectContentType(data), ";")
	return contentType
}

// inlineSafe reports whether a stored type can be rendered by the browser
// without running script
func inlineSafe(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "image/svg+xml" {
		return false
	}
	return mediaType == "application/pdf" || strings.HasPrefix(mediaType, "image/")
}

// handleHealth reports whether the backend can serve requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Available(r.Context()); err != nil {
		slog.Warn("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unavailable",
			"backend": s.service.BackendName(),
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": s.service.BackendName(),
	})
}

// handleListDocuments returns the most recent documents
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	summaries, err := s.service.ListDocuments(limit)
	if err != nil {
		slog.Error("Error listing documents", "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, summaries)
}

// handleUploadDocument extracts, analyzes and stores an uploaded file
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	// A new upload replaces the caller's previous conversation
	if previous := r.FormValue("replace_session"); previous != "" {
		if err := s.service.EndSession(previous); err != nil && !errors.Is(err, ErrSessionNotFound) {
			slog.Warn("Error ending previous session", "session", previous, "error", err)
		}
	}

	contentType := contentTypeFor(header.Header.Get("Content-Type"), header.Filename, data)
	upload, err := s.service.ProcessDocument(r.Context(), header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error processing document", "filename", header.Filename, "error", err)
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusCreated, upload)
}

// handleGetDocument returns a single document without its bytes
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	record, err := s.service.GetDocument(id)
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// handleGetDocumentFile returns the original upload
func (s *Server) handleGetDocumentFile(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, contentType, filename, err := s.service.GetDocumentFile(id)
	if err != nil {
		jsonError(w, "File not found", statusFor(err))
		return
	}

	disposition := "inline"
	if !inlineSafe(contentType) {
		contentType, disposition = "application/octet-stream", "attachment"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, filename))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Write(data)
}

// handleDeleteDocument deletes a document
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteDocument(id); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			slog.Error("Error deleting document", "id", id, "error", err)
		}
		jsonError(w, err.Error(), status)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleOpenSession starts a conversation on a stored document
func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	snapshot, err := s.service.OpenSession(id)
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusCreated, snapshot)
}

// handleGetSession returns a session and its history
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.service.GetSession(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// handlePostMessage sends a question or correction to a session
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content    string `json:"content"`
		Correction bool   `json:"correction"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	reply, err := s.service.Respond(r.Context(), r.PathValue("id"), req.Content, req.Correction)
	if err != nil {
		slog.Error("Error responding in session", "session", r.PathValue("id"), "correction", req.Correction, "error", err)
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

// handleEndSession discards a session
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.EndSession(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
