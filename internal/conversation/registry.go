package conversation

import (
	"sync"

	"github.com/google/uuid"
)

// Registry keeps the live sessions of this process. It tracks which document
// each session is attached to itself, so it never waits on a session lock
// held through a model call.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	documents map[string]uint64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		documents: make(map[string]uint64),
	}
}

// New creates and registers an empty session
func (r *Registry) New() *Session {
	s := NewSession(uuid.NewString())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return s
}

// Get returns a session by ID
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Attach links a session to its stored document
func (r *Registry) Attach(s *Session, documentID uint64) {
	r.mu.Lock()
	if _, ok := r.sessions[s.ID]; ok {
		r.documents[s.ID] = documentID
	}
	r.mu.Unlock()

	s.Attach(documentID)
}

// Discard drops a session
func (r *Registry) Discard(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	delete(r.documents, id)
}

// DiscardDocument drops every session attached to a document
func (r *Registry) DiscardDocument(documentID uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, doc := range r.documents {
		if doc == documentID {
			delete(r.sessions, id)
			delete(r.documents, id)
			n++
		}
	}
	return n
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
