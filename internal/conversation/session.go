package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zombor/invoice-reader/internal/scanning"
)

// State is where a session is in its lifecycle
type State int

const (
	StateEmpty State = iota
	StateExtracted
	StateAnalyzed
	StateQuestioned
	StateCorrected
)

func (s State) String() string {
	switch s {
	case StateExtracted:
		return "extracted"
	case StateAnalyzed:
		return "analyzed"
	case StateQuestioned:
		return "questioned"
	case StateCorrected:
		return "corrected"
	default:
		return "empty"
	}
}

// MarshalText lets State render by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name
func (s *State) UnmarshalText(text []byte) error {
	for st := StateEmpty; st <= StateCorrected; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// ErrInvalidTransition is returned when an operation does not fit the session state
var ErrInvalidTransition = errors.New("invalid session transition")

// Session is the conversation about one document. It is not persisted; only
// CurrentAnalysis survives, through the document record.
type Session struct {
	mu sync.Mutex

	ID         string
	DocumentID uint64
	State      State
	// ExtractedText is the first user turn once the session is seeded
	ExtractedText   string
	History         []scanning.Message
	CurrentAnalysis string
	UpdatedAt       time.Time
}

// NewSession creates an empty session
func NewSession(id string) *Session {
	return &Session{ID: id, State: StateEmpty, UpdatedAt: time.Now()}
}

// Snapshot is a point-in-time copy of a session, safe to serialize
type Snapshot struct {
	ID              string             `json:"id"`
	DocumentID      uint64             `json:"document_id"`
	State           State              `json:"state"`
	History         []scanning.Message `json:"history"`
	CurrentAnalysis string             `json:"current_analysis"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Snapshot copies the session under its lock
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() Snapshot {
	history := make([]scanning.Message, len(s.History))
	copy(history, s.History)
	return Snapshot{
		ID:              s.ID,
		DocumentID:      s.DocumentID,
		State:           s.State,
		History:         history,
		CurrentAnalysis: s.CurrentAnalysis,
		UpdatedAt:       s.UpdatedAt,
	}
}

// Attach links the session to its stored document
func (s *Session) Attach(documentID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DocumentID = documentID
}

// LastAssistant returns the content of the latest assistant turn
func (s *Session) LastAssistant() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == scanning.RoleAssistant {
			return s.History[i].Content
		}
	}
	return ""
}
