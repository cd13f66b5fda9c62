package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zombor/invoice-reader/internal/scanning"
)

// Analyzer produces analyses and follow-up answers
type Analyzer interface {
	Analyze(ctx context.Context, req scanning.AnalysisRequest) (string, error)
}

// Manager drives sessions through extraction, analysis, questions and corrections
type Manager struct {
	analyzer Analyzer
	now      func() time.Time
}

// NewManager creates a Manager
func NewManager(analyzer Analyzer) *Manager {
	return &Manager{analyzer: analyzer, now: time.Now}
}

// Start runs the first analysis of freshly extracted text and seeds the
// history with exactly two turns: the text and the analysis. cause is the
// extraction error, if any; the session then stays unseeded and the returned
// error carries both the cause and scanning.ErrCannotAnalyze.
func (m *Manager) Start(ctx context.Context, s *Session, extracted string, cause error) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A session whose first analysis failed may be started again
	if s.State != StateEmpty && s.State != StateExtracted {
		return "", fmt.Errorf("%w: cannot start a session that is %s", ErrInvalidTransition, s.State)
	}

	analysis, err := m.analyzer.Analyze(ctx, scanning.AnalysisRequest{Text: extracted, Cause: cause})
	if cause != nil {
		return "", errors.Join(cause, err)
	}
	s.State = StateExtracted
	s.ExtractedText = extracted
	s.UpdatedAt = m.now()
	if err != nil {
		return "", err
	}

	s.History = []scanning.Message{
		{Role: scanning.RoleUser, Content: extracted},
		{Role: scanning.RoleAssistant, Content: analysis},
	}
	s.CurrentAnalysis = analysis
	s.State = StateAnalyzed
	return analysis, nil
}

// Resume seeds an empty session from a stored document without calling the model
func (m *Manager) Resume(s *Session, documentID uint64, extracted, analysis string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateEmpty {
		return fmt.Errorf("%w: cannot resume a session that is %s", ErrInvalidTransition, s.State)
	}
	s.DocumentID = documentID
	s.ExtractedText = extracted
	s.History = []scanning.Message{
		{Role: scanning.RoleUser, Content: extracted},
		{Role: scanning.RoleAssistant, Content: analysis},
	}
	s.CurrentAnalysis = analysis
	s.State = StateAnalyzed
	s.UpdatedAt = m.now()
	return nil
}

// Persist stores a corrected analysis for the session's document. It runs
// under the session lock before the session changes; an error leaves the
// session as it was.
type Persist func(documentID uint64, analysis string) error

// Ask answers a question about the document; the analysis is unchanged
func (m *Manager) Ask(ctx context.Context, s *Session, question string) (string, error) {
	return m.Respond(ctx, s, question, false, nil)
}

// Correct regenerates the full analysis with the user's correction applied
func (m *Manager) Correct(ctx context.Context, s *Session, correction string, persist Persist) (string, error) {
	return m.Respond(ctx, s, correction, true, persist)
}

// Respond appends one question or correction round to the session. The
// history is only extended when the model answered and, for a correction on
// an attached session, persist succeeded.
func (m *Manager) Respond(ctx context.Context, s *Session, input string, correction bool, persist Persist) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State {
	case StateAnalyzed, StateQuestioned, StateCorrected:
	default:
		return "", fmt.Errorf("%w: cannot take input in a session that is %s", ErrInvalidTransition, s.State)
	}

	history := make([]scanning.Message, len(s.History))
	copy(history, s.History)

	reply, err := m.analyzer.Analyze(ctx, scanning.AnalysisRequest{
		Text:       input,
		History:    history,
		Correction: correction,
	})
	if err != nil {
		return "", err
	}

	if correction && persist != nil && s.DocumentID != 0 {
		if err := persist(s.DocumentID, reply); err != nil {
			return "", err
		}
	}

	s.History = append(s.History,
		scanning.Message{Role: scanning.RoleUser, Content: input},
		scanning.Message{Role: scanning.RoleAssistant, Content: reply},
	)
	if correction {
		s.CurrentAnalysis = reply
		s.State = StateCorrected
	} else {
		s.State = StateQuestioned
	}
	s.UpdatedAt = m.now()
	return reply, nil
}
