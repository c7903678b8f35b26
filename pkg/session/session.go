// Package session owns the conversation task-status lifecycle. A session moves
// PENDING → IN_PROGRESS → COMPLETED; FAILED absorbs from IN_PROGRESS. A fresh
// user turn on a COMPLETED session reopens it.
package session

import (
	"fmt"

	"conductor/pkg/logx"
	"conductor/pkg/persistence"
	"conductor/pkg/proto"
)

// StateTransitionError reports an attempted illegal task-status change. The
// orchestration loop logs it and carries on without changing status.
type StateTransitionError struct {
	SessionID string
	From      proto.State
	To        proto.State
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("session %s: illegal transition %s -> %s", e.SessionID, e.From, e.To)
}

// validTransitions is the session lifecycle. COMPLETED permits reopening;
// FAILED is absorbing.
//
//nolint:gochecknoglobals // Static transition table
var validTransitions = map[proto.State][]proto.State{
	proto.StatePending:    {proto.StateInProgress},
	proto.StateInProgress: {proto.StateCompleted, proto.StateFailed},
	proto.StateCompleted:  {proto.StateInProgress},
	proto.StateFailed:     {},
}

// IsValidTransition reports whether from → to is a legal status change.
func IsValidTransition(from, to proto.State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SessionStore is the persistence surface the manager uses.
type SessionStore interface {
	GetSession(sessionID string) (*persistence.Session, error)
	UpdateSessionStatus(sessionID string, status proto.State) error
	SetCurrentRequest(sessionID string, requestID *int64) error
}

// Manager drives one session's task status against the durable store.
type Manager struct {
	store      SessionStore
	classifier ClosingClassifier
	logger     *logx.Logger

	sessionID        string
	status           proto.State
	currentRequestID *int64
}

// NewManager creates a manager for an existing session record.
func NewManager(store SessionStore, sessionID string, classifier ClosingClassifier) (*Manager, error) {
	record, err := store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if classifier == nil {
		classifier = NewLexicalClassifier(nil)
	}
	return &Manager{
		store:            store,
		classifier:       classifier,
		logger:           logx.NewLogger("session"),
		sessionID:        sessionID,
		status:           record.TaskStatus,
		currentRequestID: record.CurrentRequestID,
	}, nil
}

// SessionID returns the managed session's identifier.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// Status returns the current task status.
func (m *Manager) Status() proto.State {
	return m.status
}

// CurrentRequestID returns the outstanding request id, or nil.
func (m *Manager) CurrentRequestID() *int64 {
	return m.currentRequestID
}

// Transition moves the session to the target status, persisting the change.
// Illegal transitions return *StateTransitionError and leave the status as-is.
func (m *Manager) Transition(to proto.State) error {
	if to == m.status {
		return nil
	}
	if !IsValidTransition(m.status, to) {
		return &StateTransitionError{SessionID: m.sessionID, From: m.status, To: to}
	}

	if err := m.store.UpdateSessionStatus(m.sessionID, to); err != nil {
		return fmt.Errorf("persist status %s: %w", to, err)
	}
	m.logger.Info("Session %s: %s -> %s", m.sessionID, m.status, to)
	m.status = to
	return nil
}

// BeginTurn marks the arrival of a user turn: PENDING activates, COMPLETED
// reopens, IN_PROGRESS stays put. A FAILED session rejects further turns.
func (m *Manager) BeginTurn() error {
	switch m.status {
	case proto.StatePending, proto.StateCompleted:
		return m.Transition(proto.StateInProgress)
	case proto.StateInProgress:
		return nil
	case proto.StateFailed:
		return &StateTransitionError{SessionID: m.sessionID, From: m.status, To: proto.StateInProgress}
	default:
		return &StateTransitionError{SessionID: m.sessionID, From: m.status, To: proto.StateInProgress}
	}
}

// ObserveReply inspects an assistant reply and closes the session when the
// classifier recognizes a closing utterance.
func (m *Manager) ObserveReply(text string) error {
	if m.status != proto.StateInProgress {
		return nil
	}
	if !m.classifier.IsClosing(text) {
		return nil
	}
	return m.Transition(proto.StateCompleted)
}

// Fail marks the session FAILED.
func (m *Manager) Fail() error {
	return m.Transition(proto.StateFailed)
}

// SetCurrentRequest records the request now being served, nil to clear. Used
// to attribute concurrently completing requests to their originating turn.
func (m *Manager) SetCurrentRequest(requestID *int64) error {
	if err := m.store.SetCurrentRequest(m.sessionID, requestID); err != nil {
		return fmt.Errorf("persist current request: %w", err)
	}
	m.currentRequestID = requestID
	return nil
}
