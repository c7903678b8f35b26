package session

import (
	"errors"
	"testing"

	"conductor/pkg/persistence"
	"conductor/pkg/proto"
)

// memStore keeps session records in memory for state-machine tests.
type memStore struct {
	sessions map[string]*persistence.Session
	failAll  bool
}

func newMemStore(sessionID string, status proto.State) *memStore {
	return &memStore{sessions: map[string]*persistence.Session{
		sessionID: {SessionID: sessionID, TaskStatus: status},
	}}
}

func (s *memStore) GetSession(sessionID string) (*persistence.Session, error) {
	if s.failAll {
		return nil, persistence.ErrStoreUnavailable
	}
	record, ok := s.sessions[sessionID]
	if !ok {
		return nil, persistence.ErrSessionNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *memStore) UpdateSessionStatus(sessionID string, status proto.State) error {
	if s.failAll {
		return persistence.ErrStoreUnavailable
	}
	s.sessions[sessionID].TaskStatus = status
	return nil
}

func (s *memStore) SetCurrentRequest(sessionID string, requestID *int64) error {
	if s.failAll {
		return persistence.ErrStoreUnavailable
	}
	s.sessions[sessionID].CurrentRequestID = requestID
	return nil
}

func newTestManager(t *testing.T, status proto.State) (*Manager, *memStore) {
	t.Helper()
	store := newMemStore("sess-1", status)
	mgr, err := NewManager(store, "sess-1", nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return mgr, store
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from  proto.State
		to    proto.State
		valid bool
	}{
		{proto.StatePending, proto.StateInProgress, true},
		{proto.StateInProgress, proto.StateCompleted, true},
		{proto.StateInProgress, proto.StateFailed, true},
		{proto.StateCompleted, proto.StateInProgress, true},
		{proto.StatePending, proto.StateCompleted, false},
		{proto.StateCompleted, proto.StateFailed, false},
		{proto.StateFailed, proto.StateInProgress, false},
		{proto.StateFailed, proto.StateCompleted, false},
	}
	for _, tc := range cases {
		if got := IsValidTransition(tc.from, tc.to); got != tc.valid {
			t.Errorf("IsValidTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.valid)
		}
	}
}

func TestBeginTurnActivatesPending(t *testing.T) {
	mgr, store := newTestManager(t, proto.StatePending)

	if err := mgr.BeginTurn(); err != nil {
		t.Fatalf("BeginTurn failed: %v", err)
	}
	if mgr.Status() != proto.StateInProgress {
		t.Errorf("Expected IN_PROGRESS, got %s", mgr.Status())
	}
	if store.sessions["sess-1"].TaskStatus != proto.StateInProgress {
		t.Error("Expected status persisted")
	}
}

func TestBeginTurnReopensCompleted(t *testing.T) {
	mgr, _ := newTestManager(t, proto.StateCompleted)

	if err := mgr.BeginTurn(); err != nil {
		t.Fatalf("BeginTurn failed: %v", err)
	}
	if mgr.Status() != proto.StateInProgress {
		t.Errorf("Expected reopened IN_PROGRESS, got %s", mgr.Status())
	}
}

func TestBeginTurnNoOpWhenInProgress(t *testing.T) {
	mgr, _ := newTestManager(t, proto.StateInProgress)

	if err := mgr.BeginTurn(); err != nil {
		t.Fatalf("BeginTurn failed: %v", err)
	}
	if mgr.Status() != proto.StateInProgress {
		t.Errorf("Expected IN_PROGRESS, got %s", mgr.Status())
	}
}

func TestFailedIsAbsorbing(t *testing.T) {
	mgr, _ := newTestManager(t, proto.StateFailed)

	err := mgr.BeginTurn()
	var transitionErr *StateTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("Expected StateTransitionError, got %v", err)
	}
	if mgr.Status() != proto.StateFailed {
		t.Errorf("Expected status unchanged, got %s", mgr.Status())
	}
}

func TestIllegalTransitionLeavesStatus(t *testing.T) {
	mgr, store := newTestManager(t, proto.StatePending)

	err := mgr.Transition(proto.StateCompleted)
	var transitionErr *StateTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("Expected StateTransitionError, got %v", err)
	}
	if transitionErr.From != proto.StatePending || transitionErr.To != proto.StateCompleted {
		t.Errorf("Unexpected error detail: %v", transitionErr)
	}
	if store.sessions["sess-1"].TaskStatus != proto.StatePending {
		t.Error("Expected no persisted change on illegal transition")
	}
}

func TestObserveReplyClosesOnPhrase(t *testing.T) {
	mgr, _ := newTestManager(t, proto.StateInProgress)

	if err := mgr.ObserveReply("Here you go. Is there anything else I can do?"); err != nil {
		t.Fatalf("ObserveReply failed: %v", err)
	}
	if mgr.Status() != proto.StateCompleted {
		t.Errorf("Expected COMPLETED, got %s", mgr.Status())
	}
}

func TestObserveReplyIgnoresOrdinaryProse(t *testing.T) {
	mgr, _ := newTestManager(t, proto.StateInProgress)

	if err := mgr.ObserveReply("The repository has 42 files."); err != nil {
		t.Fatalf("ObserveReply failed: %v", err)
	}
	if mgr.Status() != proto.StateInProgress {
		t.Errorf("Expected IN_PROGRESS, got %s", mgr.Status())
	}
}

func TestObserveReplyOnlyWhenInProgress(t *testing.T) {
	mgr, _ := newTestManager(t, proto.StatePending)

	if err := mgr.ObserveReply("glad I could help"); err != nil {
		t.Fatalf("ObserveReply failed: %v", err)
	}
	if mgr.Status() != proto.StatePending {
		t.Errorf("Expected PENDING untouched, got %s", mgr.Status())
	}
}

func TestSetCurrentRequest(t *testing.T) {
	mgr, store := newTestManager(t, proto.StateInProgress)

	id := int64(4)
	if err := mgr.SetCurrentRequest(&id); err != nil {
		t.Fatalf("SetCurrentRequest failed: %v", err)
	}
	if mgr.CurrentRequestID() == nil || *mgr.CurrentRequestID() != 4 {
		t.Error("Expected current request id tracked")
	}
	if store.sessions["sess-1"].CurrentRequestID == nil {
		t.Error("Expected current request id persisted")
	}

	if err := mgr.SetCurrentRequest(nil); err != nil {
		t.Fatalf("Clearing current request failed: %v", err)
	}
	if mgr.CurrentRequestID() != nil {
		t.Error("Expected current request cleared")
	}
}

func TestCustomClassifier(t *testing.T) {
	classifier := NewLexicalClassifier([]string{"over and out"})
	if !classifier.IsClosing("Copy that, OVER AND OUT.") {
		t.Error("Expected custom phrase match, case-insensitive")
	}
	if classifier.IsClosing("is there anything else") {
		t.Error("Custom phrase set should replace the default")
	}
}
