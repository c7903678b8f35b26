package proto

import (
	"fmt"
	"strings"
)

// State is a session's task status.
type State string

const (
	StatePending    State = "PENDING"
	StateInProgress State = "IN_PROGRESS"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

func (s State) String() string {
	return string(s)
}

// ValidateState validates a session state string.
func ValidateState(state string) (State, bool) {
	switch State(state) {
	case StatePending, StateInProgress, StateCompleted, StateFailed:
		return State(state), true
	default:
		return "", false
	}
}

// ParseState parses a string into a State with normalization.
func ParseState(s string) (State, error) {
	if state, ok := ValidateState(strings.ToUpper(s)); ok {
		return state, nil
	}
	return "", fmt.Errorf("unknown session state: %s", s)
}
