package proto

import (
	"fmt"
	"strings"
	"time"
)

// RequestStatus tracks one tool invocation's lifecycle.
type RequestStatus string

const (
	StatusSubmitted RequestStatus = "submitted"
	StatusRunning   RequestStatus = "running"
	StatusCompleted RequestStatus = "completed"
	StatusFailed    RequestStatus = "failed"
	StatusTimedOut  RequestStatus = "timed_out"
)

// IsTerminal reports whether no further transitions occur for this status.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	case StatusSubmitted, StatusRunning:
		return false
	default:
		return false
	}
}

func (s RequestStatus) String() string {
	return string(s)
}

// ValidateRequestStatus validates a request status string.
func ValidateRequestStatus(status string) (RequestStatus, bool) {
	switch RequestStatus(status) {
	case StatusSubmitted, StatusRunning, StatusCompleted, StatusFailed, StatusTimedOut:
		return RequestStatus(status), true
	default:
		return "", false
	}
}

// ParseRequestStatus parses a string into a RequestStatus with normalization.
func ParseRequestStatus(s string) (RequestStatus, error) {
	if status, ok := ValidateRequestStatus(strings.ToLower(s)); ok {
		return status, nil
	}
	return "", fmt.Errorf("unknown request status: %s", s)
}

// validRequestTransitions is the lifecycle a request may follow. Terminal
// statuses have no successors.
//
//nolint:gochecknoglobals // Static transition table
var validRequestTransitions = map[RequestStatus][]RequestStatus{
	StatusSubmitted: {StatusRunning, StatusFailed, StatusTimedOut},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusTimedOut:  {},
}

// IsValidRequestTransition reports whether from → to is a legal status change.
func IsValidRequestTransition(from, to RequestStatus) bool {
	for _, next := range validRequestTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Request is the durable record of one tool invocation. The ID is unique and
// monotonically increasing within the owning session; nested sub-calls made in
// service of this request carry the ID as parent_request_id metadata rather
// than minting a new top-level one.
//
//nolint:govet // struct alignment optimization not critical for this type
type Request struct {
	SubmittedAt time.Time     `json:"submitted_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	ID          int64         `json:"id"`
	SessionID   string        `json:"session_id"`
	Tool        string        `json:"tool"`
	Status      RequestStatus `json:"status"`
	UserText    string        `json:"user_text"`
	Payload     string        `json:"payload,omitempty"`
	Retryable   bool          `json:"retryable"`
}

// NewRequest creates a submitted request record. The ID is assigned by the
// caller once allocated.
func NewRequest(sessionID, tool, userText string) *Request {
	return &Request{
		SubmittedAt: time.Now().UTC(),
		SessionID:   sessionID,
		Tool:        tool,
		Status:      StatusSubmitted,
		UserText:    userText,
	}
}

// MarkTerminal stamps the completion time and final status on the request.
func (r *Request) MarkTerminal(status RequestStatus, payload string, retryable bool) {
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.Status = status
	r.Payload = payload
	r.Retryable = retryable
}
