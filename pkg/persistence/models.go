package persistence

import (
	"time"

	"github.com/google/uuid"

	"conductor/pkg/proto"
)

// Session represents one logical conversation with persistent identity.
//
//nolint:govet // struct alignment optimization not critical for this type
type Session struct {
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	SessionID        string      `json:"session_id"`
	Title            string      `json:"title"`
	TaskStatus       proto.State `json:"task_status"`
	CurrentRequestID *int64      `json:"current_request_id,omitempty"`
}

// GenerateSessionID generates a new UUID for a session.
func GenerateSessionID() string {
	return uuid.New().String()
}

// MessageFilter represents criteria for querying messages.
type MessageFilter struct {
	SessionID string   `json:"session_id"`
	RequestID *int64   `json:"request_id,omitempty"`
	Roles     []string `json:"roles,omitempty"` // For IN queries
	Limit     int      `json:"limit,omitempty"` // Most recent N, returned in log order
}

// RequestFilter represents criteria for querying requests.
type RequestFilter struct {
	SessionID string   `json:"session_id"`
	Statuses  []string `json:"statuses,omitempty"` // For IN queries
}
