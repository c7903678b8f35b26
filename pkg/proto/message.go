// Package proto defines the message and request records exchanged between the
// orchestration loop, the pending-request registry, and the durable log.
package proto

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ValidateRole validates a role string.
func ValidateRole(role string) (Role, bool) {
	switch Role(role) {
	case RoleUser, RoleAssistant, RoleTool:
		return Role(role), true
	default:
		return "", false
	}
}

// ParseRole parses a string into a Role with normalization.
func ParseRole(s string) (Role, error) {
	if role, ok := ValidateRole(strings.ToLower(s)); ok {
		return role, nil
	}
	return "", fmt.Errorf("unknown message role: %s", s)
}

func (r Role) String() string {
	return string(r)
}

// Symbolic sender/target addresses. The graph prefix keeps who-said-what-to-whom
// reconstructable across nested tool graphs.
const (
	Graph         = "conductor"
	AddressCLI    = Graph + ".cli"
	AddressLLM    = Graph + ".llm"
	toolAddrState = Graph + ".%s_tool"
)

// ToolAddress returns the symbolic address for a tool sender.
func ToolAddress(toolName string) string {
	return fmt.Sprintf(toolAddrState, toolName)
}

// Metadata keys used on messages.
const (
	KeyParentRequestID = "parent_request_id" // nested sub-calls reference their top-level request
	KeyCorrelationID   = "correlation_id"    // uuid correlating a nested execution unit
	KeyResubmitCount   = "resubmit_count"    // retryable-failure resubmissions so far
	KeyFailureKind     = "failure_kind"      // "timeout" or "tool_error" on failed requests
)

// Message is one entry in a session's append-only conversation log.
//
//nolint:govet // struct alignment optimization not critical for this type
type Message struct {
	CreatedAt time.Time         `json:"created_at"`
	ID        int64             `json:"id"`
	SessionID string            `json:"session_id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Sender    string            `json:"sender"`
	Target    string            `json:"target"`
	RequestID *int64            `json:"request_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewMessage creates a message with the timestamp set. The ID is assigned by
// the caller once allocated.
func NewMessage(sessionID string, role Role, content, sender, target string) *Message {
	return &Message{
		CreatedAt: time.Now().UTC(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Sender:    sender,
		Target:    target,
		Metadata:  make(map[string]string),
	}
}

// SetMetadata sets a metadata key on the message.
func (m *Message) SetMetadata(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}

// GetMetadata returns a metadata value and whether it was present.
func (m *Message) GetMetadata(key string) (string, bool) {
	if m.Metadata == nil {
		return "", false
	}
	v, ok := m.Metadata[key]
	return v, ok
}

// SetRequestID tags the message with the request it belongs to.
func (m *Message) SetRequestID(id int64) {
	m.RequestID = &id
}

// Validate checks the message has the fields every log entry requires.
func (m *Message) Validate() error {
	if m.SessionID == "" {
		return fmt.Errorf("message session_id is required")
	}
	if _, ok := ValidateRole(string(m.Role)); !ok {
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	if m.Sender == "" {
		return fmt.Errorf("message sender is required")
	}
	if m.Target == "" {
		return fmt.Errorf("message target is required")
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("message timestamp is required")
	}
	return nil
}
