package proto

import (
	"testing"
)

func TestMessageValidate(t *testing.T) {
	msg := NewMessage("sess-1", RoleUser, "hello", AddressCLI, AddressLLM)
	if err := msg.Validate(); err != nil {
		t.Errorf("Expected valid message, got %v", err)
	}

	missing := NewMessage("", RoleUser, "hello", AddressCLI, AddressLLM)
	if err := missing.Validate(); err == nil {
		t.Error("Expected error for missing session id")
	}

	badRole := NewMessage("sess-1", Role("oracle"), "hello", AddressCLI, AddressLLM)
	if err := badRole.Validate(); err == nil {
		t.Error("Expected error for invalid role")
	}
}

func TestMessageMetadataAndRequestID(t *testing.T) {
	msg := NewMessage("sess-1", RoleTool, "submitted", ToolAddress("echo"), AddressLLM)
	msg.SetRequestID(7)
	msg.SetMetadata(KeyParentRequestID, "3")

	if msg.RequestID == nil || *msg.RequestID != 7 {
		t.Errorf("Expected request id 7, got %v", msg.RequestID)
	}
	if v, ok := msg.GetMetadata(KeyParentRequestID); !ok || v != "3" {
		t.Errorf("Expected parent_request_id=3, got %q (present=%v)", v, ok)
	}
	if _, ok := msg.GetMetadata("missing"); ok {
		t.Error("Expected absent metadata key to report missing")
	}
}

func TestToolAddress(t *testing.T) {
	if got := ToolAddress("scrape_repo"); got != "conductor.scrape_repo_tool" {
		t.Errorf("Unexpected tool address: %s", got)
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("ASSISTANT")
	if err != nil {
		t.Fatalf("ParseRole failed: %v", err)
	}
	if role != RoleAssistant {
		t.Errorf("Expected assistant, got %s", role)
	}

	if _, err := ParseRole("narrator"); err == nil {
		t.Error("Expected error for unknown role")
	}
}

func TestRequestStatusLifecycle(t *testing.T) {
	cases := []struct {
		from  RequestStatus
		to    RequestStatus
		valid bool
	}{
		{StatusSubmitted, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusSubmitted, StatusTimedOut, true},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusCompleted, false},
		{StatusCompleted, StatusCompleted, false},
	}

	for _, tc := range cases {
		if got := IsValidRequestTransition(tc.from, tc.to); got != tc.valid {
			t.Errorf("Transition %s -> %s: expected valid=%v, got %v", tc.from, tc.to, tc.valid, got)
		}
	}
}

func TestRequestStatusTerminal(t *testing.T) {
	for _, s := range []RequestStatus{StatusCompleted, StatusFailed, StatusTimedOut} {
		if !s.IsTerminal() {
			t.Errorf("Expected %s to be terminal", s)
		}
	}
	for _, s := range []RequestStatus{StatusSubmitted, StatusRunning} {
		if s.IsTerminal() {
			t.Errorf("Expected %s to be non-terminal", s)
		}
	}
}

func TestMarkTerminal(t *testing.T) {
	req := NewRequest("sess-1", "echo", "say hi")
	if req.Status != StatusSubmitted {
		t.Fatalf("Expected submitted, got %s", req.Status)
	}

	req.MarkTerminal(StatusFailed, "tool exploded", true)
	if req.Status != StatusFailed || !req.Retryable || req.CompletedAt == nil {
		t.Errorf("Terminal fields not set: %+v", req)
	}
}

func TestParseState(t *testing.T) {
	state, err := ParseState("in_progress")
	if err != nil {
		t.Fatalf("ParseState failed: %v", err)
	}
	if state != StateInProgress {
		t.Errorf("Expected IN_PROGRESS, got %s", state)
	}

	if _, err := ParseState("LIMBO"); err == nil {
		t.Error("Expected error for unknown state")
	}
}
