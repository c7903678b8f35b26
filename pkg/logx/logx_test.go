package logx

import (
	"strings"
	"testing"
)

func TestDebugDomainFiltering(t *testing.T) {
	defer SetDebug(false, nil)

	SetDebug(true, []string{"loop"})

	if !IsDebugEnabled("loop") {
		t.Error("Expected debug enabled for loop domain")
	}
	if IsDebugEnabled("registry") {
		t.Error("Expected debug disabled for registry domain")
	}

	SetDebug(true, nil)
	if !IsDebugEnabled("registry") {
		t.Error("Expected debug enabled for all domains when no filter set")
	}

	SetDebug(false, nil)
	if IsDebugEnabled("loop") {
		t.Error("Expected debug disabled globally")
	}
}

func TestRingBufferCapturesEntries(t *testing.T) {
	logger := NewLogger("buffer-test")
	logger.Info("hello %s", "world")

	entries := RecentEntries("buffer-test")
	if len(entries) == 0 {
		t.Fatal("Expected at least one buffered entry")
	}

	last := entries[len(entries)-1]
	if last.Message != "hello world" {
		t.Errorf("Expected message %q, got %q", "hello world", last.Message)
	}
	if last.Level != string(LevelInfo) {
		t.Errorf("Expected level INFO, got %s", last.Level)
	}
}

func TestRingBufferEviction(t *testing.T) {
	logger := NewLogger("evict-test")
	for i := 0; i < 1100; i++ {
		logger.Info("entry %d", i)
	}

	entries := RecentEntries("")
	if len(entries) > 1000 {
		t.Errorf("Expected buffer capped at 1000 entries, got %d", len(entries))
	}
}

func TestWrapPreservesNil(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Errorf("Expected nil for wrapped nil error, got %v", err)
	}
}

func TestErrorfReturnsError(t *testing.T) {
	err := Errorf("boom: %s", "detail")
	if err == nil {
		t.Fatal("Expected error")
	}
	if !strings.Contains(err.Error(), "detail") {
		t.Errorf("Expected formatted detail in error, got %q", err.Error())
	}
}

func TestWithComponent(t *testing.T) {
	base := NewLogger("a")
	derived := base.WithComponent("b")
	if derived.GetComponent() != "b" {
		t.Errorf("Expected component b, got %s", derived.GetComponent())
	}
	if base.GetComponent() != "a" {
		t.Errorf("Base logger mutated, component = %s", base.GetComponent())
	}
}
