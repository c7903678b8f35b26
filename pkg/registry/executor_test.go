package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"conductor/pkg/proto"
	"conductor/pkg/tools"
)

func newTestExecutor(t *testing.T, defs ...*tools.Definition) (*Executor, *Registry) {
	t.Helper()

	reg, _ := newTestRegistry()
	catalogue := tools.NewCatalogue()
	for _, def := range defs {
		if err := catalogue.Register(def); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	return NewExecutor(reg, catalogue, nil), reg
}

func waitTerminal(t *testing.T, reg *Registry, id int64) proto.RequestStatus {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		status, err := reg.Poll(id)
		if err != nil {
			t.Fatalf("Poll failed: %v", err)
		}
		if status.IsTerminal() {
			return status
		}
		select {
		case <-deadline:
			t.Fatalf("Request %d never reached a terminal state (last %s)", id, status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDispatchCompletesRequest(t *testing.T) {
	exec, reg := newTestExecutor(t, &tools.Definition{
		Name: "upper",
		Action: func(_ context.Context, task string) (string, error) {
			return "OK: " + task, nil
		},
	})

	id, err := reg.Submit("sess-1", "upper", "do it", "please do it")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := exec.Dispatch(context.Background(), id); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if status := waitTerminal(t, reg, id); status != proto.StatusCompleted {
		t.Fatalf("Expected completed, got %s", status)
	}
	payload, retryable, err := reg.Result(id)
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if payload != "OK: do it" || retryable {
		t.Errorf("Unexpected result: payload=%q retryable=%v", payload, retryable)
	}
}

func TestDispatchAtMostOnce(t *testing.T) {
	exec, reg := newTestExecutor(t, &tools.Definition{
		Name: "slow",
		Action: func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
		Timeout: 100 * time.Millisecond,
	})

	id, _ := reg.Submit("sess-1", "slow", "x", "x")
	if err := exec.Dispatch(context.Background(), id); err != nil {
		t.Fatalf("First dispatch failed: %v", err)
	}

	if err := exec.Dispatch(context.Background(), id); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("Expected ErrDuplicateRequest on redispatch, got %v", err)
	}

	waitTerminal(t, reg, id)
}

func TestDispatchUnknownTool(t *testing.T) {
	exec, reg := newTestExecutor(t)

	id, _ := reg.Submit("sess-1", "ghost", "x", "x")
	if err := exec.Dispatch(context.Background(), id); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if status := waitTerminal(t, reg, id); status != proto.StatusFailed {
		t.Fatalf("Expected failed, got %s", status)
	}
	payload, retryable, _ := reg.Result(id)
	if retryable {
		t.Error("Unknown tool should not be retryable")
	}
	if payload != "unknown tool: ghost" {
		t.Errorf("Unexpected payload: %q", payload)
	}
}

func TestDispatchTimeoutIsRetryable(t *testing.T) {
	exec, reg := newTestExecutor(t, &tools.Definition{
		Name:    "stuck",
		Timeout: 50 * time.Millisecond,
		Action: func(_ context.Context, _ string) (string, error) {
			// Ignores its context entirely.
			time.Sleep(2 * time.Second)
			return "too late", nil
		},
	})

	id, _ := reg.Submit("sess-1", "stuck", "x", "x")
	if err := exec.Dispatch(context.Background(), id); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if status := waitTerminal(t, reg, id); status != proto.StatusTimedOut {
		t.Fatalf("Expected timed_out, got %s", status)
	}
	_, retryable, _ := reg.Result(id)
	if !retryable {
		t.Error("Timeout should be retryable")
	}
}

func TestDispatchTerminalFailure(t *testing.T) {
	exec, reg := newTestExecutor(t, &tools.Definition{
		Name: "picky",
		Action: func(_ context.Context, _ string) (string, error) {
			return "", tools.NewTerminalFailure("bad input")
		},
	})

	id, _ := reg.Submit("sess-1", "picky", "x", "x")
	if err := exec.Dispatch(context.Background(), id); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if status := waitTerminal(t, reg, id); status != proto.StatusFailed {
		t.Fatalf("Expected failed, got %s", status)
	}
	payload, retryable, _ := reg.Result(id)
	if retryable {
		t.Error("Terminal failure must not be retryable")
	}
	if payload != "bad input" {
		t.Errorf("Unexpected payload: %q", payload)
	}
}

func TestDispatchRetryableFailure(t *testing.T) {
	exec, reg := newTestExecutor(t, &tools.Definition{
		Name: "flaky",
		Action: func(_ context.Context, _ string) (string, error) {
			return "", tools.NewRetryableFailure("transient glitch")
		},
	})

	id, _ := reg.Submit("sess-1", "flaky", "x", "x")
	if err := exec.Dispatch(context.Background(), id); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	waitTerminal(t, reg, id)
	_, retryable, _ := reg.Result(id)
	if !retryable {
		t.Error("Retryable failure should allow resubmission")
	}
}

func TestDispatchPanicRecovered(t *testing.T) {
	exec, reg := newTestExecutor(t, &tools.Definition{
		Name: "bomb",
		Action: func(_ context.Context, _ string) (string, error) {
			panic("kaboom")
		},
	})

	id, _ := reg.Submit("sess-1", "bomb", "x", "x")
	if err := exec.Dispatch(context.Background(), id); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if status := waitTerminal(t, reg, id); status != proto.StatusFailed {
		t.Fatalf("Expected failed after panic, got %s", status)
	}
}

func TestSweepAfterExecution(t *testing.T) {
	exec, reg := newTestExecutor(t, &tools.Definition{
		Name: "quick",
		Action: func(_ context.Context, task string) (string, error) {
			return task, nil
		},
	})

	id, _ := reg.Submit("sess-1", "quick", "x", "x")
	if err := exec.Dispatch(context.Background(), id); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	waitTerminal(t, reg, id)

	swept := reg.Sweep()
	if len(swept) != 1 || swept[0] != id {
		t.Errorf("Expected sweep to report %d once, got %v", id, swept)
	}
}

func TestWaitDrainsInFlight(t *testing.T) {
	exec, reg := newTestExecutor(t, &tools.Definition{
		Name: "brief",
		Action: func(_ context.Context, _ string) (string, error) {
			time.Sleep(20 * time.Millisecond)
			return "done", nil
		},
	})

	id, _ := reg.Submit("sess-1", "brief", "x", "x")
	if err := exec.Dispatch(context.Background(), id); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	exec.Wait()

	status, err := reg.Poll(id)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if !status.IsTerminal() {
		t.Errorf("Expected terminal after Wait, got %s", status)
	}
}
