package agent

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:    maxRetries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetrySucceedsAfterTransientError(t *testing.T) {
	mock := NewMockLLMClient(
		MockResponse{Err: NewTransientError(errors.New("rate limited"))},
		MockResponse{Content: "recovered"},
	)
	client := NewRetryableClient(mock, fastRetryConfig(3))

	resp, err := client.Complete(context.Background(), NewCompletionRequest(nil))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("Unexpected content: %q", resp.Content)
	}
	if mock.CallCount() != 2 {
		t.Errorf("Expected 2 attempts, got %d", mock.CallCount())
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	mock := NewMockLLMClient(
		MockResponse{Err: NewTransientError(errors.New("still down"))},
	)
	client := NewRetryableClient(mock, fastRetryConfig(2))

	_, err := client.Complete(context.Background(), NewCompletionRequest(nil))
	if !errors.Is(err, ErrModelQuery) {
		t.Fatalf("Expected ErrModelQuery, got %v", err)
	}
	if mock.CallCount() != 3 {
		t.Errorf("Expected 3 attempts (initial + 2 retries), got %d", mock.CallCount())
	}
}

func TestNonRetryableErrorStopsImmediately(t *testing.T) {
	mock := NewMockLLMClient(
		MockResponse{Err: errors.New("invalid api key 401")},
		MockResponse{Content: "never reached"},
	)
	client := NewRetryableClient(mock, fastRetryConfig(3))

	if _, err := client.Complete(context.Background(), NewCompletionRequest(nil)); err == nil {
		t.Fatal("Expected error")
	}
	if mock.CallCount() != 1 {
		t.Errorf("Expected 1 attempt, got %d", mock.CallCount())
	}
}

func TestRetryHeuristics(t *testing.T) {
	client := NewRetryableClient(nil, DefaultRetryConfig)

	cases := []struct {
		err   error
		retry bool
	}{
		{errors.New("connection refused"), true},
		{errors.New("request timeout"), true},
		{errors.New("429 too many requests"), true},
		{errors.New("503 service unavailable"), true},
		{errors.New("empty response from model"), true},
		{errors.New("model not found"), false},
		{&TransientError{Underlying: errors.New("x"), Retryable: false}, false},
	}
	for _, tc := range cases {
		if got := client.shouldRetry(tc.err); got != tc.retry {
			t.Errorf("shouldRetry(%v) = %v, want %v", tc.err, got, tc.retry)
		}
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	mock := NewMockLLMClient(
		MockResponse{Err: NewTransientError(errors.New("down"))},
	)
	cfg := fastRetryConfig(5)
	cfg.InitialDelay = time.Second
	client := NewRetryableClient(mock, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, NewCompletionRequest(nil))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context deadline error, got %v", err)
	}
}

func TestMockScriptRepeatsLastResponse(t *testing.T) {
	mock := NewMockLLMClient(
		MockResponse{Content: "first"},
		MockResponse{Content: "last"},
	)

	ctx := context.Background()
	for i, want := range []string{"first", "last", "last"} {
		resp, err := mock.Complete(ctx, NewCompletionRequest(nil))
		if err != nil {
			t.Fatalf("Complete %d failed: %v", i, err)
		}
		if resp.Content != want {
			t.Errorf("Response %d = %q, want %q", i, resp.Content, want)
		}
	}
}
