package pos

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsRecoverable(t *testing.T) {
	retryAfter := 10 * time.Second

	cases := []struct {
		name        string
		err         error
		recoverable bool
	}{
		{name: "nil", err: nil, recoverable: false},
		{name: "authentication is terminal", err: AuthenticationError("bad token", 401), recoverable: false},
		{name: "not configured is terminal", err: NotConfiguredError("no credentials"), recoverable: false},
		{name: "not found is terminal", err: NotFoundError("gone"), recoverable: false},
		{name: "rate limit retries", err: RateLimitError("slow down", 429, &retryAfter), recoverable: true},
		{name: "provider error retries", err: ProviderError("boom", 500, nil), recoverable: true},
		{name: "wrapped provider error retries", err: fmt.Errorf("fetch order: %w", ProviderError("boom", 502, nil)), recoverable: true},
		{name: "wrapped auth error is terminal", err: fmt.Errorf("fetch order: %w", AuthenticationError("expired", 401)), recoverable: false},
		{name: "plain error retries", err: errors.New("connection reset"), recoverable: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRecoverable(tc.err); got != tc.recoverable {
				t.Fatalf("IsRecoverable(%v) = %v, expected %v", tc.err, got, tc.recoverable)
			}
		})
	}
}

func TestRetryAfterHint(t *testing.T) {
	retryAfter := 42 * time.Second
	err := fmt.Errorf("search orders: %w", RateLimitError("throttled", 429, &retryAfter))

	hint := RetryAfterHint(err)
	if hint == nil || *hint != retryAfter {
		t.Fatalf("expected hint %v, got %v", retryAfter, hint)
	}

	if hint := RetryAfterHint(errors.New("plain")); hint != nil {
		t.Fatalf("expected no hint for plain error, got %v", *hint)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("tcp timeout")
	err := ProviderError("request failed", 0, cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through Unwrap")
	}
}
