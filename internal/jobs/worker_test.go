package jobs

import (
	"errors"
	"testing"
	"time"

	"tableflow-pos-service/internal/pos"
)

func TestDecide(t *testing.T) {
	worker := &Worker{Queue: NewQueue(nil)}
	hint := 10 * time.Minute
	shortHint := 5 * time.Second

	cases := []struct {
		name     string
		err      error
		attempts int
		expected outcome
		delay    time.Duration
	}{
		{
			name:     "success",
			err:      nil,
			attempts: 1,
			expected: outcomeSucceeded,
		},
		{
			name:     "auth error fails fast on first attempt",
			err:      pos.AuthenticationError("token revoked", 401),
			attempts: 1,
			expected: outcomeFailed,
		},
		{
			name:     "not configured fails fast",
			err:      pos.NotConfiguredError("no credentials"),
			attempts: 1,
			expected: outcomeFailed,
		},
		{
			name:     "provider error retries with backoff",
			err:      pos.ProviderError("upstream 500", 500, errors.New("boom")),
			attempts: 1,
			expected: outcomeRetry,
			delay:    30 * time.Second,
		},
		{
			name:     "backoff doubles per attempt",
			err:      pos.ProviderError("upstream 500", 500, nil),
			attempts: 3,
			expected: outcomeRetry,
			delay:    120 * time.Second,
		},
		{
			name:     "attempt ceiling turns recoverable into failed",
			err:      pos.ProviderError("upstream 500", 500, nil),
			attempts: DefaultMaxAttempts,
			expected: outcomeFailed,
		},
		{
			name:     "retry-after hint overrides shorter backoff",
			err:      pos.RateLimitError("throttled", 429, &hint),
			attempts: 1,
			expected: outcomeRetry,
			delay:    10 * time.Minute,
		},
		{
			name:     "short retry-after hint loses to backoff",
			err:      pos.RateLimitError("throttled", 429, &shortHint),
			attempts: 1,
			expected: outcomeRetry,
			delay:    30 * time.Second,
		},
		{
			name:     "plain error is treated as recoverable",
			err:      errors.New("connection reset"),
			attempts: 2,
			expected: outcomeRetry,
			delay:    60 * time.Second,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, delay := worker.decide(tc.err, tc.attempts)
			if result != tc.expected {
				t.Fatalf("expected outcome %d, got %d", tc.expected, result)
			}
			if tc.expected == outcomeRetry && delay != tc.delay {
				t.Fatalf("expected delay %v, got %v", tc.delay, delay)
			}
		})
	}
}

func TestStaleAfterDefault(t *testing.T) {
	worker := &Worker{Queue: NewQueue(nil)}
	if got := worker.staleAfter(); got != defaultStaleAfter {
		t.Fatalf("expected default %v, got %v", defaultStaleAfter, got)
	}
	worker.StaleAfter = time.Minute
	if got := worker.staleAfter(); got != time.Minute {
		t.Fatalf("expected override, got %v", got)
	}
}
