package jobs

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	q := &Queue{
		BaseBackoff: DefaultBaseBackoff,
		MaxBackoff:  DefaultMaxBackoff,
	}

	cases := []struct {
		name     string
		attempts int
		expected time.Duration
	}{
		{name: "first failure", attempts: 1, expected: 30 * time.Second},
		{name: "second failure", attempts: 2, expected: time.Minute},
		{name: "third failure", attempts: 3, expected: 2 * time.Minute},
		{name: "fourth failure", attempts: 4, expected: 4 * time.Minute},
		{name: "capped at max", attempts: 8, expected: time.Hour},
		{name: "way past the cap", attempts: 60, expected: time.Hour},
		{name: "zero treated as first", attempts: 0, expected: 30 * time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := q.Backoff(tc.attempts); got != tc.expected {
				t.Fatalf("Backoff(%d) = %v, expected %v", tc.attempts, got, tc.expected)
			}
		})
	}
}

func TestBackoffMonotonicUntilCap(t *testing.T) {
	q := &Queue{BaseBackoff: DefaultBaseBackoff, MaxBackoff: DefaultMaxBackoff}
	prev := time.Duration(0)
	for attempts := 1; attempts <= 10; attempts++ {
		delay := q.Backoff(attempts)
		if delay < prev {
			t.Fatalf("backoff decreased at attempt %d: %v < %v", attempts, delay, prev)
		}
		if delay > q.MaxBackoff {
			t.Fatalf("backoff exceeded cap at attempt %d: %v", attempts, delay)
		}
		prev = delay
	}
}
