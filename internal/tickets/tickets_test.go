package tickets

import (
	"strings"
	"testing"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{name: "placed to preparing", from: StatusPlaced, to: StatusPreparing, allowed: true},
		{name: "preparing to ready", from: StatusPreparing, to: StatusReady, allowed: true},
		{name: "ready to completed", from: StatusReady, to: StatusCompleted, allowed: true},
		{name: "skip ahead placed to completed", from: StatusPlaced, to: StatusCompleted, allowed: true},
		{name: "no backward move", from: StatusReady, to: StatusPreparing, allowed: false},
		{name: "no self move", from: StatusPreparing, to: StatusPreparing, allowed: false},
		{name: "cancel from placed", from: StatusPlaced, to: StatusCanceled, allowed: true},
		{name: "cancel from ready", from: StatusReady, to: StatusCanceled, allowed: true},
		{name: "completed is terminal", from: StatusCompleted, to: StatusCanceled, allowed: false},
		{name: "canceled is terminal", from: StatusCanceled, to: StatusPreparing, allowed: false},
		{name: "no resurrect from canceled", from: StatusCanceled, to: StatusCompleted, allowed: false},
		{name: "unknown target", from: StatusPlaced, to: Status("bogus"), allowed: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.allowed {
				t.Fatalf("CanTransition(%s, %s) = %v, expected %v", tc.from, tc.to, got, tc.allowed)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	for _, valid := range []string{"placed", "preparing", "ready", "completed", "canceled"} {
		if _, ok := ParseStatus(valid); !ok {
			t.Fatalf("expected %q to parse", valid)
		}
	}
	for _, invalid := range []string{"", "PLACED", "done", "cancelled"} {
		if _, ok := ParseStatus(invalid); ok {
			t.Fatalf("expected %q to be rejected", invalid)
		}
	}
}

func TestNewShortcode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code, err := NewShortcode()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(code) != shortcodeLength {
			t.Fatalf("expected length %d, got %q", shortcodeLength, code)
		}
		for _, r := range code {
			if !strings.ContainsRune(shortcodeAlphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
		seen[code] = true
	}
	// 200 draws from a 32^4 space should essentially never all collide.
	if len(seen) < 2 {
		t.Fatalf("expected varied codes, got %d distinct", len(seen))
	}
}

func TestShortcodeAlphabetOmitsLookalikes(t *testing.T) {
	for _, r := range "IO01" {
		if strings.ContainsRune(shortcodeAlphabet, r) {
			t.Fatalf("alphabet must not contain %q", r)
		}
	}
}
