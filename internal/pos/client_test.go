package pos

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTranslateStatus(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		expected ErrorCode
	}{
		{name: "unauthorized", status: 401, expected: ErrAuthentication},
		{name: "forbidden", status: 403, expected: ErrAuthentication},
		{name: "not found", status: 404, expected: ErrNotFound},
		{name: "throttled", status: 429, expected: ErrRateLimited},
		{name: "server error", status: 500, expected: ErrProvider},
		{name: "bad gateway", status: 502, expected: ErrProvider},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := translateStatus(tc.status, http.Header{}, []byte("details"))
			posErr, ok := AsError(err)
			if !ok {
				t.Fatalf("expected typed error, got %v", err)
			}
			if posErr.Code != tc.expected {
				t.Fatalf("expected code %s, got %s", tc.expected, posErr.Code)
			}
		})
	}

	if err := translateStatus(200, http.Header{}, nil); err != nil {
		t.Fatalf("expected nil for 2xx, got %v", err)
	}
}

func TestTranslateStatusRetryAfterSeconds(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "17")

	err := translateStatus(429, headers, nil)
	posErr, ok := AsError(err)
	if !ok || posErr.RetryAfter == nil {
		t.Fatalf("expected rate limit error with hint, got %v", err)
	}
	if *posErr.RetryAfter != 17*time.Second {
		t.Fatalf("expected 17s hint, got %v", *posErr.RetryAfter)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if hint := parseRetryAfter(""); hint != nil {
		t.Fatalf("expected nil for empty header")
	}
	if hint := parseRetryAfter("not-a-number-or-date"); hint != nil {
		t.Fatalf("expected nil for garbage header")
	}
	if hint := parseRetryAfter("30"); hint == nil || *hint != 30*time.Second {
		t.Fatalf("expected 30s, got %v", hint)
	}
}

func TestRESTClientAuthorizeAndDecode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":"ok"}`))
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer test-token")
	})

	var out struct {
		Value string `json:"value"`
	}
	if err := client.GetJSON(context.Background(), "/anything", &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Value != "ok" {
		t.Fatalf("expected decoded value, got %q", out.Value)
	}
}

func TestRESTClientSurfacesAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"token expired"}`))
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, nil)
	err := client.GetJSON(context.Background(), "/v2/orders", nil)
	posErr, ok := AsError(err)
	if !ok {
		t.Fatalf("expected typed error, got %v", err)
	}
	if posErr.Code != ErrAuthentication {
		t.Fatalf("expected %s, got %s", ErrAuthentication, posErr.Code)
	}
}
