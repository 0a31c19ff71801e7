package pos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultRequestTimeout = 15 * time.Second

// RESTClient is the shared HTTP plumbing for all adapters: one bounded
// http.Client, a per-adapter rate limiter, and uniform translation of
// provider status codes into the adapter error taxonomy.
type RESTClient struct {
	BaseURL string
	HTTP    *http.Client
	Limiter *rate.Limiter
	// Authorize mutates each outgoing request with provider auth headers.
	Authorize func(req *http.Request)
}

func NewRESTClient(baseURL string, authorize func(req *http.Request)) *RESTClient {
	return &RESTClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		HTTP:      &http.Client{Timeout: defaultRequestTimeout},
		Limiter:   rate.NewLimiter(rate.Limit(10), 20),
		Authorize: authorize,
	}
}

func (c *RESTClient) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *RESTClient) PostJSON(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *RESTClient) do(ctx context.Context, method, path string, body any, out any) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return ProviderError("rate limiter wait aborted", 0, err)
		}
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return ProviderError("request encode failed", 0, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return ProviderError("request build failed", 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Authorize != nil {
		c.Authorize(req)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return ProviderError("provider request failed", 0, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return ProviderError("provider response read failed", resp.StatusCode, err)
	}

	if err := translateStatus(resp.StatusCode, resp.Header, payload); err != nil {
		return err
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return ProviderError("provider response decode failed", resp.StatusCode, err)
	}
	return nil
}

func translateStatus(status int, headers http.Header, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return AuthenticationError(trimBody(body), status)
	case status == http.StatusNotFound:
		return NotFoundError(trimBody(body))
	case status == http.StatusTooManyRequests:
		return RateLimitError(trimBody(body), status, parseRetryAfter(headers.Get("Retry-After")))
	default:
		return ProviderError(fmt.Sprintf("unexpected status %d: %s", status, trimBody(body)), status, nil)
	}
}

func parseRetryAfter(value string) *time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		d := time.Duration(seconds) * time.Second
		return &d
	}
	if at, err := http.ParseTime(value); err == nil {
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

func trimBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 300 {
		text = text[:300]
	}
	if text == "" {
		text = "(empty body)"
	}
	return text
}
