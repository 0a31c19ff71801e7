package pos

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tableflow-pos-service/internal/canonical"
)

type stubAdapter struct {
	creds Credentials
}

func (s *stubAdapter) Provider() canonical.Provider { return s.creds.Provider }
func (s *stubAdapter) FetchCatalog(ctx context.Context, locationID string) ([]canonical.CatalogItem, error) {
	return nil, nil
}
func (s *stubAdapter) FetchOrder(ctx context.Context, orderID string) (*canonical.Order, error) {
	return nil, nil
}
func (s *stubAdapter) SearchOrders(ctx context.Context, locationID string, since time.Time, until *time.Time) ([]canonical.Order, error) {
	return nil, nil
}
func (s *stubAdapter) CreateCheckout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	return nil, nil
}
func (s *stubAdapter) FetchLocations(ctx context.Context) ([]canonical.Location, error) {
	return nil, nil
}
func (s *stubAdapter) FetchLocation(ctx context.Context, locationID string) (*canonical.Location, error) {
	return nil, nil
}
func (s *stubAdapter) VerifyWebhook(headers http.Header, rawBody []byte) bool { return true }
func (s *stubAdapter) NormalizeWebhook(rawBody []byte) (canonical.WebhookEvent, error) {
	return canonical.WebhookEvent{}, nil
}

func TestLoadDefaultsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pos.yaml")
	contents := []byte(`
providers:
  square:
    accessToken: sq-token
    merchantId: sq-merchant
    webhookSecret: sq-secret
    notificationUrl: https://example.com/api/webhooks/square
  toast:
    accessToken: ts-token
    merchantId: rest-guid
  unknown-provider:
    accessToken: ignored
`)
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatalf("write defaults: %v", err)
	}

	registry := NewRegistry(nil, map[canonical.Provider]Constructor{
		canonical.ProviderSquare: func(creds Credentials) Adapter { return &stubAdapter{creds: creds} },
		canonical.ProviderToast:  func(creds Credentials) Adapter { return &stubAdapter{creds: creds} },
	})
	if err := registry.LoadDefaultsFile(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	creds, err := registry.ResolveCredentials(context.Background(), canonical.ProviderSquare, "any-location")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.AccessToken != "sq-token" || creds.WebhookSecret != "sq-secret" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}

	adapter, err := registry.Resolve(context.Background(), canonical.ProviderToast, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.Provider() != canonical.ProviderToast {
		t.Fatalf("expected toast adapter, got %s", adapter.Provider())
	}
}

func TestLoadDefaultsFileMissingIsNotAnError(t *testing.T) {
	registry := NewRegistry(nil, nil)
	if err := registry.LoadDefaultsFile(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing file should be ignored, got %v", err)
	}
	if err := registry.LoadDefaultsFile(""); err != nil {
		t.Fatalf("empty path should be ignored, got %v", err)
	}
}

func TestResolveUnconfiguredProvider(t *testing.T) {
	registry := NewRegistry(nil, map[canonical.Provider]Constructor{})
	_, err := registry.Resolve(context.Background(), canonical.ProviderClover, "loc-1")
	posErr, ok := AsError(err)
	if !ok {
		t.Fatalf("expected typed error, got %v", err)
	}
	if posErr.Code != ErrNotConfigured {
		t.Fatalf("expected %s, got %s", ErrNotConfigured, posErr.Code)
	}
	if IsRecoverable(err) {
		t.Fatalf("missing credentials must not be retried")
	}
}
