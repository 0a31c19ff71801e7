package pos

import (
	"context"
	"net/http"
	"time"

	"tableflow-pos-service/internal/canonical"
)

// PlatformReferencePrefix tags provider orders created through our checkout
// so webhook normalization can attribute them to source=platform_online.
const PlatformReferencePrefix = "TFPOS-"

// Credentials is everything an adapter needs to talk to one merchant's
// provider account.
type Credentials struct {
	Provider           canonical.Provider
	AccessToken        string
	ProviderMerchantID string
	WebhookSecret      string
	// NotificationURL participates in some providers' signature schemes
	// (Square signs url+body).
	NotificationURL string
	// BaseURL overrides the provider API host, used by tests and sandboxes.
	BaseURL string
}

type CheckoutItem struct {
	ExternalID     string
	VariationID    string
	Name           string
	Quantity       int
	UnitPriceCents int64
	Modifiers      []canonical.Modifier
	Notes          string
}

type CheckoutInput struct {
	LocationID    string
	Items         []CheckoutItem
	Currency      string
	RedirectURL   string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
}

type CheckoutResult struct {
	CheckoutURL string
	OrderID     string
	ExpiresAt   *time.Time
}

// Adapter is the uniform capability set implemented once per POS provider.
// All network methods are blocking round-trips bounded by the context and
// the shared client timeout; NormalizeWebhook and VerifyWebhook are pure.
type Adapter interface {
	Provider() canonical.Provider

	FetchCatalog(ctx context.Context, locationID string) ([]canonical.CatalogItem, error)
	// FetchOrder returns (nil, nil) when the provider reports not-found.
	FetchOrder(ctx context.Context, orderID string) (*canonical.Order, error)
	SearchOrders(ctx context.Context, locationID string, since time.Time, until *time.Time) ([]canonical.Order, error)
	CreateCheckout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error)
	FetchLocations(ctx context.Context) ([]canonical.Location, error)
	FetchLocation(ctx context.Context, locationID string) (*canonical.Location, error)

	VerifyWebhook(headers http.Header, rawBody []byte) bool
	NormalizeWebhook(rawBody []byte) (canonical.WebhookEvent, error)
}

// Constructor builds an adapter from resolved credentials. The registry keeps
// one constructor per provider; adding a provider means adding a constructor,
// nothing downstream changes.
type Constructor func(creds Credentials) Adapter
