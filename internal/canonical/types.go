package canonical

import (
	"encoding/json"
	"strings"
	"time"
)

// Provider identifies one of the supported POS integrations.
type Provider string

const (
	ProviderSquare Provider = "square"
	ProviderToast  Provider = "toast"
	ProviderClover Provider = "clover"
)

func ParseProvider(value string) (Provider, bool) {
	switch Provider(strings.ToLower(strings.TrimSpace(value))) {
	case ProviderSquare:
		return ProviderSquare, true
	case ProviderToast:
		return ProviderToast, true
	case ProviderClover:
		return ProviderClover, true
	}
	return "", false
}

// OrderSource distinguishes orders placed through the platform's online
// checkout from orders keyed in on the POS terminal itself.
type OrderSource string

const (
	SourcePlatformOnline OrderSource = "platform_online"
	SourcePOS            OrderSource = "pos"
)

type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderPaid      OrderStatus = "paid"
	OrderCompleted OrderStatus = "completed"
	OrderCanceled  OrderStatus = "canceled"
)

type EventType string

const (
	EventOrderCreated   EventType = "order.created"
	EventOrderUpdated   EventType = "order.updated"
	EventOrderPaid      EventType = "order.paid"
	EventOrderCompleted EventType = "order.completed"
	EventOrderCanceled  EventType = "order.canceled"
	EventPaymentCreated EventType = "payment.created"
	EventPaymentUpdated EventType = "payment.updated"
	EventUnknown        EventType = "unknown"
)

type Modifier struct {
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	PriceCents int64  `json:"priceCents"`
}

type ModifierGroup struct {
	ExternalID   string     `json:"externalId"`
	Name         string     `json:"name"`
	Required     bool       `json:"required"`
	MinSelection int        `json:"minSelection"`
	MaxSelection int        `json:"maxSelection"`
	Modifiers    []Modifier `json:"modifiers,omitempty"`
}

// CatalogItem is one sellable item as reported by a POS provider, with all
// money already normalized to integer minor units.
type CatalogItem struct {
	ExternalID     string          `json:"externalId"`
	VariationID    string          `json:"variationId,omitempty"`
	Provider       Provider        `json:"provider"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	PriceCents     int64           `json:"priceCents"`
	Currency       string          `json:"currency"`
	Available      bool            `json:"available"`
	ModifierGroups []ModifierGroup `json:"modifierGroups,omitempty"`
}

type OrderItem struct {
	ExternalID      string     `json:"externalId"`
	Name            string     `json:"name"`
	Quantity        int        `json:"quantity"`
	UnitPriceCents  int64      `json:"unitPriceCents"`
	TotalPriceCents int64      `json:"totalPriceCents"`
	Modifiers       []Modifier `json:"modifiers,omitempty"`
	Notes           string     `json:"notes,omitempty"`
}

// Order is the provider-agnostic order representation. Reference is the
// tenant-facing id and stays stable across retries; ExternalID is whatever
// the provider calls the order.
type Order struct {
	Reference       string          `json:"reference"`
	ExternalID      string          `json:"externalId"`
	Provider        Provider        `json:"provider"`
	LocationID      string          `json:"locationId"`
	Source          OrderSource     `json:"source"`
	Status          OrderStatus     `json:"status"`
	Items           []OrderItem     `json:"items"`
	SubtotalCents   int64           `json:"subtotalCents"`
	TaxCents        int64           `json:"taxCents"`
	DiscountCents   int64           `json:"discountCents"`
	TotalCents      int64           `json:"totalCents"`
	Currency        string          `json:"currency"`
	CustomerName    string          `json:"customerName,omitempty"`
	CustomerEmail   string          `json:"customerEmail,omitempty"`
	CustomerPhone   string          `json:"customerPhone,omitempty"`
	FulfillmentType string          `json:"fulfillmentType,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	Raw             json.RawMessage `json:"-"`
}

// Balanced reports whether the order satisfies the money-conservation
// invariant: total == subtotal + tax - discount.
func (o Order) Balanced() bool {
	return o.TotalCents == o.SubtotalCents+o.TaxCents-o.DiscountCents
}

// WebhookEvent is the normalized form of one provider notification.
// (Provider, EventID) is the global dedup key.
type WebhookEvent struct {
	Type       EventType       `json:"type"`
	Provider   Provider        `json:"provider"`
	EventID    string          `json:"eventId"`
	Timestamp  time.Time       `json:"timestamp"`
	LocationID string          `json:"locationId,omitempty"`
	OrderID    string          `json:"orderId,omitempty"`
	PaymentID  string          `json:"paymentId,omitempty"`
	Order      *Order          `json:"order,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

type Location struct {
	ExternalID string   `json:"externalId"`
	Provider   Provider `json:"provider"`
	Name       string   `json:"name"`
	Address    string   `json:"address,omitempty"`
	Timezone   string   `json:"timezone,omitempty"`
	Currency   string   `json:"currency,omitempty"`
	Active     bool     `json:"active"`
}
