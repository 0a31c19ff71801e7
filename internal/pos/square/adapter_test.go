package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"tableflow-pos-service/internal/canonical"
	"tableflow-pos-service/internal/pos"
)

func testCreds(baseURL string) pos.Credentials {
	return pos.Credentials{
		Provider:        canonical.ProviderSquare,
		AccessToken:     "test-token",
		WebhookSecret:   "sq-secret",
		NotificationURL: "https://example.com/api/webhooks/square",
		BaseURL:         baseURL,
	}
}

func signSquare(secret, notificationURL string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhook(t *testing.T) {
	adapter := New(testCreds(""))
	body := []byte(`{"event_id":"evt-1","type":"order.updated"}`)

	headers := http.Header{}
	headers.Set("x-square-hmacsha256-signature", signSquare("sq-secret", "https://example.com/api/webhooks/square", body))
	if !adapter.VerifyWebhook(headers, body) {
		t.Fatalf("expected valid signature to verify")
	}

	headers.Set("x-square-hmacsha256-signature", signSquare("wrong-secret", "https://example.com/api/webhooks/square", body))
	if adapter.VerifyWebhook(headers, body) {
		t.Fatalf("expected signature from wrong secret to fail")
	}

	if adapter.VerifyWebhook(http.Header{}, body) {
		t.Fatalf("expected missing signature to fail")
	}

	tampered := append([]byte{}, body...)
	tampered[len(tampered)-2] = 'X'
	headers.Set("x-square-hmacsha256-signature", signSquare("sq-secret", "https://example.com/api/webhooks/square", body))
	if adapter.VerifyWebhook(headers, tampered) {
		t.Fatalf("expected tampered body to fail")
	}
}

func TestNormalizeWebhookOrderUpdated(t *testing.T) {
	adapter := New(testCreds(""))
	body := []byte(`{
		"merchant_id": "M1",
		"location_id": "L-FALLBACK",
		"type": "order.updated",
		"event_id": "evt-42",
		"created_at": "2024-03-01T12:00:00Z",
		"data": {
			"type": "order_updated",
			"id": "data-id",
			"object": {
				"order_updated": {
					"order_id": "ORD-9",
					"location_id": "L-REAL",
					"state": "OPEN"
				}
			}
		}
	}`)

	event, err := adapter.NormalizeWebhook(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.EventID != "evt-42" {
		t.Fatalf("expected event id evt-42, got %q", event.EventID)
	}
	if event.Type != canonical.EventOrderUpdated {
		t.Fatalf("expected order.updated, got %s", event.Type)
	}
	if event.OrderID != "ORD-9" {
		t.Fatalf("expected nested order_id to win, got %q", event.OrderID)
	}
	if event.LocationID != "L-REAL" {
		t.Fatalf("expected nested location_id to win, got %q", event.LocationID)
	}
}

func TestNormalizeWebhookPaymentCreated(t *testing.T) {
	adapter := New(testCreds(""))
	body := []byte(`{
		"type": "payment.created",
		"event_id": "evt-77",
		"created_at": "2024-03-01T12:05:00Z",
		"data": {
			"type": "payment",
			"id": "PAY-1",
			"object": {"payment": {"order_id": "ORD-9", "location_id": "L-1"}}
		}
	}`)

	event, err := adapter.NormalizeWebhook(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Type != canonical.EventPaymentCreated {
		t.Fatalf("expected payment.created, got %s", event.Type)
	}
	if event.PaymentID != "PAY-1" || event.OrderID != "ORD-9" {
		t.Fatalf("expected payment PAY-1 for order ORD-9, got %q / %q", event.PaymentID, event.OrderID)
	}
}

func TestNormalizeWebhookRejectsMissingEventID(t *testing.T) {
	adapter := New(testCreds(""))
	if _, err := adapter.NormalizeWebhook([]byte(`{"type":"order.updated"}`)); err == nil {
		t.Fatalf("expected error for missing event_id")
	}
}

func TestNormalizeWebhookUnknownType(t *testing.T) {
	adapter := New(testCreds(""))
	event, err := adapter.NormalizeWebhook([]byte(`{"event_id":"evt-1","type":"catalog.version.updated"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Type != canonical.EventUnknown {
		t.Fatalf("expected unknown type, got %s", event.Type)
	}
}

func TestMapOrderMoneyConservation(t *testing.T) {
	raw := sqOrder{
		ID:                 "ORD-1",
		LocationID:         "L-1",
		State:              "OPEN",
		TotalMoney:         &money{Amount: 1403, Currency: "USD"},
		TotalTaxMoney:      &money{Amount: 104},
		TotalDiscountMoney: &money{Amount: 0},
		Tenders:            []struct{ ID string `json:"id"` }{{ID: "T1"}},
	}

	order := mapOrder(raw)
	if order.SubtotalCents != 1299 {
		t.Fatalf("expected derived subtotal 1299, got %d", order.SubtotalCents)
	}
	if !order.Balanced() {
		t.Fatalf("expected order to balance: %+v", order)
	}
	if order.Status != canonical.OrderPaid {
		t.Fatalf("expected tendered open order to be paid, got %s", order.Status)
	}
}

func TestMapOrderStatusAndSource(t *testing.T) {
	cases := []struct {
		name     string
		raw      sqOrder
		status   canonical.OrderStatus
		source   canonical.OrderSource
	}{
		{
			name:   "completed",
			raw:    sqOrder{State: "COMPLETED"},
			status: canonical.OrderCompleted,
			source: canonical.SourcePOS,
		},
		{
			name:   "canceled",
			raw:    sqOrder{State: "CANCELED"},
			status: canonical.OrderCanceled,
			source: canonical.SourcePOS,
		},
		{
			name:   "open without tenders",
			raw:    sqOrder{State: "OPEN"},
			status: canonical.OrderOpen,
			source: canonical.SourcePOS,
		},
		{
			name:   "platform reference",
			raw:    sqOrder{State: "OPEN", ReferenceID: pos.PlatformReferencePrefix + "abc"},
			status: canonical.OrderOpen,
			source: canonical.SourcePlatformOnline,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := mapOrder(tc.raw)
			if order.Status != tc.status {
				t.Fatalf("expected status %s, got %s", tc.status, order.Status)
			}
			if order.Source != tc.source {
				t.Fatalf("expected source %s, got %s", tc.source, order.Source)
			}
		})
	}
}

func TestFetchOrderNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	adapter := New(testCreds(server.URL))
	order, err := adapter.FetchOrder(context.Background(), "missing")
	if err != nil {
		t.Fatalf("expected nil error for not-found, got %v", err)
	}
	if order != nil {
		t.Fatalf("expected nil order for not-found, got %+v", order)
	}
}

func TestFetchCatalogPagination(t *testing.T) {
	page := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/catalog/list" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		if page == 0 {
			page++
			_, _ = w.Write([]byte(`{
				"cursor": "next-page",
				"objects": [{
					"type": "ITEM",
					"id": "ITEM-1",
					"present_at_all_locations": true,
					"item_data": {
						"name": "Burger",
						"variations": [{
							"type": "ITEM_VARIATION",
							"id": "VAR-1",
							"item_data": {"item_variation_data": {"name": "Regular", "price_money": {"amount": 950, "currency": "USD"}}}
						}]
					}
				}]
			}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"objects": [{
				"type": "ITEM",
				"id": "ITEM-2",
				"present_at_all_locations": true,
				"item_data": {
					"name": "Fries",
					"variations": [{
						"type": "ITEM_VARIATION",
						"id": "VAR-2",
						"item_data": {"item_variation_data": {"name": "Large", "price_money": {"amount": 450, "currency": "USD"}}}
					}]
				}
			}]
		}`))
	}))
	defer server.Close()

	adapter := New(testCreds(server.URL))
	items, err := adapter.FetchCatalog(context.Background(), "L-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items across pages, got %d", len(items))
	}
	if items[0].Name != "Burger" || items[0].PriceCents != 950 {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[1].Name != "Fries - Large" {
		t.Fatalf("expected variation suffix in name, got %q", items[1].Name)
	}
}
