package clover

import (
	"encoding/json"
	"net/http"
	"testing"

	"tableflow-pos-service/internal/canonical"
	"tableflow-pos-service/internal/pos"
)

func testAdapter() *Adapter {
	return New(pos.Credentials{
		Provider:           canonical.ProviderClover,
		AccessToken:        "test-token",
		ProviderMerchantID: "MERCH1",
		WebhookSecret:      "clover-verification-code",
	}).(*Adapter)
}

func TestVerifyWebhook(t *testing.T) {
	adapter := testAdapter()
	body := []byte(`{"appId":"APP1","merchants":{}}`)

	headers := http.Header{}
	headers.Set("X-Clover-Auth", "clover-verification-code")
	if !adapter.VerifyWebhook(headers, body) {
		t.Fatalf("expected matching auth code to verify")
	}

	headers.Set("X-Clover-Auth", "wrong-code")
	if adapter.VerifyWebhook(headers, body) {
		t.Fatalf("expected mismatched auth code to fail")
	}

	if adapter.VerifyWebhook(http.Header{}, body) {
		t.Fatalf("expected missing header to fail")
	}
}

func TestNormalizeWebhookDerivesDeterministicEventID(t *testing.T) {
	adapter := testAdapter()
	body := []byte(`{
		"appId": "APP1",
		"merchants": {
			"MERCH1": [
				{"objectId": "O:ORD-B", "type": "UPDATE", "ts": 1709300000500},
				{"objectId": "O:ORD-A", "type": "UPDATE", "ts": 1709300000100}
			]
		}
	}`)

	event, err := adapter.NormalizeWebhook(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The earliest update is the representative, regardless of payload order.
	if event.EventID != "MERCH1:O:ORD-A:1709300000100" {
		t.Fatalf("unexpected event id %q", event.EventID)
	}
	if event.OrderID != "ORD-A" {
		t.Fatalf("expected order ORD-A, got %q", event.OrderID)
	}
	if event.LocationID != "MERCH1" {
		t.Fatalf("expected merchant as location, got %q", event.LocationID)
	}
	if event.Type != canonical.EventOrderUpdated {
		t.Fatalf("expected order.updated, got %s", event.Type)
	}

	// Same batch delivered again, entries reordered: identical dedup key.
	reordered := []byte(`{
		"appId": "APP1",
		"merchants": {
			"MERCH1": [
				{"objectId": "O:ORD-A", "type": "UPDATE", "ts": 1709300000100},
				{"objectId": "O:ORD-B", "type": "UPDATE", "ts": 1709300000500}
			]
		}
	}`)
	again, err := adapter.NormalizeWebhook(reordered)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.EventID != event.EventID {
		t.Fatalf("expected identical event id, got %q vs %q", again.EventID, event.EventID)
	}
}

func TestNormalizeWebhookTieBreaksOnObjectID(t *testing.T) {
	adapter := testAdapter()
	body := []byte(`{
		"merchants": {
			"MERCH1": [
				{"objectId": "O:ZZZ", "type": "UPDATE", "ts": 1709300000100},
				{"objectId": "O:AAA", "type": "UPDATE", "ts": 1709300000100}
			]
		}
	}`)

	event, err := adapter.NormalizeWebhook(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.OrderID != "AAA" {
		t.Fatalf("expected objectId tie-break to pick AAA, got %q", event.OrderID)
	}
}

func TestNormalizeWebhookEventTypes(t *testing.T) {
	adapter := testAdapter()
	cases := []struct {
		name     string
		objectID string
		kind     string
		expected canonical.EventType
	}{
		{name: "order create", objectID: "O:ORD-1", kind: "CREATE", expected: canonical.EventOrderCreated},
		{name: "order update", objectID: "O:ORD-1", kind: "UPDATE", expected: canonical.EventOrderUpdated},
		{name: "order delete", objectID: "O:ORD-1", kind: "DELETE", expected: canonical.EventOrderCanceled},
		{name: "payment create", objectID: "P:PAY-1", kind: "CREATE", expected: canonical.EventPaymentCreated},
		{name: "payment update", objectID: "P:PAY-1", kind: "UPDATE", expected: canonical.EventPaymentUpdated},
		{name: "inventory ignored", objectID: "I:ITEM-1", kind: "UPDATE", expected: canonical.EventUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := map[string]any{
				"merchants": map[string]any{
					"MERCH1": []map[string]any{
						{"objectId": tc.objectID, "type": tc.kind, "ts": 1709300000100},
					},
				},
			}
			body, _ := json.Marshal(payload)
			event, err := adapter.NormalizeWebhook(body)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if event.Type != tc.expected {
				t.Fatalf("expected %s, got %s", tc.expected, event.Type)
			}
		})
	}
}

func TestNormalizeWebhookRejectsEmptyBatch(t *testing.T) {
	adapter := testAdapter()
	if _, err := adapter.NormalizeWebhook([]byte(`{"appId":"APP1","merchants":{}}`)); err == nil {
		t.Fatalf("expected error for empty batch")
	}
}

func TestMapOrderMoney(t *testing.T) {
	adapter := testAdapter()
	raw := cvOrder{
		ID:           "ORD-1",
		Currency:     "usd",
		Total:        1403,
		State:        "open",
		CreatedTime:  1709300000000,
		ModifiedTime: 1709300001000,
		Payments: &elements[struct {
			ID        string `json:"id"`
			Amount    int64  `json:"amount"`
			TaxAmount int64  `json:"taxAmount"`
		}]{Elements: []struct {
			ID        string `json:"id"`
			Amount    int64  `json:"amount"`
			TaxAmount int64  `json:"taxAmount"`
		}{{ID: "PAY-1", Amount: 1403, TaxAmount: 104}}},
		Discounts: &elements[struct {
			Amount int64 `json:"amount"`
		}]{Elements: []struct {
			Amount int64 `json:"amount"`
		}{{Amount: -200}}},
	}

	order := adapter.mapOrder(raw)
	if order.TaxCents != 104 {
		t.Fatalf("expected tax 104, got %d", order.TaxCents)
	}
	if order.DiscountCents != 200 {
		t.Fatalf("expected negative discount normalized to 200, got %d", order.DiscountCents)
	}
	if order.SubtotalCents != 1403-104+200 {
		t.Fatalf("unexpected derived subtotal %d", order.SubtotalCents)
	}
	if !order.Balanced() {
		t.Fatalf("expected order to balance: %+v", order)
	}
	if order.Currency != "USD" {
		t.Fatalf("expected currency uppercased, got %q", order.Currency)
	}
	if order.Status != canonical.OrderPaid {
		t.Fatalf("expected paid status, got %s", order.Status)
	}
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		name     string
		raw      cvOrder
		expected canonical.OrderStatus
	}{
		{name: "cleared state means deleted", raw: cvOrder{State: ""}, expected: canonical.OrderCanceled},
		{name: "locked and paid is completed", raw: cvOrder{State: "locked", PaymentState: "PAID"}, expected: canonical.OrderCompleted},
		{name: "paid but open", raw: cvOrder{State: "open", PaymentState: "PAID"}, expected: canonical.OrderPaid},
		{name: "open unpaid", raw: cvOrder{State: "open"}, expected: canonical.OrderOpen},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapStatus(tc.raw); got != tc.expected {
				t.Fatalf("expected %s, got %s", tc.expected, got)
			}
		})
	}
}

func TestMapSource(t *testing.T) {
	if got := mapSource(cvOrder{ExternalReferenceID: pos.PlatformReferencePrefix + "ref"}); got != canonical.SourcePlatformOnline {
		t.Fatalf("expected platform source, got %s", got)
	}
	if got := mapSource(cvOrder{}); got != canonical.SourcePOS {
		t.Fatalf("expected pos source, got %s", got)
	}
}

func TestSplitObjectID(t *testing.T) {
	kind, id := splitObjectID("O:ORD-1")
	if kind != "O" || id != "ORD-1" {
		t.Fatalf("unexpected split %q %q", kind, id)
	}
	kind, id = splitObjectID("bare-id")
	if kind != "" || id != "bare-id" {
		t.Fatalf("expected passthrough for unprefixed id, got %q %q", kind, id)
	}
}
