package toast

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"testing"

	"tableflow-pos-service/internal/canonical"
	"tableflow-pos-service/internal/pos"
)

func testAdapter() *Adapter {
	return New(pos.Credentials{
		Provider:           canonical.ProviderToast,
		AccessToken:        "test-token",
		ProviderMerchantID: "rest-guid-1",
		WebhookSecret:      "toast-secret",
	}).(*Adapter)
}

func TestDollarsToCents(t *testing.T) {
	cases := []struct {
		name     string
		dollars  float64
		expected int64
	}{
		{name: "whole dollars", dollars: 12.00, expected: 1200},
		{name: "plain cents", dollars: 12.99, expected: 1299},
		{name: "tax with sub-cent precision", dollars: 1.0392, expected: 104},
		{name: "half cent rounds away from zero", dollars: 0.125, expected: 13},
		{name: "tiny amount", dollars: 0.004, expected: 0},
		{name: "negative amount", dollars: -3.455, expected: -346},
		{name: "zero", dollars: 0, expected: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DollarsToCents(tc.dollars); got != tc.expected {
				t.Fatalf("DollarsToCents(%v) = %d, expected %d", tc.dollars, got, tc.expected)
			}
		})
	}
}

func TestMapOrderMoneyAndDrift(t *testing.T) {
	adapter := testAdapter()
	raw := tsOrder{
		GUID:         "order-guid",
		OpenedDate:   "2024-03-01T12:00:00Z",
		ModifiedDate: "2024-03-01T12:10:00Z",
		Checks: []tsCheck{{
			Amount:      12.99,
			TaxAmount:   1.0392,
			TotalAmount: 14.03,
			Selections: []tsSelection{{
				DisplayName: "Burger",
				Quantity:    1,
				Price:       12.99,
			}},
		}},
	}

	order := adapter.mapOrder(raw)
	if order.SubtotalCents != 1299 || order.TaxCents != 104 || order.TotalCents != 1403 {
		t.Fatalf("unexpected money: subtotal=%d tax=%d total=%d",
			order.SubtotalCents, order.TaxCents, order.TotalCents)
	}
	// 1299 + 104 - 1403 = 0: no drift here, discount stays zero.
	if order.DiscountCents != 0 {
		t.Fatalf("expected zero discount, got %d", order.DiscountCents)
	}
	if !order.Balanced() {
		t.Fatalf("expected order to balance: %+v", order)
	}
}

func TestMapOrderFoldsDriftIntoDiscount(t *testing.T) {
	adapter := testAdapter()
	// amount+tax round to 1300+104=1404 but the settled total is 14.03:
	// the one-cent drift must land in the discount term.
	raw := tsOrder{
		GUID: "order-guid",
		Checks: []tsCheck{{
			Amount:      13.004,
			TaxAmount:   1.0392,
			TotalAmount: 14.03,
		}},
	}

	order := adapter.mapOrder(raw)
	if order.DiscountCents != 1 {
		t.Fatalf("expected drift of 1 cent in discount, got %d", order.DiscountCents)
	}
	if !order.Balanced() {
		t.Fatalf("expected order to balance after drift fold: %+v", order)
	}
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		name     string
		raw      tsOrder
		expected canonical.OrderStatus
	}{
		{name: "voided wins", raw: tsOrder{Voided: true, ClosedDate: "2024-03-01T13:00:00Z"}, expected: canonical.OrderCanceled},
		{name: "deleted wins", raw: tsOrder{Deleted: true}, expected: canonical.OrderCanceled},
		{name: "closed is completed", raw: tsOrder{ClosedDate: "2024-03-01T13:00:00Z"}, expected: canonical.OrderCompleted},
		{name: "paid date", raw: tsOrder{PaidDate: "2024-03-01T12:30:00Z"}, expected: canonical.OrderPaid},
		{name: "payments imply paid", raw: tsOrder{Checks: []tsCheck{{Payments: []struct {
			GUID string `json:"guid"`
		}{{GUID: "p1"}}}}}, expected: canonical.OrderPaid},
		{name: "open otherwise", raw: tsOrder{}, expected: canonical.OrderOpen},
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
	if got := mapSource(tsOrder{Source: "API"}); got != canonical.SourcePlatformOnline {
		t.Fatalf("expected API source to map to platform, got %s", got)
	}
	if got := mapSource(tsOrder{Checks: []tsCheck{{TabName: pos.PlatformReferencePrefix + "x1"}}}); got != canonical.SourcePlatformOnline {
		t.Fatalf("expected tagged tab name to map to platform, got %s", got)
	}
	if got := mapSource(tsOrder{Source: "In Store"}); got != canonical.SourcePOS {
		t.Fatalf("expected terminal order to map to pos, got %s", got)
	}
}

func TestVerifyWebhook(t *testing.T) {
	adapter := testAdapter()
	body := []byte(`{"guid":"evt-1"}`)

	mac := hmac.New(sha256.New, []byte("toast-secret"))
	mac.Write(body)
	valid := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	headers := http.Header{}
	headers.Set("Toast-Signature", valid)
	if !adapter.VerifyWebhook(headers, body) {
		t.Fatalf("expected valid signature to verify")
	}

	headers.Set("Toast-Signature", "bogus")
	if adapter.VerifyWebhook(headers, body) {
		t.Fatalf("expected invalid signature to fail")
	}
}

func TestNormalizeWebhookEmbeddedOrder(t *testing.T) {
	adapter := testAdapter()
	body := []byte(`{
		"guid": "evt-9",
		"timestamp": "2024-03-01T12:00:00Z",
		"eventCategory": "orders",
		"eventType": "ORDER_PAID",
		"restaurantGuid": "rest-guid-1",
		"eventData": {
			"orderGuid": "order-guid",
			"order": {
				"guid": "order-guid",
				"checks": [{"amount": 10.00, "taxAmount": 0.80, "totalAmount": 10.80, "payments": [{"guid": "p1"}]}]
			}
		}
	}`)

	event, err := adapter.NormalizeWebhook(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Type != canonical.EventOrderPaid {
		t.Fatalf("expected order.paid, got %s", event.Type)
	}
	if event.Order == nil {
		t.Fatalf("expected embedded order snapshot")
	}
	if event.Order.TotalCents != 1080 || event.Order.Status != canonical.OrderPaid {
		t.Fatalf("unexpected embedded order: %+v", event.Order)
	}
}

func TestNormalizeWebhookUnknownCategory(t *testing.T) {
	adapter := testAdapter()
	event, err := adapter.NormalizeWebhook([]byte(`{"guid":"evt-1","eventCategory":"menus","eventType":"MENU_UPDATED"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Type != canonical.EventUnknown {
		t.Fatalf("expected unknown type, got %s", event.Type)
	}
}
