package clover

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"tableflow-pos-service/internal/canonical"
	"tableflow-pos-service/internal/pos"

	"github.com/google/uuid"
)

const (
	defaultBaseURL = "https://api.clover.com"
	authHeader     = "X-Clover-Auth"

	pageLimit = 100
)

// Adapter talks to the Clover v3 REST API. Clover reports money in integer
// cents already; order updates arrive as merchant-batched webhook payloads
// without per-event ids, so dedup keys are derived deterministically from
// the batch content.
type Adapter struct {
	creds  pos.Credentials
	client *pos.RESTClient
}

func New(creds pos.Credentials) pos.Adapter {
	base := creds.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		creds: creds,
		client: pos.NewRESTClient(base, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
		}),
	}
}

func (a *Adapter) Provider() canonical.Provider { return canonical.ProviderClover }

func (a *Adapter) merchantPath(suffix string) string {
	return "/v3/merchants/" + url.PathEscape(a.creds.ProviderMerchantID) + suffix
}

// --- wire shapes ---

type elements[T any] struct {
	Elements []T `json:"elements"`
}

type cvItem struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Price          int64  `json:"price"`
	Hidden         bool   `json:"hidden"`
	Available      bool   `json:"available"`
	Deleted        bool   `json:"deleted"`
	ModifierGroups *elements[cvModifierGroup] `json:"modifierGroups"`
}

type cvModifierGroup struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MinRequired *int   `json:"minRequired"`
	MaxAllowed  *int   `json:"maxAllowed"`
	Modifiers   *elements[cvModifier] `json:"modifiers"`
}

type cvModifier struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

type cvOrder struct {
	ID                  string `json:"id"`
	Currency            string `json:"currency"`
	Total               int64  `json:"total"`
	State               string `json:"state"`
	PaymentState        string `json:"paymentState"`
	ExternalReferenceID string `json:"externalReferenceId"`
	Note                string `json:"note"`
	CreatedTime         int64  `json:"createdTime"`
	ModifiedTime        int64  `json:"modifiedTime"`
	OrderType           *struct {
		Label string `json:"label"`
	} `json:"orderType"`
	LineItems *elements[cvLineItem] `json:"lineItems"`
	Discounts *elements[struct {
		Amount int64 `json:"amount"`
	}] `json:"discounts"`
	Payments *elements[struct {
		ID        string `json:"id"`
		Amount    int64  `json:"amount"`
		TaxAmount int64  `json:"taxAmount"`
	}] `json:"payments"`
}

type cvLineItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Note  string `json:"note"`
	Item  *struct {
		ID string `json:"id"`
	} `json:"item"`
	Modifications *elements[struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Amount int64  `json:"amount"`
	}] `json:"modifications"`
}

// --- catalog ---

func (a *Adapter) FetchCatalog(ctx context.Context, locationID string) ([]canonical.CatalogItem, error) {
	var out []canonical.CatalogItem
	for offset := 0; ; offset += pageLimit {
		path := a.merchantPath(fmt.Sprintf("/items?expand=modifierGroups.modifiers&limit=%d&offset=%d", pageLimit, offset))
		var page elements[cvItem]
		if err := a.client.GetJSON(ctx, path, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Elements {
			if item.Deleted || item.Hidden || !item.Available {
				continue
			}
			mapped := canonical.CatalogItem{
				ExternalID: item.ID,
				Provider:   canonical.ProviderClover,
				Name:       item.Name,
				PriceCents: item.Price,
				Currency:   "USD",
				Available:  true,
			}
			if item.ModifierGroups != nil {
				for _, group := range item.ModifierGroups.Elements {
					mg := canonical.ModifierGroup{
						ExternalID: group.ID,
						Name:       group.Name,
					}
					if group.MinRequired != nil {
						mg.MinSelection = *group.MinRequired
						mg.Required = *group.MinRequired > 0
					}
					if group.MaxAllowed != nil {
						mg.MaxSelection = *group.MaxAllowed
					}
					if group.Modifiers != nil {
						for _, mod := range group.Modifiers.Elements {
							mg.Modifiers = append(mg.Modifiers, canonical.Modifier{
								ExternalID: mod.ID,
								Name:       mod.Name,
								PriceCents: mod.Price,
							})
						}
					}
					mapped.ModifierGroups = append(mapped.ModifierGroups, mg)
				}
			}
			out = append(out, mapped)
		}
		if len(page.Elements) < pageLimit {
			break
		}
	}
	return out, nil
}

// --- orders ---

const orderExpand = "?expand=lineItems.modifications,discounts,payments"

func (a *Adapter) FetchOrder(ctx context.Context, orderID string) (*canonical.Order, error) {
	var raw cvOrder
	err := a.client.GetJSON(ctx, a.merchantPath("/orders/"+url.PathEscape(orderID)+orderExpand), &raw)
	if err != nil {
		if posErr, ok := pos.AsError(err); ok && posErr.Code == pos.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	order := a.mapOrder(raw)
	return &order, nil
}

func (a *Adapter) SearchOrders(ctx context.Context, locationID string, since time.Time, until *time.Time) ([]canonical.Order, error) {
	end := time.Now().UTC()
	if until != nil {
		end = until.UTC()
	}
	var out []canonical.Order
	for offset := 0; ; offset += pageLimit {
		path := a.merchantPath(fmt.Sprintf(
			"/orders?filter=modifiedTime>=%d&filter=modifiedTime<=%d&expand=lineItems.modifications,discounts,payments&limit=%d&offset=%d",
			since.UnixMilli(), end.UnixMilli(), pageLimit, offset))
		var page elements[cvOrder]
		if err := a.client.GetJSON(ctx, path, &page); err != nil {
			return nil, err
		}
		for _, raw := range page.Elements {
			out = append(out, a.mapOrder(raw))
		}
		if len(page.Elements) < pageLimit {
			break
		}
	}
	return out, nil
}

func (a *Adapter) mapOrder(raw cvOrder) canonical.Order {
	order := canonical.Order{
		ExternalID: raw.ID,
		Provider:   canonical.ProviderClover,
		LocationID: a.creds.ProviderMerchantID,
		Source:     mapSource(raw),
		Status:     mapStatus(raw),
		TotalCents: raw.Total,
		Currency:   currencyOrDefault(raw.Currency),
		CreatedAt:  time.UnixMilli(raw.CreatedTime).UTC(),
		UpdatedAt:  time.UnixMilli(raw.ModifiedTime).UTC(),
	}
	if raw.OrderType != nil {
		order.FulfillmentType = strings.ToLower(raw.OrderType.Label)
	}
	if raw.Payments != nil {
		for _, payment := range raw.Payments.Elements {
			order.TaxCents += payment.TaxAmount
		}
	}
	if raw.Discounts != nil {
		for _, discount := range raw.Discounts.Elements {
			// Clover stores discounts as negative amounts.
			if discount.Amount < 0 {
				order.DiscountCents += -discount.Amount
			} else {
				order.DiscountCents += discount.Amount
			}
		}
	}
	// Total already includes tax and excludes discounts; derive subtotal.
	order.SubtotalCents = order.TotalCents - order.TaxCents + order.DiscountCents

	if raw.LineItems != nil {
		for _, li := range raw.LineItems.Elements {
			item := canonical.OrderItem{
				Name:            li.Name,
				Quantity:        1,
				UnitPriceCents:  li.Price,
				TotalPriceCents: li.Price,
				Notes:           li.Note,
			}
			if li.Item != nil {
				item.ExternalID = li.Item.ID
			}
			if item.ExternalID == "" {
				item.ExternalID = li.ID
			}
			if li.Modifications != nil {
				for _, mod := range li.Modifications.Elements {
					item.Modifiers = append(item.Modifiers, canonical.Modifier{
						ExternalID: mod.ID,
						Name:       mod.Name,
						PriceCents: mod.Amount,
					})
					item.TotalPriceCents += mod.Amount
				}
			}
			order.Items = append(order.Items, item)
		}
	}

	if encoded, err := json.Marshal(raw); err == nil {
		order.Raw = encoded
	}
	return order
}

func mapStatus(raw cvOrder) canonical.OrderStatus {
	paid := strings.EqualFold(raw.PaymentState, "PAID") ||
		(raw.Payments != nil && len(raw.Payments.Elements) > 0)
	switch {
	case raw.State == "":
		// Deleted orders come back with a cleared state.
		return canonical.OrderCanceled
	case strings.EqualFold(raw.State, "locked") && paid:
		return canonical.OrderCompleted
	case paid:
		return canonical.OrderPaid
	default:
		return canonical.OrderOpen
	}
}

func mapSource(raw cvOrder) canonical.OrderSource {
	if strings.HasPrefix(raw.ExternalReferenceID, pos.PlatformReferencePrefix) {
		return canonical.SourcePlatformOnline
	}
	return canonical.SourcePOS
}

func currencyOrDefault(currency string) string {
	if currency == "" {
		return "USD"
	}
	return strings.ToUpper(currency)
}

// --- checkout ---

func (a *Adapter) CreateCheckout(ctx context.Context, input pos.CheckoutInput) (*pos.CheckoutResult, error) {
	lineItems := make([]map[string]any, 0, len(input.Items))
	for _, item := range input.Items {
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		lineItems = append(lineItems, map[string]any{
			"name":    item.Name,
			"price":   item.UnitPriceCents,
			"unitQty": qty,
			"note":    item.Notes,
		})
	}
	body := map[string]any{
		"externalReferenceId": pos.PlatformReferencePrefix + uuid.NewString()[:13],
		"customer": map[string]any{
			"email":       input.CustomerEmail,
			"firstName":   input.CustomerName,
			"phoneNumber": input.CustomerPhone,
		},
		"shoppingCart": map[string]any{
			"lineItems": lineItems,
		},
		"redirectUrls": map[string]any{
			"success": input.RedirectURL,
		},
	}

	var resp struct {
		Href           string `json:"href"`
		OrderID        string `json:"orderId"`
		ExpirationTime int64  `json:"expirationTime"`
	}
	if err := a.client.PostJSON(ctx, "/invoicingcheckoutservice/v1/checkouts", body, &resp); err != nil {
		return nil, err
	}
	if resp.Href == "" {
		return nil, pos.ProviderError("checkout href missing from response", 0, nil)
	}
	result := &pos.CheckoutResult{CheckoutURL: resp.Href, OrderID: resp.OrderID}
	if resp.ExpirationTime > 0 {
		expires := time.UnixMilli(resp.ExpirationTime).UTC()
		result.ExpiresAt = &expires
	}
	return result, nil
}

// --- locations ---

func (a *Adapter) FetchLocations(ctx context.Context) ([]canonical.Location, error) {
	loc, err := a.FetchLocation(ctx, a.creds.ProviderMerchantID)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		return nil, nil
	}
	return []canonical.Location{*loc}, nil
}

func (a *Adapter) FetchLocation(ctx context.Context, locationID string) (*canonical.Location, error) {
	var raw struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		DefaultCurrency string `json:"defaultCurrency"`
		Timezone        string `json:"timezone"`
		Address         *struct {
			Address1 string `json:"address1"`
			City     string `json:"city"`
		} `json:"address"`
	}
	err := a.client.GetJSON(ctx, "/v3/merchants/"+url.PathEscape(locationID)+"?expand=address", &raw)
	if err != nil {
		if posErr, ok := pos.AsError(err); ok && posErr.Code == pos.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	loc := &canonical.Location{
		ExternalID: raw.ID,
		Provider:   canonical.ProviderClover,
		Name:       raw.Name,
		Timezone:   raw.Timezone,
		Currency:   currencyOrDefault(raw.DefaultCurrency),
		Active:     true,
	}
	if raw.Address != nil {
		loc.Address = strings.TrimSpace(raw.Address.Address1 + " " + raw.Address.City)
	}
	return loc, nil
}

// --- webhooks ---

// VerifyWebhook compares the X-Clover-Auth header against the verification
// code issued when the webhook was configured. Clover does not sign bodies.
func (a *Adapter) VerifyWebhook(headers http.Header, rawBody []byte) bool {
	if a.creds.WebhookSecret == "" {
		return false
	}
	provided := strings.TrimSpace(headers.Get(authHeader))
	if provided == "" {
		return false
	}
	return hmac.Equal([]byte(provided), []byte(a.creds.WebhookSecret))
}

type batchUpdate struct {
	ObjectID string `json:"objectId"`
	Type     string `json:"type"`
	TS       int64  `json:"ts"`
	merchant string
}

type webhookEnvelope struct {
	AppID     string                   `json:"appId"`
	Merchants map[string][]batchUpdate `json:"merchants"`
}

// NormalizeWebhook flattens Clover's merchant-batched payload and selects
// one representative update deterministically (earliest ts, then objectId).
// The remaining updates stay available in the raw payload; redelivered
// batches derive the same event id and dedup cleanly.
func (a *Adapter) NormalizeWebhook(rawBody []byte) (canonical.WebhookEvent, error) {
	event := canonical.WebhookEvent{
		Type:     canonical.EventUnknown,
		Provider: canonical.ProviderClover,
		Raw:      append(json.RawMessage(nil), rawBody...),
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return event, fmt.Errorf("clover webhook decode: %w", err)
	}

	var updates []batchUpdate
	for merchantID, list := range envelope.Merchants {
		for _, update := range list {
			update.merchant = merchantID
			updates = append(updates, update)
		}
	}
	if len(updates) == 0 {
		return event, fmt.Errorf("clover webhook carries no updates")
	}

	sort.Slice(updates, func(i, j int) bool {
		if updates[i].TS != updates[j].TS {
			return updates[i].TS < updates[j].TS
		}
		if updates[i].merchant != updates[j].merchant {
			return updates[i].merchant < updates[j].merchant
		}
		return updates[i].ObjectID < updates[j].ObjectID
	})
	representative := updates[0]

	event.EventID = fmt.Sprintf("%s:%s:%d", representative.merchant, representative.ObjectID, representative.TS)
	event.LocationID = representative.merchant
	event.Timestamp = time.UnixMilli(representative.TS).UTC()

	kind, objectID := splitObjectID(representative.ObjectID)
	switch kind {
	case "O":
		event.OrderID = objectID
		switch strings.ToUpper(representative.Type) {
		case "CREATE":
			event.Type = canonical.EventOrderCreated
		case "DELETE":
			event.Type = canonical.EventOrderCanceled
		default:
			event.Type = canonical.EventOrderUpdated
		}
	case "P":
		event.PaymentID = objectID
		switch strings.ToUpper(representative.Type) {
		case "CREATE":
			event.Type = canonical.EventPaymentCreated
		default:
			event.Type = canonical.EventPaymentUpdated
		}
	}
	return event, nil
}

func splitObjectID(objectID string) (kind string, id string) {
	parts := strings.SplitN(objectID, ":", 2)
	if len(parts) != 2 {
		return "", objectID
	}
	return strings.ToUpper(parts[0]), parts[1]
}
