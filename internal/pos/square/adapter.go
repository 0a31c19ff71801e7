package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tableflow-pos-service/internal/canonical"
	"tableflow-pos-service/internal/pos"

	"github.com/google/uuid"
)

const (
	defaultBaseURL  = "https://connect.squareup.com"
	apiVersion      = "2024-01-18"
	signatureHeader = "x-square-hmacsha256-signature"
)

// Adapter talks to the Square Connect v2 API. Square already reports money
// in integer minor units, so mapping is a straight copy.
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
			req.Header.Set("Square-Version", apiVersion)
		}),
	}
}

func (a *Adapter) Provider() canonical.Provider { return canonical.ProviderSquare }

// --- wire shapes ---

type money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type catalogListResponse struct {
	Objects []catalogObject `json:"objects"`
	Cursor  string          `json:"cursor"`
}

type catalogObject struct {
	Type         string            `json:"type"`
	ID           string            `json:"id"`
	IsDeleted    bool              `json:"is_deleted"`
	ItemData     *itemData         `json:"item_data"`
	ModifierList *modifierListData `json:"modifier_list_data"`
	AbsentAt     []string          `json:"absent_at_location_ids"`
	PresentAtAll bool              `json:"present_at_all_locations"`
	PresentAt    []string          `json:"present_at_location_ids"`
}

type itemData struct {
	Name             string             `json:"name"`
	Description      string             `json:"description"`
	IsArchived       bool               `json:"is_archived"`
	Variations       []catalogObject    `json:"variations"`
	ModifierListInfo []modifierListInfo `json:"modifier_list_info"`
	VariationData    *variationData     `json:"item_variation_data"`
}

type variationData struct {
	Name       string `json:"name"`
	PriceMoney *money `json:"price_money"`
}

type modifierListInfo struct {
	ModifierListID       string `json:"modifier_list_id"`
	Enabled              *bool  `json:"enabled"`
	MinSelectedModifiers int    `json:"min_selected_modifiers"`
	MaxSelectedModifiers int    `json:"max_selected_modifiers"`
}

type modifierListData struct {
	Name      string          `json:"name"`
	Modifiers []catalogObject `json:"modifiers"`
	Modifier  *struct {
		Name       string `json:"name"`
		PriceMoney *money `json:"price_money"`
	} `json:"modifier_data"`
}

type sqOrder struct {
	ID          string       `json:"id"`
	LocationID  string       `json:"location_id"`
	ReferenceID string       `json:"reference_id"`
	State       string       `json:"state"`
	LineItems   []sqLineItem `json:"line_items"`
	Tenders     []struct {
		ID string `json:"id"`
	} `json:"tenders"`
	TotalMoney         *money `json:"total_money"`
	TotalTaxMoney      *money `json:"total_tax_money"`
	TotalDiscountMoney *money `json:"total_discount_money"`
	Fulfillments       []struct {
		Type  string `json:"type"`
		State string `json:"state"`
	} `json:"fulfillments"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type sqLineItem struct {
	UID             string `json:"uid"`
	CatalogObjectID string `json:"catalog_object_id"`
	Name            string `json:"name"`
	Quantity        string `json:"quantity"`
	Note            string `json:"note"`
	BasePriceMoney  *money `json:"base_price_money"`
	TotalMoney      *money `json:"total_money"`
	Modifiers       []struct {
		CatalogObjectID string `json:"catalog_object_id"`
		Name            string `json:"name"`
		TotalPriceMoney *money `json:"total_price_money"`
	} `json:"modifiers"`
}

// --- catalog ---

func (a *Adapter) FetchCatalog(ctx context.Context, locationID string) ([]canonical.CatalogItem, error) {
	var (
		items         []catalogObject
		modifierLists = map[string]modifierListData{}
		cursor        string
	)
	for {
		path := "/v2/catalog/list?types=ITEM,MODIFIER_LIST"
		if cursor != "" {
			path += "&cursor=" + url.QueryEscape(cursor)
		}
		var page catalogListResponse
		if err := a.client.GetJSON(ctx, path, &page); err != nil {
			return nil, err
		}
		for _, obj := range page.Objects {
			switch obj.Type {
			case "ITEM":
				items = append(items, obj)
			case "MODIFIER_LIST":
				if obj.ModifierList != nil && !obj.IsDeleted {
					modifierLists[obj.ID] = *obj.ModifierList
				}
			}
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	out := make([]canonical.CatalogItem, 0, len(items))
	for _, obj := range items {
		if obj.IsDeleted || obj.ItemData == nil || obj.ItemData.IsArchived {
			continue
		}
		if !availableAtLocation(obj, locationID) {
			continue
		}
		groups := a.mapModifierGroups(obj.ItemData.ModifierListInfo, modifierLists)
		for _, variation := range obj.ItemData.Variations {
			if variation.IsDeleted || variation.ItemData == nil || variation.ItemData.VariationData == nil {
				continue
			}
			data := variation.ItemData.VariationData
			name := obj.ItemData.Name
			if data.Name != "" && !strings.EqualFold(data.Name, "Regular") {
				name = name + " - " + data.Name
			}
			item := canonical.CatalogItem{
				ExternalID:     obj.ID,
				VariationID:    variation.ID,
				Provider:       canonical.ProviderSquare,
				Name:           name,
				Description:    obj.ItemData.Description,
				Currency:       "USD",
				Available:      true,
				ModifierGroups: groups,
			}
			if data.PriceMoney != nil {
				item.PriceCents = data.PriceMoney.Amount
				if data.PriceMoney.Currency != "" {
					item.Currency = data.PriceMoney.Currency
				}
			}
			out = append(out, item)
		}
	}
	return out, nil
}

func availableAtLocation(obj catalogObject, locationID string) bool {
	for _, absent := range obj.AbsentAt {
		if absent == locationID {
			return false
		}
	}
	if obj.PresentAtAll || len(obj.PresentAt) == 0 {
		return true
	}
	for _, present := range obj.PresentAt {
		if present == locationID {
			return true
		}
	}
	return false
}

func (a *Adapter) mapModifierGroups(infos []modifierListInfo, lists map[string]modifierListData) []canonical.ModifierGroup {
	var groups []canonical.ModifierGroup
	for _, info := range infos {
		if info.Enabled != nil && !*info.Enabled {
			continue
		}
		list, ok := lists[info.ModifierListID]
		if !ok {
			continue
		}
		group := canonical.ModifierGroup{
			ExternalID:   info.ModifierListID,
			Name:         list.Name,
			Required:     info.MinSelectedModifiers > 0,
			MinSelection: info.MinSelectedModifiers,
			MaxSelection: info.MaxSelectedModifiers,
		}
		for _, mod := range list.Modifiers {
			if mod.IsDeleted || mod.ModifierList == nil || mod.ModifierList.Modifier == nil {
				continue
			}
			entry := canonical.Modifier{ExternalID: mod.ID, Name: mod.ModifierList.Modifier.Name}
			if pm := mod.ModifierList.Modifier.PriceMoney; pm != nil {
				entry.PriceCents = pm.Amount
			}
			group.Modifiers = append(group.Modifiers, entry)
		}
		groups = append(groups, group)
	}
	return groups
}

// --- orders ---

func (a *Adapter) FetchOrder(ctx context.Context, orderID string) (*canonical.Order, error) {
	var resp struct {
		Order *sqOrder `json:"order"`
	}
	err := a.client.GetJSON(ctx, "/v2/orders/"+url.PathEscape(orderID), &resp)
	if err != nil {
		if posErr, ok := pos.AsError(err); ok && posErr.Code == pos.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	if resp.Order == nil {
		return nil, nil
	}
	order := mapOrder(*resp.Order)
	return &order, nil
}

func (a *Adapter) SearchOrders(ctx context.Context, locationID string, since time.Time, until *time.Time) ([]canonical.Order, error) {
	end := time.Now().UTC()
	if until != nil {
		end = until.UTC()
	}
	var (
		out    []canonical.Order
		cursor string
	)
	for {
		body := map[string]any{
			"location_ids": []string{locationID},
			"limit":        100,
			"query": map[string]any{
				"filter": map[string]any{
					"date_time_filter": map[string]any{
						"updated_at": map[string]any{
							"start_at": since.UTC().Format(time.RFC3339),
							"end_at":   end.Format(time.RFC3339),
						},
					},
				},
				"sort": map[string]any{"sort_field": "UPDATED_AT", "sort_order": "ASC"},
			},
		}
		if cursor != "" {
			body["cursor"] = cursor
		}
		var resp struct {
			Orders []sqOrder `json:"orders"`
			Cursor string    `json:"cursor"`
		}
		if err := a.client.PostJSON(ctx, "/v2/orders/search", body, &resp); err != nil {
			return nil, err
		}
		for _, raw := range resp.Orders {
			out = append(out, mapOrder(raw))
		}
		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}
	return out, nil
}

func mapOrder(raw sqOrder) canonical.Order {
	order := canonical.Order{
		ExternalID: raw.ID,
		Provider:   canonical.ProviderSquare,
		LocationID: raw.LocationID,
		Source:     sourceFromReference(raw.ReferenceID),
		Status:     mapOrderState(raw),
		Currency:   "USD",
		CreatedAt:  parseTime(raw.CreatedAt),
		UpdatedAt:  parseTime(raw.UpdatedAt),
	}
	if raw.TotalMoney != nil {
		order.TotalCents = raw.TotalMoney.Amount
		if raw.TotalMoney.Currency != "" {
			order.Currency = raw.TotalMoney.Currency
		}
	}
	if raw.TotalTaxMoney != nil {
		order.TaxCents = raw.TotalTaxMoney.Amount
	}
	if raw.TotalDiscountMoney != nil {
		order.DiscountCents = raw.TotalDiscountMoney.Amount
	}
	// Square has no subtotal field; derive it so the conservation
	// invariant holds by construction.
	order.SubtotalCents = order.TotalCents - order.TaxCents + order.DiscountCents

	for _, li := range raw.LineItems {
		item := canonical.OrderItem{
			ExternalID: li.CatalogObjectID,
			Name:       li.Name,
			Quantity:   parseQuantity(li.Quantity),
			Notes:      li.Note,
		}
		if item.ExternalID == "" {
			item.ExternalID = li.UID
		}
		if li.BasePriceMoney != nil {
			item.UnitPriceCents = li.BasePriceMoney.Amount
		}
		if li.TotalMoney != nil {
			item.TotalPriceCents = li.TotalMoney.Amount
		}
		for _, mod := range li.Modifiers {
			entry := canonical.Modifier{ExternalID: mod.CatalogObjectID, Name: mod.Name}
			if mod.TotalPriceMoney != nil {
				entry.PriceCents = mod.TotalPriceMoney.Amount
			}
			item.Modifiers = append(item.Modifiers, entry)
		}
		order.Items = append(order.Items, item)
	}

	if len(raw.Fulfillments) > 0 {
		order.FulfillmentType = strings.ToLower(raw.Fulfillments[0].Type)
	}
	if encoded, err := json.Marshal(raw); err == nil {
		order.Raw = encoded
	}
	return order
}

func mapOrderState(raw sqOrder) canonical.OrderStatus {
	switch raw.State {
	case "COMPLETED":
		return canonical.OrderCompleted
	case "CANCELED":
		return canonical.OrderCanceled
	default:
		if len(raw.Tenders) > 0 {
			return canonical.OrderPaid
		}
		return canonical.OrderOpen
	}
}

func sourceFromReference(referenceID string) canonical.OrderSource {
	if strings.HasPrefix(referenceID, pos.PlatformReferencePrefix) {
		return canonical.SourcePlatformOnline
	}
	return canonical.SourcePOS
}

func parseQuantity(value string) int {
	qty, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || qty < 1 {
		return 1
	}
	return qty
}

func parseTime(value string) time.Time {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// --- checkout ---

func (a *Adapter) CreateCheckout(ctx context.Context, input pos.CheckoutInput) (*pos.CheckoutResult, error) {
	lineItems := make([]map[string]any, 0, len(input.Items))
	for _, item := range input.Items {
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		li := map[string]any{
			"name":     item.Name,
			"quantity": strconv.Itoa(qty),
			"base_price_money": map[string]any{
				"amount":   item.UnitPriceCents,
				"currency": currencyOrDefault(input.Currency),
			},
		}
		if item.VariationID != "" {
			li["catalog_object_id"] = item.VariationID
		}
		if item.Notes != "" {
			li["note"] = item.Notes
		}
		lineItems = append(lineItems, li)
	}

	body := map[string]any{
		"idempotency_key": uuid.NewString(),
		"order": map[string]any{
			"location_id":  input.LocationID,
			"reference_id": pos.PlatformReferencePrefix + uuid.NewString()[:13],
			"line_items":   lineItems,
		},
		"checkout_options": map[string]any{
			"redirect_url": input.RedirectURL,
		},
	}

	var resp struct {
		PaymentLink struct {
			URL     string `json:"url"`
			OrderID string `json:"order_id"`
		} `json:"payment_link"`
	}
	if err := a.client.PostJSON(ctx, "/v2/online-checkout/payment-links", body, &resp); err != nil {
		return nil, err
	}
	if resp.PaymentLink.URL == "" {
		return nil, pos.ProviderError("payment link missing from response", 0, nil)
	}
	return &pos.CheckoutResult{
		CheckoutURL: resp.PaymentLink.URL,
		OrderID:     resp.PaymentLink.OrderID,
	}, nil
}

func currencyOrDefault(currency string) string {
	if currency == "" {
		return "USD"
	}
	return strings.ToUpper(currency)
}

// --- locations ---

type sqLocation struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Timezone string `json:"timezone"`
	Currency string `json:"currency"`
	Address  *struct {
		AddressLine1 string `json:"address_line_1"`
		Locality     string `json:"locality"`
	} `json:"address"`
}

func (a *Adapter) FetchLocations(ctx context.Context) ([]canonical.Location, error) {
	var resp struct {
		Locations []sqLocation `json:"locations"`
	}
	if err := a.client.GetJSON(ctx, "/v2/locations", &resp); err != nil {
		return nil, err
	}
	out := make([]canonical.Location, 0, len(resp.Locations))
	for _, loc := range resp.Locations {
		out = append(out, mapLocation(loc))
	}
	return out, nil
}

func (a *Adapter) FetchLocation(ctx context.Context, locationID string) (*canonical.Location, error) {
	var resp struct {
		Location *sqLocation `json:"location"`
	}
	err := a.client.GetJSON(ctx, "/v2/locations/"+url.PathEscape(locationID), &resp)
	if err != nil {
		if posErr, ok := pos.AsError(err); ok && posErr.Code == pos.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	if resp.Location == nil {
		return nil, nil
	}
	loc := mapLocation(*resp.Location)
	return &loc, nil
}

func mapLocation(raw sqLocation) canonical.Location {
	loc := canonical.Location{
		ExternalID: raw.ID,
		Provider:   canonical.ProviderSquare,
		Name:       raw.Name,
		Timezone:   raw.Timezone,
		Currency:   raw.Currency,
		Active:     raw.Status == "ACTIVE",
	}
	if raw.Address != nil {
		loc.Address = strings.TrimSpace(raw.Address.AddressLine1 + " " + raw.Address.Locality)
	}
	return loc
}

// --- webhooks ---

// VerifyWebhook checks Square's HMAC-SHA256 signature, computed over the
// notification URL concatenated with the raw body, base64-encoded.
func (a *Adapter) VerifyWebhook(headers http.Header, rawBody []byte) bool {
	if a.creds.WebhookSecret == "" {
		return false
	}
	provided := strings.TrimSpace(headers.Get(signatureHeader))
	if provided == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(a.creds.WebhookSecret))
	mac.Write([]byte(a.creds.NotificationURL))
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(provided))
}

type webhookEnvelope struct {
	MerchantID string `json:"merchant_id"`
	LocationID string `json:"location_id"`
	Type       string `json:"type"`
	EventID    string `json:"event_id"`
	CreatedAt  string `json:"created_at"`
	Data       struct {
		Type   string          `json:"type"`
		ID     string          `json:"id"`
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (a *Adapter) NormalizeWebhook(rawBody []byte) (canonical.WebhookEvent, error) {
	event := canonical.WebhookEvent{
		Type:     canonical.EventUnknown,
		Provider: canonical.ProviderSquare,
		Raw:      append(json.RawMessage(nil), rawBody...),
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return event, fmt.Errorf("square webhook decode: %w", err)
	}
	if envelope.EventID == "" {
		return event, fmt.Errorf("square webhook missing event_id")
	}

	event.EventID = envelope.EventID
	event.LocationID = envelope.LocationID
	event.Timestamp = parseTime(envelope.CreatedAt)
	event.Type = mapEventType(envelope.Type)

	switch {
	case strings.HasPrefix(envelope.Type, "order."):
		event.OrderID = envelope.Data.ID
		// order.* objects nest a {order_created|order_updated|...} record
		// with order_id and location_id; prefer those when present.
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(envelope.Data.Object, &obj); err == nil {
			for _, inner := range obj {
				var ref struct {
					OrderID    string `json:"order_id"`
					LocationID string `json:"location_id"`
				}
				if err := json.Unmarshal(inner, &ref); err == nil {
					if ref.OrderID != "" {
						event.OrderID = ref.OrderID
					}
					if ref.LocationID != "" {
						event.LocationID = ref.LocationID
					}
				}
			}
		}
	case strings.HasPrefix(envelope.Type, "payment."):
		event.PaymentID = envelope.Data.ID
		var obj struct {
			Payment struct {
				OrderID    string `json:"order_id"`
				LocationID string `json:"location_id"`
			} `json:"payment"`
		}
		if err := json.Unmarshal(envelope.Data.Object, &obj); err == nil {
			event.OrderID = obj.Payment.OrderID
			if obj.Payment.LocationID != "" {
				event.LocationID = obj.Payment.LocationID
			}
		}
	}

	return event, nil
}

func mapEventType(squareType string) canonical.EventType {
	switch squareType {
	case "order.created":
		return canonical.EventOrderCreated
	case "order.updated", "order.fulfillment.updated":
		return canonical.EventOrderUpdated
	case "payment.created":
		return canonical.EventPaymentCreated
	case "payment.updated":
		return canonical.EventPaymentUpdated
	default:
		return canonical.EventUnknown
	}
}
