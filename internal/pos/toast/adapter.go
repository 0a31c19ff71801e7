package toast

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
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
	defaultBaseURL  = "https://ws-api.toasttab.com"
	signatureHeader = "Toast-Signature"
	// Toast has no payment-link API; hosted ordering checkout pages are
	// addressed by order guid under this base.
	hostedCheckoutBase = "https://order.toasttab.com/online/checkout/"

	ordersPageSize = 100
)

// Adapter talks to the Toast platform APIs. Toast reports money as decimal
// major units (dollars); every amount is converted to integer cents at this
// boundary with round-half-up on the half-cent.
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
			req.Header.Set("Toast-Restaurant-External-ID", creds.ProviderMerchantID)
		}),
	}
}

func (a *Adapter) Provider() canonical.Provider { return canonical.ProviderToast }

// DollarsToCents converts a Toast decimal-dollar amount to integer cents.
// Rounding rule: half away from zero (12.345 -> 1235), matching how Toast
// itself settles fractional-cent tax amounts.
func DollarsToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// --- wire shapes ---

type menusResponse struct {
	Menus                    []menu                    `json:"menus"`
	ModifierGroupReferences  map[string]modifierGroup  `json:"modifierGroupReferences"`
	ModifierOptionReferences map[string]modifierOption `json:"modifierOptionReferences"`
}

type menu struct {
	Name       string      `json:"name"`
	MenuGroups []menuGroup `json:"menuGroups"`
}

type menuGroup struct {
	Name      string     `json:"name"`
	MenuItems []menuItem `json:"menuItems"`
}

type menuItem struct {
	GUID                    string   `json:"guid"`
	Name                    string   `json:"name"`
	Description             string   `json:"description"`
	Price                   *float64 `json:"price"`
	Visibility              []string `json:"visibility"`
	ModifierGroupReferences []int    `json:"modifierGroupReferences"`
}

type modifierGroup struct {
	GUID                     string `json:"guid"`
	Name                     string `json:"name"`
	RequiredMode             string `json:"requiredMode"`
	MinSelections            *int   `json:"minSelections"`
	MaxSelections            *int   `json:"maxSelections"`
	ModifierOptionReferences []int  `json:"modifierOptionReferences"`
}

type modifierOption struct {
	GUID  string   `json:"guid"`
	Name  string   `json:"name"`
	Price *float64 `json:"price"`
}

type tsOrder struct {
	GUID         string   `json:"guid"`
	Source       string   `json:"source"`
	Voided       bool     `json:"voided"`
	Deleted      bool     `json:"deleted"`
	OpenedDate   string   `json:"openedDate"`
	ModifiedDate string   `json:"modifiedDate"`
	PaidDate     string   `json:"paidDate"`
	ClosedDate   string   `json:"closedDate"`
	DiningOption *struct {
		Behavior string `json:"behavior"`
	} `json:"diningOption"`
	Checks []tsCheck `json:"checks"`
}

type tsCheck struct {
	GUID             string  `json:"guid"`
	TabName          string  `json:"tabName"`
	Amount           float64 `json:"amount"`
	TaxAmount        float64 `json:"taxAmount"`
	TotalAmount      float64 `json:"totalAmount"`
	AppliedDiscounts []struct {
		DiscountAmount float64 `json:"discountAmount"`
	} `json:"appliedDiscounts"`
	Customer *struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
		Phone     string `json:"phone"`
	} `json:"customer"`
	Selections []tsSelection `json:"selections"`
	Payments   []struct {
		GUID string `json:"guid"`
	} `json:"payments"`
}

type tsSelection struct {
	GUID        string  `json:"guid"`
	DisplayName string  `json:"displayName"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
	Voided      bool    `json:"voided"`
	Item        *struct {
		GUID string `json:"guid"`
	} `json:"item"`
	Modifiers []tsSelection `json:"modifiers"`
}

// --- catalog ---

func (a *Adapter) FetchCatalog(ctx context.Context, locationID string) ([]canonical.CatalogItem, error) {
	var resp menusResponse
	if err := a.client.GetJSON(ctx, "/menus/v2/menus", &resp); err != nil {
		return nil, err
	}

	groupsByRef := map[int]canonical.ModifierGroup{}
	for ref, group := range resp.ModifierGroupReferences {
		idx, err := strconv.Atoi(ref)
		if err != nil {
			continue
		}
		mapped := canonical.ModifierGroup{
			ExternalID: group.GUID,
			Name:       group.Name,
			Required:   strings.EqualFold(group.RequiredMode, "REQUIRED"),
		}
		if group.MinSelections != nil {
			mapped.MinSelection = *group.MinSelections
		}
		if group.MaxSelections != nil {
			mapped.MaxSelection = *group.MaxSelections
		}
		for _, optRef := range group.ModifierOptionReferences {
			opt, ok := resp.ModifierOptionReferences[strconv.Itoa(optRef)]
			if !ok {
				continue
			}
			entry := canonical.Modifier{ExternalID: opt.GUID, Name: opt.Name}
			if opt.Price != nil {
				entry.PriceCents = DollarsToCents(*opt.Price)
			}
			mapped.Modifiers = append(mapped.Modifiers, entry)
		}
		groupsByRef[idx] = mapped
	}

	var out []canonical.CatalogItem
	seen := map[string]bool{}
	for _, m := range resp.Menus {
		for _, group := range m.MenuGroups {
			for _, item := range group.MenuItems {
				if item.GUID == "" || seen[item.GUID] {
					continue
				}
				// Items stripped of all visibility are hidden on every surface.
				if len(item.Visibility) == 0 {
					continue
				}
				seen[item.GUID] = true
				mapped := canonical.CatalogItem{
					ExternalID:  item.GUID,
					Provider:    canonical.ProviderToast,
					Name:        item.Name,
					Description: item.Description,
					Currency:    "USD",
					Available:   true,
				}
				if item.Price != nil {
					mapped.PriceCents = DollarsToCents(*item.Price)
				}
				for _, ref := range item.ModifierGroupReferences {
					if mg, ok := groupsByRef[ref]; ok {
						mapped.ModifierGroups = append(mapped.ModifierGroups, mg)
					}
				}
				out = append(out, mapped)
			}
		}
	}
	return out, nil
}

// --- orders ---

func (a *Adapter) FetchOrder(ctx context.Context, orderID string) (*canonical.Order, error) {
	var raw tsOrder
	err := a.client.GetJSON(ctx, "/orders/v2/orders/"+url.PathEscape(orderID), &raw)
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
	for page := 1; ; page++ {
		path := fmt.Sprintf("/orders/v2/ordersBulk?startDate=%s&endDate=%s&pageSize=%d&page=%d",
			url.QueryEscape(since.UTC().Format(time.RFC3339)),
			url.QueryEscape(end.Format(time.RFC3339)),
			ordersPageSize, page)
		var batch []tsOrder
		if err := a.client.GetJSON(ctx, path, &batch); err != nil {
			return nil, err
		}
		for _, raw := range batch {
			out = append(out, a.mapOrder(raw))
		}
		if len(batch) < ordersPageSize {
			break
		}
	}
	return out, nil
}

func (a *Adapter) mapOrder(raw tsOrder) canonical.Order {
	order := canonical.Order{
		ExternalID: raw.GUID,
		Provider:   canonical.ProviderToast,
		LocationID: a.creds.ProviderMerchantID,
		Source:     mapSource(raw),
		Status:     mapStatus(raw),
		Currency:   "USD",
		CreatedAt:  parseTime(raw.OpenedDate),
		UpdatedAt:  parseTime(raw.ModifiedDate),
	}
	if raw.DiningOption != nil {
		order.FulfillmentType = strings.ToLower(raw.DiningOption.Behavior)
	}

	for _, check := range raw.Checks {
		order.SubtotalCents += DollarsToCents(check.Amount)
		order.TaxCents += DollarsToCents(check.TaxAmount)
		order.TotalCents += DollarsToCents(check.TotalAmount)
		for _, discount := range check.AppliedDiscounts {
			order.DiscountCents += DollarsToCents(discount.DiscountAmount)
		}
		if check.Customer != nil && order.CustomerName == "" {
			order.CustomerName = strings.TrimSpace(check.Customer.FirstName + " " + check.Customer.LastName)
			order.CustomerEmail = check.Customer.Email
			order.CustomerPhone = check.Customer.Phone
		}
		for _, sel := range check.Selections {
			if sel.Voided {
				continue
			}
			qty := int(sel.Quantity)
			if qty < 1 {
				qty = 1
			}
			item := canonical.OrderItem{
				Name:            sel.DisplayName,
				Quantity:        qty,
				TotalPriceCents: DollarsToCents(sel.Price),
			}
			if sel.Item != nil {
				item.ExternalID = sel.Item.GUID
			}
			if item.ExternalID == "" {
				item.ExternalID = sel.GUID
			}
			if qty > 0 {
				item.UnitPriceCents = item.TotalPriceCents / int64(qty)
			}
			for _, mod := range sel.Modifiers {
				entry := canonical.Modifier{Name: mod.DisplayName, PriceCents: DollarsToCents(mod.Price)}
				if mod.Item != nil {
					entry.ExternalID = mod.Item.GUID
				}
				item.Modifiers = append(item.Modifiers, entry)
			}
			order.Items = append(order.Items, item)
		}
	}

	// Toast checks occasionally settle with a fractional-cent drift between
	// amount+tax-discount and total; fold the remainder into the discount
	// term instead of dropping it so conservation holds.
	drift := order.SubtotalCents + order.TaxCents - order.DiscountCents - order.TotalCents
	if drift != 0 {
		order.DiscountCents += drift
	}

	if encoded, err := json.Marshal(raw); err == nil {
		order.Raw = encoded
	}
	return order
}

func mapStatus(raw tsOrder) canonical.OrderStatus {
	switch {
	case raw.Voided || raw.Deleted:
		return canonical.OrderCanceled
	case raw.ClosedDate != "":
		return canonical.OrderCompleted
	case raw.PaidDate != "" || hasPayments(raw):
		return canonical.OrderPaid
	default:
		return canonical.OrderOpen
	}
}

func hasPayments(raw tsOrder) bool {
	for _, check := range raw.Checks {
		if len(check.Payments) > 0 {
			return true
		}
	}
	return false
}

func mapSource(raw tsOrder) canonical.OrderSource {
	if strings.EqualFold(raw.Source, "API") {
		return canonical.SourcePlatformOnline
	}
	for _, check := range raw.Checks {
		if strings.HasPrefix(check.TabName, pos.PlatformReferencePrefix) {
			return canonical.SourcePlatformOnline
		}
	}
	return canonical.SourcePOS
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-0700"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// --- checkout ---

// CreateCheckout posts an API-sourced order and points the customer at the
// hosted ordering checkout page for it. The tab name carries the platform
// reference marker so webhook normalization attributes the order correctly.
func (a *Adapter) CreateCheckout(ctx context.Context, input pos.CheckoutInput) (*pos.CheckoutResult, error) {
	selections := make([]map[string]any, 0, len(input.Items))
	for _, item := range input.Items {
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		sel := map[string]any{
			"itemGuid": item.ExternalID,
			"quantity": qty,
			"price":    float64(item.UnitPriceCents*int64(qty)) / 100,
		}
		if len(item.Modifiers) > 0 {
			mods := make([]map[string]any, 0, len(item.Modifiers))
			for _, mod := range item.Modifiers {
				mods = append(mods, map[string]any{
					"itemGuid": mod.ExternalID,
					"quantity": 1,
					"price":    float64(mod.PriceCents) / 100,
				})
			}
			sel["modifiers"] = mods
		}
		selections = append(selections, sel)
	}

	reference := pos.PlatformReferencePrefix + uuid.NewString()[:13]
	body := map[string]any{
		"source": "API",
		"checks": []map[string]any{{
			"tabName":    reference,
			"selections": selections,
		}},
	}

	var created tsOrder
	if err := a.client.PostJSON(ctx, "/orders/v2/orders", body, &created); err != nil {
		return nil, err
	}
	if created.GUID == "" {
		return nil, pos.ProviderError("order guid missing from response", 0, nil)
	}
	return &pos.CheckoutResult{
		CheckoutURL: hostedCheckoutBase + created.GUID + "?redirect=" + url.QueryEscape(input.RedirectURL),
		OrderID:     created.GUID,
	}, nil
}

// --- locations ---

type tsRestaurant struct {
	GUID    string `json:"guid"`
	General struct {
		Name     string `json:"name"`
		Timezone string `json:"timeZone"`
	} `json:"general"`
	Location struct {
		Address1 string `json:"address1"`
		City     string `json:"city"`
	} `json:"location"`
	Archived bool `json:"archived"`
}

func (a *Adapter) FetchLocations(ctx context.Context) ([]canonical.Location, error) {
	// A Toast credential is scoped to one restaurant; the merchant id is
	// the only location it can see.
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
	var raw tsRestaurant
	err := a.client.GetJSON(ctx, "/restaurants/v1/restaurants/"+url.PathEscape(locationID), &raw)
	if err != nil {
		if posErr, ok := pos.AsError(err); ok && posErr.Code == pos.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &canonical.Location{
		ExternalID: raw.GUID,
		Provider:   canonical.ProviderToast,
		Name:       raw.General.Name,
		Address:    strings.TrimSpace(raw.Location.Address1 + " " + raw.Location.City),
		Timezone:   raw.General.Timezone,
		Currency:   "USD",
		Active:     !raw.Archived,
	}, nil
}

// --- webhooks ---

// VerifyWebhook checks Toast's HMAC-SHA256 signature over the raw body,
// base64-encoded in the Toast-Signature header.
func (a *Adapter) VerifyWebhook(headers http.Header, rawBody []byte) bool {
	if a.creds.WebhookSecret == "" {
		return false
	}
	provided := strings.TrimSpace(headers.Get(signatureHeader))
	if provided == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(a.creds.WebhookSecret))
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(provided))
}

type webhookEnvelope struct {
	GUID           string `json:"guid"`
	Timestamp      string `json:"timestamp"`
	EventCategory  string `json:"eventCategory"`
	EventType      string `json:"eventType"`
	RestaurantGUID string `json:"restaurantGuid"`
	EventData      struct {
		OrderGUID   string   `json:"orderGuid"`
		PaymentGUID string   `json:"paymentGuid"`
		Order       *tsOrder `json:"order"`
	} `json:"eventData"`
}

func (a *Adapter) NormalizeWebhook(rawBody []byte) (canonical.WebhookEvent, error) {
	event := canonical.WebhookEvent{
		Type:     canonical.EventUnknown,
		Provider: canonical.ProviderToast,
		Raw:      append(json.RawMessage(nil), rawBody...),
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return event, fmt.Errorf("toast webhook decode: %w", err)
	}
	if envelope.GUID == "" {
		return event, fmt.Errorf("toast webhook missing guid")
	}

	event.EventID = envelope.GUID
	event.LocationID = envelope.RestaurantGUID
	event.Timestamp = parseTime(envelope.Timestamp)
	event.OrderID = envelope.EventData.OrderGUID
	event.PaymentID = envelope.EventData.PaymentGUID
	event.Type = mapEventType(envelope.EventCategory, envelope.EventType)

	// Toast sometimes embeds the full order snapshot; keep it so the worker
	// can skip the fetch round-trip.
	if envelope.EventData.Order != nil {
		order := a.mapOrder(*envelope.EventData.Order)
		event.Order = &order
		if event.OrderID == "" {
			event.OrderID = order.ExternalID
		}
	}
	return event, nil
}

func mapEventType(category, eventType string) canonical.EventType {
	switch strings.ToLower(category) {
	case "orders":
		switch strings.ToUpper(eventType) {
		case "ORDER_CREATED":
			return canonical.EventOrderCreated
		case "ORDER_UPDATED", "ORDER_MODIFIED":
			return canonical.EventOrderUpdated
		case "ORDER_PAID":
			return canonical.EventOrderPaid
		case "ORDER_CLOSED":
			return canonical.EventOrderCompleted
		case "ORDER_DELETED", "ORDER_VOIDED":
			return canonical.EventOrderCanceled
		}
	case "payments":
		switch strings.ToUpper(eventType) {
		case "PAYMENT_CREATED":
			return canonical.EventPaymentCreated
		case "PAYMENT_UPDATED":
			return canonical.EventPaymentUpdated
		}
	}
	return canonical.EventUnknown
}
