package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"tableflow-pos-service/internal/canonical"
	"tableflow-pos-service/internal/pos"
	"tableflow-pos-service/pkg/response"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type checkoutItemRequest struct {
	ExternalID     string `json:"externalId"`
	VariationID    string `json:"variationId"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	Notes          string `json:"notes"`
	Modifiers      []struct {
		ExternalID string `json:"externalId"`
		Name       string `json:"name"`
		PriceCents int64  `json:"priceCents"`
	} `json:"modifiers"`
}

type checkoutRequest struct {
	Provider      string                `json:"provider"`
	LocationID    string                `json:"locationId"`
	Currency      string                `json:"currency"`
	RedirectURL   string                `json:"redirectUrl"`
	CustomerName  string                `json:"customerName"`
	CustomerEmail string                `json:"customerEmail"`
	CustomerPhone string                `json:"customerPhone"`
	Items         []checkoutItemRequest `json:"items"`
}

// PublicCheckoutCreate starts a hosted checkout on the location's POS:
// POST /api/public/checkout. The created provider order carries the
// platform reference prefix, so the webhook that follows attributes it to
// the online channel.
func (h *Handler) PublicCheckoutCreate(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_BODY", "Could not parse request body")
		return
	}
	if strings.TrimSpace(req.LocationID) == "" {
		response.Error(w, http.StatusBadRequest, "LOCATION_REQUIRED", "locationId is required")
		return
	}
	if len(req.Items) == 0 {
		response.Error(w, http.StatusBadRequest, "ITEMS_REQUIRED", "at least one item is required")
		return
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.UnitPriceCents < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_ITEM", "item quantity and price must be positive")
			return
		}
	}

	provider, ok := canonical.ParseProvider(req.Provider)
	if !ok {
		provider, ok = h.providerForLocation(r, req.LocationID)
		if !ok {
			response.Error(w, http.StatusNotFound, string(pos.ErrNotConfigured), "No POS integration for this location")
			return
		}
	}

	adapter, err := h.Registry.Resolve(r.Context(), provider, req.LocationID)
	if err != nil {
		h.writePOSError(w, err)
		return
	}

	input := pos.CheckoutInput{
		LocationID:    req.LocationID,
		Currency:      req.Currency,
		RedirectURL:   req.RedirectURL,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
	}
	for _, item := range req.Items {
		ci := pos.CheckoutItem{
			ExternalID:     item.ExternalID,
			VariationID:    item.VariationID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			Notes:          item.Notes,
		}
		for _, mod := range item.Modifiers {
			ci.Modifiers = append(ci.Modifiers, canonical.Modifier{
				ExternalID: mod.ExternalID,
				Name:       mod.Name,
				PriceCents: mod.PriceCents,
			})
		}
		input.Items = append(input.Items, ci)
	}

	result, err := adapter.CreateCheckout(r.Context(), input)
	if err != nil {
		h.Logger.Error("checkout create failed",
			zap.String("provider", string(provider)),
			zap.String("locationId", req.LocationID),
			zap.Error(err))
		h.writePOSError(w, err)
		return
	}

	response.Success(w, map[string]any{
		"provider":    string(provider),
		"checkoutUrl": result.CheckoutURL,
		"orderId":     result.OrderID,
		"expiresAt":   result.ExpiresAt,
	})
}

// providerForLocation finds which provider serves a location when the
// request does not name one.
func (h *Handler) providerForLocation(r *http.Request, locationID string) (canonical.Provider, bool) {
	var name string
	err := h.DB.QueryRow(r.Context(),
		`select provider from pos_credentials where location_id = $1 and active limit 1`,
		locationID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false
	}
	if err != nil {
		h.Logger.Error("provider lookup failed", zap.String("locationId", locationID), zap.Error(err))
		return "", false
	}
	return canonical.ParseProvider(name)
}

// writePOSError maps typed adapter errors onto the HTTP envelope.
func (h *Handler) writePOSError(w http.ResponseWriter, err error) {
	posErr, ok := pos.AsError(err)
	if !ok {
		response.Error(w, http.StatusBadGateway, string(pos.ErrProvider), "Provider request failed")
		return
	}
	status := http.StatusBadGateway
	switch posErr.Code {
	case pos.ErrNotConfigured:
		status = http.StatusNotFound
	case pos.ErrNotFound:
		status = http.StatusNotFound
	case pos.ErrAuthentication:
		status = http.StatusBadGateway
	case pos.ErrRateLimited:
		status = http.StatusServiceUnavailable
	}
	response.Error(w, status, string(posErr.Code), posErr.Message)
}
