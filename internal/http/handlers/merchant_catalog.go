package handlers

import (
	"net/http"
	"strings"

	"tableflow-pos-service/internal/canonical"
	"tableflow-pos-service/internal/middleware"
	"tableflow-pos-service/internal/pos"
	"tableflow-pos-service/pkg/response"

	"go.uber.org/zap"
)

// resolveForRequest pulls the location from the query, checks the token
// scope, and resolves the adapter. Shared by the read-through proxy
// endpoints (catalog, locations, order search).
func (h *Handler) resolveForRequest(w http.ResponseWriter, r *http.Request) (pos.Adapter, canonical.Provider, string, bool) {
	locationID := strings.TrimSpace(r.URL.Query().Get("locationId"))
	if locationID == "" {
		response.Error(w, http.StatusBadRequest, "LOCATION_REQUIRED", "locationId query parameter is required")
		return nil, "", "", false
	}
	if authCtx, ok := middleware.GetAuthContext(r.Context()); ok && !authCtx.AllowsLocation(locationID) {
		response.Error(w, http.StatusForbidden, "LOCATION_FORBIDDEN", "Token is not scoped to this location")
		return nil, "", "", false
	}

	provider, ok := canonical.ParseProvider(r.URL.Query().Get("provider"))
	if !ok {
		provider, ok = h.providerForLocation(r, locationID)
		if !ok {
			response.Error(w, http.StatusNotFound, string(pos.ErrNotConfigured), "No POS integration for this location")
			return nil, "", "", false
		}
	}

	adapter, err := h.Registry.Resolve(r.Context(), provider, locationID)
	if err != nil {
		h.writePOSError(w, err)
		return nil, "", "", false
	}
	return adapter, provider, locationID, true
}

// MerchantCatalogGet reads the live menu from the POS:
// GET /api/merchant/catalog?locationId=...
func (h *Handler) MerchantCatalogGet(w http.ResponseWriter, r *http.Request) {
	adapter, provider, locationID, ok := h.resolveForRequest(w, r)
	if !ok {
		return
	}

	items, err := adapter.FetchCatalog(r.Context(), locationID)
	if err != nil {
		h.Logger.Error("catalog fetch failed",
			zap.String("provider", string(provider)),
			zap.String("locationId", locationID),
			zap.Error(err))
		h.writePOSError(w, err)
		return
	}
	response.Success(w, map[string]any{
		"provider": string(provider),
		"items":    items,
		"count":    len(items),
	})
}

// MerchantLocationsList lists the provider's locations for onboarding:
// GET /api/merchant/locations?provider=square
func (h *Handler) MerchantLocationsList(w http.ResponseWriter, r *http.Request) {
	provider, ok := canonical.ParseProvider(r.URL.Query().Get("provider"))
	if !ok {
		response.Error(w, http.StatusBadRequest, "UNKNOWN_PROVIDER", "provider query parameter is required")
		return
	}
	adapter, err := h.Registry.Resolve(r.Context(), provider, "")
	if err != nil {
		h.writePOSError(w, err)
		return
	}

	locations, err := adapter.FetchLocations(r.Context())
	if err != nil {
		h.Logger.Error("locations fetch failed", zap.String("provider", string(provider)), zap.Error(err))
		h.writePOSError(w, err)
		return
	}
	response.Success(w, map[string]any{"locations": locations, "count": len(locations)})
}
