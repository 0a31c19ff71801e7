package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tableflow-pos-service/internal/middleware"
	"tableflow-pos-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// MerchantOrdersList returns synced orders for a location:
// GET /api/merchant/orders?locationId=...&since=RFC3339&limit=50
func (h *Handler) MerchantOrdersList(w http.ResponseWriter, r *http.Request) {
	locationID := strings.TrimSpace(r.URL.Query().Get("locationId"))
	if locationID == "" {
		response.Error(w, http.StatusBadRequest, "LOCATION_REQUIRED", "locationId query parameter is required")
		return
	}
	if authCtx, ok := middleware.GetAuthContext(r.Context()); ok && !authCtx.AllowsLocation(locationID) {
		response.Error(w, http.StatusForbidden, "LOCATION_FORBIDDEN", "Token is not scoped to this location")
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_SINCE", "since must be RFC3339")
			return
		}
		since = parsed
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.Orders.List(r.Context(), locationID, since, limit)
	if err != nil {
		h.Logger.Error("order list failed", zap.String("locationId", locationID), zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "STORAGE_ERROR", "Could not list orders")
		return
	}
	response.Success(w, map[string]any{"orders": list, "count": len(list)})
}

// MerchantOrderGet returns one synced order with its ticket:
// GET /api/merchant/orders/{orderId}
func (h *Handler) MerchantOrderGet(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderId"), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_ID", "orderId must be numeric")
		return
	}

	order, err := h.Orders.ByID(r.Context(), orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		response.Error(w, http.StatusNotFound, "ORDER_NOT_FOUND", "No such order")
		return
	}
	if err != nil {
		h.Logger.Error("order fetch failed", zap.Int64("orderId", orderID), zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "STORAGE_ERROR", "Could not fetch order")
		return
	}
	if authCtx, ok := middleware.GetAuthContext(r.Context()); ok && !authCtx.AllowsLocation(order.LocationID) {
		response.Error(w, http.StatusForbidden, "LOCATION_FORBIDDEN", "Token is not scoped to this location")
		return
	}

	payload := map[string]any{"order": order}
	ticket, err := h.Tickets.ByOrderID(r.Context(), order.ID)
	if err == nil {
		payload["ticket"] = ticket
	} else if !errors.Is(err, pgx.ErrNoRows) {
		h.Logger.Warn("ticket fetch failed", zap.Int64("orderId", orderID), zap.Error(err))
	}
	response.Success(w, payload)
}
