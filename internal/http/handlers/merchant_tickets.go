package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"tableflow-pos-service/internal/metrics"
	"tableflow-pos-service/internal/middleware"
	"tableflow-pos-service/internal/tickets"
	"tableflow-pos-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// MerchantTicketsList returns the kitchen board for a location:
// GET /api/merchant/tickets?locationId=...&status=preparing
func (h *Handler) MerchantTicketsList(w http.ResponseWriter, r *http.Request) {
	locationID := strings.TrimSpace(r.URL.Query().Get("locationId"))
	if locationID == "" {
		response.Error(w, http.StatusBadRequest, "LOCATION_REQUIRED", "locationId query parameter is required")
		return
	}
	if authCtx, ok := middleware.GetAuthContext(r.Context()); ok && !authCtx.AllowsLocation(locationID) {
		response.Error(w, http.StatusForbidden, "LOCATION_FORBIDDEN", "Token is not scoped to this location")
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" {
		if _, ok := tickets.ParseStatus(status); !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_STATUS", "Unknown ticket status")
			return
		}
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.Tickets.List(r.Context(), locationID, status, limit)
	if err != nil {
		h.Logger.Error("ticket list failed", zap.String("locationId", locationID), zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "STORAGE_ERROR", "Could not list tickets")
		return
	}
	response.Success(w, map[string]any{"tickets": list, "count": len(list)})
}

type ticketStatusRequest struct {
	Status string `json:"status"`
}

// MerchantTicketStatusPut moves a ticket through the kitchen flow:
// PUT /api/merchant/tickets/{ticketId}/status. The state machine guard
// rejects backward moves with a conflict rather than silently dropping
// them, since a human asked for this one.
func (h *Handler) MerchantTicketStatusPut(w http.ResponseWriter, r *http.Request) {
	ticketID, err := strconv.ParseInt(chi.URLParam(r, "ticketId"), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_ID", "ticketId must be numeric")
		return
	}

	var req ticketStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_BODY", "Could not parse request body")
		return
	}
	target, ok := tickets.ParseStatus(req.Status)
	if !ok {
		response.Error(w, http.StatusBadRequest, "INVALID_STATUS", "Unknown ticket status")
		return
	}

	ticket, err := h.Tickets.ByID(r.Context(), ticketID)
	if errors.Is(err, pgx.ErrNoRows) {
		response.Error(w, http.StatusNotFound, "TICKET_NOT_FOUND", "No such ticket")
		return
	}
	if err != nil {
		h.Logger.Error("ticket fetch failed", zap.Int64("ticketId", ticketID), zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "STORAGE_ERROR", "Could not fetch ticket")
		return
	}

	actor := "user:unknown"
	if authCtx, ok := middleware.GetAuthContext(r.Context()); ok {
		if !authCtx.AllowsLocation(ticket.LocationID) {
			response.Error(w, http.StatusForbidden, "LOCATION_FORBIDDEN", "Token is not scoped to this location")
			return
		}
		actor = "user:" + authCtx.UserID
	}

	applied, current, err := h.Tickets.Transition(r.Context(), ticket.OrderID, target, actor)
	if err != nil {
		h.Logger.Error("ticket transition failed", zap.Int64("ticketId", ticketID), zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "STORAGE_ERROR", "Could not update ticket")
		return
	}
	if !applied {
		// current comes from the locked row, so a concurrent change cannot
		// leave a stale state in the conflict message.
		response.Error(w, http.StatusConflict, "INVALID_TRANSITION",
			"Ticket cannot move from "+string(current)+" to "+string(target))
		return
	}

	metrics.TicketTransitions.WithLabelValues(string(target)).Inc()

	updated, err := h.Tickets.ByID(r.Context(), ticketID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "STORAGE_ERROR", "Could not fetch ticket")
		return
	}

	order, err := h.Orders.ByID(r.Context(), updated.OrderID)
	if err == nil {
		if err := h.Notify.TicketStatusChanged(r.Context(), updated, order.Reference, order.Provider); err != nil {
			h.Logger.Warn("ticket update publish failed", zap.Int64("ticketId", ticketID), zap.Error(err))
		}
	}

	response.Success(w, updated)
}
