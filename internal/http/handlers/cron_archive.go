package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tableflow-pos-service/internal/canonical"
	"tableflow-pos-service/pkg/response"

	"go.uber.org/zap"
)

// archivePrefix is where ingest writes raw payload copies.
const archivePrefix = "webhooks/"

// defaultArchiveRetentionDays keeps the cold copies well past the job
// queue's attempt window.
const defaultArchiveRetentionDays = 90

type archivePruneRequest struct {
	OlderThanDays int `json:"olderThanDays"`
}

// CronArchivePrune deletes archived payload copies past retention:
// POST /api/cron/archive/prune, optional body {"olderThanDays": 30}.
func (h *Handler) CronArchivePrune(w http.ResponseWriter, r *http.Request) {
	if h.Archive == nil {
		response.Error(w, http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "Payload archive is not configured")
		return
	}

	days := defaultArchiveRetentionDays
	if r.Body != nil {
		var req archivePruneRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			response.Error(w, http.StatusBadRequest, "INVALID_BODY", "Could not parse request body")
			return
		} else if req.OlderThanDays < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_RETENTION", "olderThanDays must not be negative")
			return
		} else if req.OlderThanDays > 0 {
			days = req.OlderThanDays
		}
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	deleted, err := h.Archive.PruneBefore(r.Context(), archivePrefix, cutoff)
	if err != nil {
		h.Logger.Error("archive prune failed", zap.Int("deleted", deleted), zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "ARCHIVE_ERROR", "Archive prune failed")
		return
	}

	h.Logger.Info("archive pruned",
		zap.Int("deleted", deleted),
		zap.Int("olderThanDays", days))
	response.Success(w, map[string]any{
		"deleted": deleted,
		"cutoff":  cutoff.UTC().Format(time.RFC3339),
	})
}

// CronArchivePayload returns the raw payload of one delivery for
// inspection, from the live webhook_events row when it still exists and
// otherwise from the cold copy in the bucket:
// GET /api/cron/archive/payload?provider=square&eventId=evt-1
func (h *Handler) CronArchivePayload(w http.ResponseWriter, r *http.Request) {
	provider, ok := canonical.ParseProvider(r.URL.Query().Get("provider"))
	if !ok {
		response.Error(w, http.StatusBadRequest, "UNKNOWN_PROVIDER", "Unknown provider")
		return
	}
	eventID := strings.TrimSpace(r.URL.Query().Get("eventId"))
	if eventID == "" {
		response.Error(w, http.StatusBadRequest, "EVENT_ID_REQUIRED", "eventId query parameter is required")
		return
	}

	if h.Ingest != nil {
		if payload, err := h.Ingest.Payload(r.Context(), provider, eventID); err == nil && len(payload) > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(payload)
			return
		}
	}

	if h.Archive == nil {
		response.Error(w, http.StatusNotFound, "PAYLOAD_NOT_FOUND", "No stored payload for this delivery")
		return
	}
	key := fmt.Sprintf("%s%s/%s.json", archivePrefix, provider, eventID)
	payload, err := h.Archive.GetObject(r.Context(), key)
	if err != nil {
		h.Logger.Warn("archive payload fetch failed", zap.String("key", key), zap.Error(err))
		response.Error(w, http.StatusNotFound, "PAYLOAD_NOT_FOUND", "No stored payload for this delivery")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
