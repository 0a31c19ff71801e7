package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"tableflow-pos-service/internal/canonical"
	"tableflow-pos-service/internal/metrics"
	"tableflow-pos-service/internal/pos"
	"tableflow-pos-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Provider webhook bodies are small; a megabyte of headroom covers Clover's
// batched deliveries.
const maxWebhookBody = 1 << 20

// WebhookReceive is the single ingress for all provider notifications:
// POST /api/webhooks/{provider}. It verifies the signature, records the
// delivery, enqueues the processing job, and acknowledges. All provider API
// calls happen later in the worker so the provider's delivery timeout is
// never at risk.
func (h *Handler) WebhookReceive(w http.ResponseWriter, r *http.Request) {
	provider, ok := canonical.ParseProvider(chi.URLParam(r, "provider"))
	if !ok {
		response.Error(w, http.StatusNotFound, "UNKNOWN_PROVIDER", "Unknown webhook provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(string(provider), "rejected").Inc()
		response.Error(w, http.StatusBadRequest, "INVALID_BODY", "Could not read request body")
		return
	}

	// Location is not known until the payload is parsed, so ingress resolves
	// the merchant-wide (or default) credentials for signature checking.
	creds, err := h.Registry.ResolveCredentials(r.Context(), provider, "")
	if err != nil {
		h.Logger.Warn("webhook for unconfigured provider",
			zap.String("provider", string(provider)), zap.Error(err))
		metrics.WebhooksReceived.WithLabelValues(string(provider), "rejected").Inc()
		response.Error(w, http.StatusNotFound, string(pos.ErrNotConfigured), "Provider integration is not configured")
		return
	}
	adapter, err := h.Registry.Build(creds)
	if err != nil {
		response.Error(w, http.StatusNotFound, string(pos.ErrNotConfigured), "Provider integration is not configured")
		return
	}

	if creds.WebhookSecret == "" {
		if h.Config.WebhookStrict {
			metrics.WebhooksReceived.WithLabelValues(string(provider), "rejected").Inc()
			response.Error(w, http.StatusUnauthorized, "SIGNATURE_REQUIRED", "Webhook secret is not configured")
			return
		}
		h.Logger.Warn("accepting unsigned webhook, no secret configured",
			zap.String("provider", string(provider)))
	} else if !adapter.VerifyWebhook(r.Header, body) {
		metrics.WebhooksReceived.WithLabelValues(string(provider), "rejected").Inc()
		response.Error(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature verification failed")
		return
	}

	// A payload that fails normalization is still a signed delivery: it is
	// recorded as an unknown event for inspection rather than bounced. The
	// adapter returns the partially-filled event; when the provider issued no
	// usable event id the body hash stands in as the dedup key.
	event, normErr := adapter.NormalizeWebhook(body)
	if normErr != nil {
		h.Logger.Warn("webhook payload not parseable, storing as unknown",
			zap.String("provider", string(provider)), zap.Error(normErr))
		event.Provider = provider
		event.Type = canonical.EventUnknown
		if event.EventID == "" {
			event.EventID = fallbackEventID(body)
		}
	}

	result, err := h.Ingest.Record(r.Context(), event, body)
	if err != nil {
		h.Logger.Error("webhook record failed",
			zap.String("provider", string(provider)),
			zap.String("eventId", event.EventID),
			zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "STORAGE_ERROR", "Could not record webhook")
		return
	}

	// Enqueue runs on duplicates too: a redelivery of a failed job is as
	// good a retry signal as the operator replay endpoint. Unparseable
	// payloads carry nothing to process, so they are stored without a job.
	if normErr == nil {
		if _, err := h.Queue.Enqueue(r.Context(), provider, event.EventID, result.EventRowID); err != nil {
			h.Logger.Error("webhook enqueue failed",
				zap.String("provider", string(provider)),
				zap.String("eventId", event.EventID),
				zap.Error(err))
			response.Error(w, http.StatusInternalServerError, "STORAGE_ERROR", "Could not enqueue webhook job")
			return
		}
	}

	outcome := "stored"
	switch {
	case normErr != nil:
		outcome = "unparsed"
	case !result.Stored:
		outcome = "duplicate"
	}
	metrics.WebhooksReceived.WithLabelValues(string(provider), outcome).Inc()

	response.Success(w, map[string]any{
		"eventId":   event.EventID,
		"stored":    result.Stored,
		"duplicate": !result.Stored,
	})
}

// fallbackEventID derives a stable dedup key for deliveries whose payload
// yields no provider event id, so redeliveries of the same broken body
// collapse onto one stored row.
func fallbackEventID(body []byte) string {
	sum := sha256.Sum256(body)
	return "raw-" + hex.EncodeToString(sum[:])
}
