package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"tableflow-pos-service/internal/canonical"
	"tableflow-pos-service/internal/jobs"
	"tableflow-pos-service/pkg/response"

	"go.uber.org/zap"
)

// CronWorkerRun executes one worker pass over the webhook job queue.
// Invoked on a schedule by the platform cron; safe to trigger concurrently
// because job claiming is atomic.
func (h *Handler) CronWorkerRun(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Worker.RunPass(r.Context())
	if err != nil {
		h.Logger.Error("worker pass aborted", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "WORKER_ERROR", "Worker pass aborted")
		return
	}
	response.Success(w, summary)
}

// CronJobsList exposes the queue for operational inspection:
// GET /api/cron/jobs?status=failed&limit=50
func (h *Handler) CronJobsList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" {
		switch jobs.Status(status) {
		case jobs.StatusQueued, jobs.StatusProcessing, jobs.StatusSucceeded, jobs.StatusFailed:
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_STATUS", "Unknown job status filter")
			return
		}
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.Queue.List(r.Context(), status, limit)
	if err != nil {
		h.Logger.Error("job list failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "STORAGE_ERROR", "Could not list jobs")
		return
	}
	response.Success(w, map[string]any{"jobs": list, "count": len(list)})
}

type replayRequest struct {
	JobID    int64  `json:"jobId"`
	Provider string `json:"provider"`
	EventID  string `json:"eventId"`
}

// CronJobsReplay resets a job to queued with a fresh attempt budget.
// Accepts either a job id or a (provider, eventId) pair.
func (h *Handler) CronJobsReplay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_BODY", "Could not parse request body")
		return
	}

	var (
		job jobs.Job
		err error
	)
	switch {
	case req.JobID != 0:
		job, err = h.Queue.ReplayByID(r.Context(), req.JobID)
	case req.Provider != "" && req.EventID != "":
		provider, ok := canonical.ParseProvider(req.Provider)
		if !ok {
			response.Error(w, http.StatusBadRequest, "UNKNOWN_PROVIDER", "Unknown provider")
			return
		}
		job, err = h.Queue.Replay(r.Context(), provider, req.EventID)
	default:
		response.Error(w, http.StatusBadRequest, "INVALID_BODY", "jobId or provider+eventId required")
		return
	}

	if errors.Is(err, jobs.ErrJobNotFound) {
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "No such job")
		return
	}
	if err != nil {
		h.Logger.Error("job replay failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "STORAGE_ERROR", "Could not replay job")
		return
	}

	h.Logger.Info("job replayed",
		zap.Int64("jobId", job.ID),
		zap.String("provider", string(job.Provider)),
		zap.String("eventId", job.EventID))
	response.Accepted(w, job)
}
