package jobs

import (
	"context"
	"errors"
	"time"

	"tableflow-pos-service/internal/metrics"
	"tableflow-pos-service/internal/pos"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ExecutorFunc processes one claimed job to completion. It must be
// idempotent: re-running a job that already succeeded leaves state intact.
type ExecutorFunc func(ctx context.Context, job Job) error

// Worker drains eligible jobs in one pass. It keeps no state between
// invocations; any number of instances may run concurrently because the
// claim is atomic per row.
type Worker struct {
	Queue      *Queue
	Execute    ExecutorFunc
	Logger     *zap.Logger
	PassBudget time.Duration
	BatchLimit int
	// StaleAfter bounds how long a job may sit in processing before a pass
	// reclaims it as orphaned by a crashed worker.
	StaleAfter time.Duration
}

type PassSummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
}

const (
	defaultPassBudget = 55 * time.Second
	defaultBatchLimit = 100
	defaultStaleAfter = 10 * time.Minute
)

// RunPass claims and executes due jobs until none remain, the batch limit is
// reached, or the pass budget expires.
func (w *Worker) RunPass(ctx context.Context) (PassSummary, error) {
	budget := w.PassBudget
	if budget <= 0 {
		budget = defaultPassBudget
	}
	limit := w.BatchLimit
	if limit <= 0 {
		limit = defaultBatchLimit
	}

	passCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	// Jobs stranded in processing by a worker that died between claim and
	// mark are returned to the queue before this pass claims anything.
	if n, err := w.requeueStale(passCtx); err != nil {
		w.Logger.Error("stale job sweep failed", zap.Error(err))
	} else if n > 0 {
		w.Logger.Warn("requeued stale processing jobs", zap.Int("count", n))
	}

	started := time.Now()
	var summary PassSummary
	for summary.Processed < limit {
		if passCtx.Err() != nil {
			break
		}
		job, ok, err := w.claim(passCtx)
		if err != nil {
			return summary, err
		}
		if !ok {
			break
		}
		summary.Processed++
		w.runOne(passCtx, job, &summary)
	}
	metrics.WorkerPassDuration.Observe(time.Since(started).Seconds())
	return summary, nil
}

// claim atomically moves one due job to processing. FOR UPDATE SKIP LOCKED
// keeps concurrent workers off each other's rows.
func (w *Worker) claim(ctx context.Context) (Job, bool, error) {
	row := w.Queue.DB.QueryRow(ctx, `
		update webhook_jobs
		set status = 'processing', updated_at = now()
		where id = (
			select id from webhook_jobs
			where status = 'queued' and run_after <= now()
			order by run_after asc
			limit 1
			for update skip locked
		)
		returning `+jobColumns)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeRetry
	outcomeFailed
)

// decide classifies one execution result: success, a scheduled retry with
// its delay, or terminal failure. Non-recoverable errors fail on the spot
// regardless of remaining attempts; a provider Retry-After hint overrides
// the computed backoff when longer.
func (w *Worker) decide(err error, attempts int) (outcome, time.Duration) {
	if err == nil {
		return outcomeSucceeded, 0
	}
	if !pos.IsRecoverable(err) || attempts >= w.Queue.MaxAttempts {
		return outcomeFailed, 0
	}
	delay := w.Queue.Backoff(attempts)
	if hint := pos.RetryAfterHint(err); hint != nil && *hint > delay {
		delay = *hint
	}
	return outcomeRetry, delay
}

func (w *Worker) runOne(ctx context.Context, job Job, summary *PassSummary) {
	err := w.Execute(ctx, job)
	if err == nil {
		if markErr := w.markSucceeded(ctx, job.ID); markErr != nil {
			w.Logger.Error("job success mark failed", zap.Int64("jobId", job.ID), zap.Error(markErr))
		}
		summary.Succeeded++
		metrics.JobsProcessed.WithLabelValues(string(job.Provider), "succeeded").Inc()
		return
	}

	attempts := job.Attempts + 1
	result, delay := w.decide(err, attempts)
	if result == outcomeFailed {
		if markErr := w.markFailed(ctx, job.ID, attempts, err.Error()); markErr != nil {
			w.Logger.Error("job failure mark failed", zap.Int64("jobId", job.ID), zap.Error(markErr))
		}
		w.Logger.Error("job failed terminally",
			zap.Int64("jobId", job.ID),
			zap.String("provider", string(job.Provider)),
			zap.String("eventId", job.EventID),
			zap.Int("attempts", attempts),
			zap.Bool("recoverable", pos.IsRecoverable(err)),
			zap.Error(err))
		summary.Failed++
		metrics.JobsProcessed.WithLabelValues(string(job.Provider), "failed").Inc()
		return
	}

	if markErr := w.markRetry(ctx, job.ID, attempts, delay, err.Error()); markErr != nil {
		w.Logger.Error("job retry mark failed", zap.Int64("jobId", job.ID), zap.Error(markErr))
	}
	w.Logger.Warn("job retry scheduled",
		zap.Int64("jobId", job.ID),
		zap.String("provider", string(job.Provider)),
		zap.String("eventId", job.EventID),
		zap.Int("attempts", attempts),
		zap.Duration("delay", delay),
		zap.Error(err))
	summary.Retried++
	metrics.JobsProcessed.WithLabelValues(string(job.Provider), "retried").Inc()
}

func (w *Worker) staleAfter() time.Duration {
	if w.StaleAfter > 0 {
		return w.StaleAfter
	}
	return defaultStaleAfter
}

// requeueStale returns orphaned processing rows to queued. Claimed rows are
// touched on every mark, so an old processing timestamp means the claiming
// worker is gone.
func (w *Worker) requeueStale(ctx context.Context) (int, error) {
	tag, err := w.Queue.DB.Exec(ctx, `
		update webhook_jobs
		set status = 'queued', run_after = now(), updated_at = now()
		where status = 'processing' and updated_at < now() - make_interval(secs => $1)
	`, w.staleAfter().Seconds())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (w *Worker) markSucceeded(ctx context.Context, jobID int64) error {
	_, err := w.Queue.DB.Exec(ctx, `
		update webhook_jobs
		set status = 'succeeded', attempts = attempts + 1, last_error = null, updated_at = now()
		where id = $1 and status = 'processing'
	`, jobID)
	return err
}

func (w *Worker) markRetry(ctx context.Context, jobID int64, attempts int, delay time.Duration, lastError string) error {
	_, err := w.Queue.DB.Exec(ctx, `
		update webhook_jobs
		set status = 'queued', attempts = $2, run_after = now() + make_interval(secs => $3), last_error = $4, updated_at = now()
		where id = $1 and status = 'processing'
	`, jobID, attempts, delay.Seconds(), lastError)
	return err
}

func (w *Worker) markFailed(ctx context.Context, jobID int64, attempts int, lastError string) error {
	_, err := w.Queue.DB.Exec(ctx, `
		update webhook_jobs
		set status = 'failed', attempts = $2, last_error = $3, updated_at = now()
		where id = $1 and status = 'processing'
	`, jobID, attempts, lastError)
	return err
}
