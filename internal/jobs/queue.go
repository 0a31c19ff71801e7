package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tableflow-pos-service/internal/canonical"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseBackoff = 30 * time.Second
	DefaultMaxBackoff  = time.Hour
)

type Job struct {
	ID         int64              `json:"id"`
	Provider   canonical.Provider `json:"provider"`
	EventID    string             `json:"eventId"`
	EventRowID int64              `json:"webhookEventId"`
	Status     Status             `json:"status"`
	Attempts   int                `json:"attempts"`
	RunAfter   time.Time          `json:"runAfter"`
	LastError  string             `json:"lastError,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

var ErrJobNotFound = errors.New("job not found")

// Queue is the durable webhook job table. Exactly one row exists per
// (provider, eventId); enqueue is an upsert so redelivery never forks a
// second job.
type Queue struct {
	DB          *pgxpool.Pool
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewQueue(db *pgxpool.Pool) *Queue {
	return &Queue{
		DB:          db,
		MaxAttempts: DefaultMaxAttempts,
		BaseBackoff: DefaultBaseBackoff,
		MaxBackoff:  DefaultMaxBackoff,
	}
}

// Enqueue upserts the job row for an event. A succeeded or in-flight job is
// left untouched; a failed job is re-queued (the provider redelivering is as
// good a signal as a manual replay), keeping its attempt count.
func (q *Queue) Enqueue(ctx context.Context, provider canonical.Provider, eventID string, eventRowID int64) (created bool, err error) {
	err = q.DB.QueryRow(ctx, `
		insert into webhook_jobs (provider, event_id, webhook_event_id)
		values ($1, $2, $3)
		on conflict (provider, event_id) do update set
			status = case when webhook_jobs.status = 'failed' then 'queued' else webhook_jobs.status end,
			run_after = case when webhook_jobs.status = 'failed' then now() else webhook_jobs.run_after end,
			updated_at = now()
		returning (xmax = 0)
	`, string(provider), eventID, eventRowID).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("enqueue webhook job: %w", err)
	}
	return created, nil
}

// Backoff computes the delay before attempt n+1 after n failed attempts:
// base * 2^(n-1), capped. Attempt counts start at 1.
func (q *Queue) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	shift := attempts - 1
	if shift > 20 {
		shift = 20
	}
	delay := q.BaseBackoff << shift
	if delay > q.MaxBackoff || delay <= 0 {
		delay = q.MaxBackoff
	}
	return delay
}

// Replay resets a job to queued with attempts cleared. This is the explicit
// operator path for jobs that exhausted their attempts.
func (q *Queue) Replay(ctx context.Context, provider canonical.Provider, eventID string) (Job, error) {
	return q.replayWhere(ctx, `provider = $1 and event_id = $2`, string(provider), eventID)
}

func (q *Queue) ReplayByID(ctx context.Context, jobID int64) (Job, error) {
	return q.replayWhere(ctx, `id = $1`, jobID)
}

func (q *Queue) replayWhere(ctx context.Context, where string, args ...any) (Job, error) {
	row := q.DB.QueryRow(ctx, `
		update webhook_jobs
		set status = 'queued', attempts = 0, run_after = now(), last_error = null, updated_at = now()
		where `+where+`
		returning `+jobColumns, args...)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	return job, err
}

const jobColumns = `
	id, provider, event_id, webhook_event_id, status, attempts, run_after,
	coalesce(last_error, ''), created_at, updated_at
`

// List returns jobs for operational inspection, most recently touched first.
func (q *Queue) List(ctx context.Context, status string, limit int) ([]Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `select ` + jobColumns + ` from webhook_jobs`
	args := []any{}
	if status != "" {
		query += ` where status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` order by updated_at desc limit %d`, limit)

	rows, err := q.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (Job, error) {
	var (
		job      Job
		provider string
		runAfter pgtype.Timestamptz
	)
	err := row.Scan(&job.ID, &provider, &job.EventID, &job.EventRowID,
		&job.Status, &job.Attempts, &runAfter, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return Job{}, err
	}
	job.Provider = canonical.Provider(provider)
	if runAfter.Valid {
		job.RunAfter = runAfter.Time
	}
	return job, nil
}
