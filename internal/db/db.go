package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// EnsureSchema creates the pipeline tables if they do not exist. Statements
// are idempotent so every instance can run them at boot.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`create table if not exists pos_credentials (
			id bigserial primary key,
			merchant_id bigint not null,
			location_id text,
			provider text not null,
			access_token text not null,
			provider_merchant_id text not null default '',
			webhook_secret text,
			notification_url text,
			active boolean not null default true,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		)`,
		`create unique index if not exists pos_credentials_provider_location
			on pos_credentials (provider, coalesce(location_id, ''))`,

		`create table if not exists webhook_events (
			id bigserial primary key,
			provider text not null,
			event_id text not null,
			event_type text not null default 'unknown',
			location_id text not null default '',
			order_ref text not null default '',
			payload jsonb not null,
			received_at timestamptz not null default now(),
			unique (provider, event_id)
		)`,

		`create table if not exists webhook_jobs (
			id bigserial primary key,
			provider text not null,
			event_id text not null,
			webhook_event_id bigint not null references webhook_events(id),
			status text not null default 'queued',
			attempts int not null default 0,
			run_after timestamptz not null default now(),
			last_error text,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now(),
			unique (provider, event_id)
		)`,
		`create index if not exists webhook_jobs_due
			on webhook_jobs (run_after) where status = 'queued'`,

		`create table if not exists orders (
			id bigserial primary key,
			reference text not null unique,
			provider text not null,
			external_id text not null,
			location_id text not null,
			source text not null,
			status text not null,
			items jsonb not null default '[]',
			subtotal_cents bigint not null default 0,
			tax_cents bigint not null default 0,
			discount_cents bigint not null default 0,
			total_cents bigint not null default 0,
			currency text not null default 'USD',
			customer_name text not null default '',
			customer_email text not null default '',
			customer_phone text not null default '',
			fulfillment_type text not null default '',
			raw jsonb,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now(),
			unique (provider, external_id)
		)`,
		`create index if not exists orders_location on orders (location_id, updated_at desc)`,

		`create table if not exists kitchen_tickets (
			id bigserial primary key,
			order_id bigint not null unique references orders(id),
			location_id text not null,
			source text not null,
			status text not null default 'placed',
			shortcode text not null,
			placed_at timestamptz not null default now(),
			preparing_at timestamptz,
			ready_at timestamptz,
			completed_at timestamptz,
			canceled_at timestamptz,
			updated_by text not null default '',
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now(),
			unique (location_id, shortcode)
		)`,
		`create index if not exists kitchen_tickets_board
			on kitchen_tickets (location_id, status, created_at desc)`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema bootstrap: %w", err)
		}
	}
	return nil
}
