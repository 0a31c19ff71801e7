package ingest

import (
	"context"
	"fmt"
	"time"

	"tableflow-pos-service/internal/canonical"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// dedupTTL bounds the Redis fast-path markers; the Postgres unique
// constraint remains the source of truth after expiry.
const dedupTTL = 48 * time.Hour

// Archiver stores an audit copy of the raw payload. Implemented by the
// object store client; nil disables archival.
type Archiver interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string, cacheControl string) (string, error)
}

// Store is the durable record of every inbound webhook delivery, keyed by
// (provider, event_id). Insertion is idempotent; a duplicate delivery is
// acknowledged without reprocessing.
type Store struct {
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Archive Archiver
	Logger  *zap.Logger
}

type RecordResult struct {
	EventRowID int64
	Stored     bool
}

// Record persists one delivery. Returns Stored=false when the same
// (provider, eventId) was seen before.
func (s *Store) Record(ctx context.Context, event canonical.WebhookEvent, payload []byte) (RecordResult, error) {
	// Fast path: a Redis marker lets concurrent deliveries skip the insert
	// round-trip. A miss (or Redis being down) falls through to the unique
	// constraint, which stays authoritative.
	if s.Redis != nil {
		key := fmt.Sprintf("wh:seen:%s:%s", event.Provider, event.EventID)
		set, err := s.Redis.SetNX(ctx, key, 1, dedupTTL).Result()
		if err != nil {
			s.Logger.Warn("redis dedup unavailable", zap.Error(err))
		} else if !set {
			row, err := s.findEventRow(ctx, event.Provider, event.EventID)
			if err == nil && row != 0 {
				return RecordResult{EventRowID: row, Stored: false}, nil
			}
			// Marker without a row means a previous insert failed mid-way;
			// fall through and let the upsert settle it.
		}
	}

	var rowID int64
	var inserted bool
	err := s.DB.QueryRow(ctx, `
		insert into webhook_events (provider, event_id, event_type, location_id, order_ref, payload)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (provider, event_id) do update set event_id = excluded.event_id
		returning id, (xmax = 0)
	`, string(event.Provider), event.EventID, string(event.Type), event.LocationID, event.OrderID, payload).
		Scan(&rowID, &inserted)
	if err != nil {
		return RecordResult{}, fmt.Errorf("record webhook event: %w", err)
	}

	if inserted && s.Archive != nil {
		key := fmt.Sprintf("webhooks/%s/%s.json", event.Provider, event.EventID)
		if _, err := s.Archive.PutObject(ctx, key, payload, "application/json", "private, max-age=0"); err != nil {
			// Archival is best-effort; the jsonb copy is the durable one.
			s.Logger.Warn("webhook payload archive failed",
				zap.String("provider", string(event.Provider)),
				zap.String("eventId", event.EventID),
				zap.Error(err))
		}
	}

	return RecordResult{EventRowID: rowID, Stored: inserted}, nil
}

func (s *Store) findEventRow(ctx context.Context, provider canonical.Provider, eventID string) (int64, error) {
	var id int64
	err := s.DB.QueryRow(ctx,
		`select id from webhook_events where provider = $1 and event_id = $2`,
		string(provider), eventID).Scan(&id)
	return id, err
}

// Payload returns the stored raw payload for a recorded event.
func (s *Store) Payload(ctx context.Context, provider canonical.Provider, eventID string) ([]byte, error) {
	var payload []byte
	err := s.DB.QueryRow(ctx,
		`select payload from webhook_events where provider = $1 and event_id = $2`,
		string(provider), eventID).Scan(&payload)
	if err != nil {
		return nil, err
	}
	return payload, nil
}
