package handlers

import (
	"context"
	"time"

	"tableflow-pos-service/internal/config"
	"tableflow-pos-service/internal/ingest"
	"tableflow-pos-service/internal/jobs"
	"tableflow-pos-service/internal/notify"
	"tableflow-pos-service/internal/orders"
	"tableflow-pos-service/internal/pos"
	"tableflow-pos-service/internal/tickets"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Archive is the slice of the payload archive the cron surface uses. Nil
// when no bucket is configured.
type Archive interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PruneBefore(ctx context.Context, prefix string, cutoff time.Time) (int, error)
}

type Handler struct {
	DB       *pgxpool.Pool
	Logger   *zap.Logger
	Config   config.Config
	Registry *pos.Registry
	Ingest   *ingest.Store
	Queue    *jobs.Queue
	Worker   *jobs.Worker
	Orders   *orders.Store
	Tickets  *tickets.Store
	Notify   *notify.Publisher
	Archive  Archive
}
