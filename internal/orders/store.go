package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tableflow-pos-service/internal/canonical"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists canonical orders. One row exists per (provider,
// external_id); the tenant-facing reference is minted on first insert and
// never changes afterwards.
type Store struct {
	DB *pgxpool.Pool
}

// Upsert writes the order snapshot, keeping updated_at monotonically
// non-decreasing: a snapshot older than the stored row is ignored and the
// existing row is returned unchanged.
func (s *Store) Upsert(ctx context.Context, order canonical.Order) (rowID int64, reference string, err error) {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return 0, "", fmt.Errorf("encode order items: %w", err)
	}
	updatedAt := order.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	createdAt := order.CreatedAt
	if createdAt.IsZero() {
		createdAt = updatedAt
	}
	reference = order.Reference
	if reference == "" {
		reference = uuid.NewString()
	}
	var raw []byte
	if len(order.Raw) > 0 {
		raw = order.Raw
	}

	err = s.DB.QueryRow(ctx, `
		insert into orders (
			reference, provider, external_id, location_id, source, status, items,
			subtotal_cents, tax_cents, discount_cents, total_cents, currency,
			customer_name, customer_email, customer_phone, fulfillment_type, raw,
			created_at, updated_at
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		on conflict (provider, external_id) do update set
			location_id = excluded.location_id,
			source = excluded.source,
			status = excluded.status,
			items = excluded.items,
			subtotal_cents = excluded.subtotal_cents,
			tax_cents = excluded.tax_cents,
			discount_cents = excluded.discount_cents,
			total_cents = excluded.total_cents,
			currency = excluded.currency,
			customer_name = excluded.customer_name,
			customer_email = excluded.customer_email,
			customer_phone = excluded.customer_phone,
			fulfillment_type = excluded.fulfillment_type,
			raw = excluded.raw,
			updated_at = excluded.updated_at
		where orders.updated_at <= excluded.updated_at
		returning id, reference
	`, reference, string(order.Provider), order.ExternalID, order.LocationID,
		string(order.Source), string(order.Status), items,
		order.SubtotalCents, order.TaxCents, order.DiscountCents, order.TotalCents,
		order.Currency, order.CustomerName, order.CustomerEmail, order.CustomerPhone,
		order.FulfillmentType, raw, createdAt, updatedAt).
		Scan(&rowID, &reference)
	if errors.Is(err, pgx.ErrNoRows) {
		// Stale snapshot; keep the newer stored row.
		err = s.DB.QueryRow(ctx,
			`select id, reference from orders where provider = $1 and external_id = $2`,
			string(order.Provider), order.ExternalID).Scan(&rowID, &reference)
	}
	if err != nil {
		return 0, "", fmt.Errorf("upsert order: %w", err)
	}
	return rowID, reference, nil
}

type Record struct {
	ID int64 `json:"id"`
	canonical.Order
}

const orderColumns = `
	id, reference, provider, external_id, location_id, source, status, items,
	subtotal_cents, tax_cents, discount_cents, total_cents, currency,
	customer_name, customer_email, customer_phone, fulfillment_type,
	created_at, updated_at
`

// List returns recent orders for a location, newest first.
func (s *Store) List(ctx context.Context, locationID string, since time.Time, limit int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.DB.Query(ctx, `
		select `+orderColumns+`
		from orders
		where location_id = $1 and updated_at >= $2
		order by updated_at desc
		limit $3
	`, locationID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		record, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *Store) ByID(ctx context.Context, rowID int64) (Record, error) {
	row := s.DB.QueryRow(ctx, `select `+orderColumns+` from orders where id = $1`, rowID)
	return scanOrder(row)
}

func scanOrder(row pgx.Row) (Record, error) {
	var (
		record   Record
		provider string
		source   string
		status   string
		items    []byte
	)
	err := row.Scan(&record.ID, &record.Reference, &provider, &record.ExternalID,
		&record.LocationID, &source, &status, &items,
		&record.SubtotalCents, &record.TaxCents, &record.DiscountCents, &record.TotalCents,
		&record.Currency, &record.CustomerName, &record.CustomerEmail, &record.CustomerPhone,
		&record.FulfillmentType, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	record.Provider = canonical.Provider(provider)
	record.Source = canonical.OrderSource(source)
	record.Status = canonical.OrderStatus(status)
	if len(items) > 0 {
		_ = json.Unmarshal(items, &record.Items)
	}
	return record, nil
}
