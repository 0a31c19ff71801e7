package tickets

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"tableflow-pos-service/internal/canonical"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type Status string

const (
	StatusPlaced    Status = "placed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

func ParseStatus(value string) (Status, bool) {
	switch Status(value) {
	case StatusPlaced, StatusPreparing, StatusReady, StatusCompleted, StatusCanceled:
		return Status(value), true
	}
	return "", false
}

// statusRank orders the forward progression. canceled sits outside the
// ranking: it wins from any non-terminal state.
var statusRank = map[Status]int{
	StatusPlaced:    0,
	StatusPreparing: 1,
	StatusReady:     2,
	StatusCompleted: 3,
}

// CanTransition reports whether moving from -> to is allowed. Backward moves
// are rejected; canceled is reachable from every non-terminal state.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if from == StatusCanceled || from == StatusCompleted {
		return false
	}
	if to == StatusCanceled {
		return true
	}
	fromRank, okFrom := statusRank[from]
	toRank, okTo := statusRank[to]
	if !okFrom || !okTo {
		return false
	}
	return toRank > fromRank
}

// Shortcode alphabet omits lookalikes (I, O, 0, 1).
const shortcodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
const shortcodeLength = 4

func NewShortcode() (string, error) {
	buf := make([]byte, shortcodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = shortcodeAlphabet[int(b)%len(shortcodeAlphabet)]
	}
	return string(buf), nil
}

type Ticket struct {
	ID          int64      `json:"id"`
	OrderID     int64      `json:"orderId"`
	LocationID  string     `json:"locationId"`
	Source      string     `json:"source"`
	Status      Status     `json:"status"`
	Shortcode   string     `json:"shortcode"`
	PlacedAt    time.Time  `json:"placedAt"`
	PreparingAt *time.Time `json:"preparingAt,omitempty"`
	ReadyAt     *time.Time `json:"readyAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CanceledAt  *time.Time `json:"canceledAt,omitempty"`
	UpdatedBy   string     `json:"updatedBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Store owns every write to kitchen_tickets.status; callers go through
// EnsureForOrder and Transition so the guard cannot be bypassed.
type Store struct {
	DB     *pgxpool.Pool
	Logger *zap.Logger
}

const shortcodeRetries = 5

// EnsureForOrder creates the ticket in `placed` the first time an order is
// observed for a location. Shortcode collisions retry with a fresh code;
// a concurrent create for the same order is treated as already-existing.
func (s *Store) EnsureForOrder(ctx context.Context, orderRowID int64, locationID string, source canonical.OrderSource) (Ticket, bool, error) {
	for attempt := 0; attempt < shortcodeRetries; attempt++ {
		code, err := NewShortcode()
		if err != nil {
			return Ticket{}, false, err
		}
		var ticket Ticket
		err = s.DB.QueryRow(ctx, `
			insert into kitchen_tickets (order_id, location_id, source, shortcode)
			values ($1, $2, $3, $4)
			on conflict (order_id) do nothing
			returning id, order_id, location_id, source, status, shortcode, placed_at, created_at, updated_at
		`, orderRowID, locationID, string(source), code).
			Scan(&ticket.ID, &ticket.OrderID, &ticket.LocationID, &ticket.Source,
				&ticket.Status, &ticket.Shortcode, &ticket.PlacedAt, &ticket.CreatedAt, &ticket.UpdatedAt)
		if err == nil {
			return ticket, true, nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			existing, err := s.ByOrderID(ctx, orderRowID)
			if err != nil {
				return Ticket{}, false, err
			}
			return existing, false, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Shortcode taken at this location; roll a new one.
			continue
		}
		return Ticket{}, false, err
	}
	return Ticket{}, false, fmt.Errorf("shortcode generation exhausted retries for order %d", orderRowID)
}

// Transition applies a guarded status change. An out-of-order event is
// logged and dropped rather than surfaced as an error: a stale duplicate
// must not disturb a more advanced ticket. The returned status is the one
// read under the row lock, so a rejection names the state that actually
// blocked the move.
func (s *Store) Transition(ctx context.Context, orderRowID int64, to Status, actor string) (bool, Status, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return false, "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		ticketID int64
		current  Status
	)
	err = tx.QueryRow(ctx,
		`select id, status from kitchen_tickets where order_id = $1 for update`,
		orderRowID).Scan(&ticketID, &current)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "", fmt.Errorf("no ticket for order %d", orderRowID)
	}
	if err != nil {
		return false, "", err
	}

	if !CanTransition(current, to) {
		s.Logger.Info("ticket transition rejected",
			zap.Int64("ticketId", ticketID),
			zap.String("from", string(current)),
			zap.String("to", string(to)),
			zap.String("actor", actor))
		return false, current, nil
	}

	query := fmt.Sprintf(`
		update kitchen_tickets
		set status = $2, %s = now(), updated_by = $3, updated_at = now()
		where id = $1
	`, timestampColumn(to))
	if _, err := tx.Exec(ctx, query, ticketID, string(to), actor); err != nil {
		return false, current, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, current, err
	}
	return true, to, nil
}

func timestampColumn(status Status) string {
	switch status {
	case StatusPreparing:
		return "preparing_at"
	case StatusReady:
		return "ready_at"
	case StatusCompleted:
		return "completed_at"
	case StatusCanceled:
		return "canceled_at"
	default:
		return "placed_at"
	}
}

const ticketColumns = `
	id, order_id, location_id, source, status, shortcode,
	placed_at, preparing_at, ready_at, completed_at, canceled_at,
	updated_by, created_at, updated_at
`

func (s *Store) ByOrderID(ctx context.Context, orderRowID int64) (Ticket, error) {
	row := s.DB.QueryRow(ctx,
		`select `+ticketColumns+` from kitchen_tickets where order_id = $1`, orderRowID)
	return scanTicket(row)
}

func (s *Store) ByID(ctx context.Context, ticketID int64) (Ticket, error) {
	row := s.DB.QueryRow(ctx,
		`select `+ticketColumns+` from kitchen_tickets where id = $1`, ticketID)
	return scanTicket(row)
}

// List returns the ticket board for a location, optionally filtered by
// status, newest first.
func (s *Store) List(ctx context.Context, locationID string, status string, limit int) ([]Ticket, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	query := `select ` + ticketColumns + ` from kitchen_tickets where location_id = $1`
	args := []any{locationID}
	if status != "" {
		query += ` and status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` order by created_at desc limit %d`, limit)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ticket)
	}
	return out, rows.Err()
}

// ChangedSince returns tickets updated after the given time, for the
// kitchen-display stream.
func (s *Store) ChangedSince(ctx context.Context, locationID string, since time.Time) ([]Ticket, error) {
	rows, err := s.DB.Query(ctx,
		`select `+ticketColumns+` from kitchen_tickets where location_id = $1 and updated_at > $2 order by updated_at asc`,
		locationID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ticket)
	}
	return out, rows.Err()
}

func scanTicket(row pgx.Row) (Ticket, error) {
	var (
		ticket      Ticket
		preparingAt pgtype.Timestamptz
		readyAt     pgtype.Timestamptz
		completedAt pgtype.Timestamptz
		canceledAt  pgtype.Timestamptz
	)
	err := row.Scan(&ticket.ID, &ticket.OrderID, &ticket.LocationID, &ticket.Source,
		&ticket.Status, &ticket.Shortcode,
		&ticket.PlacedAt, &preparingAt, &readyAt, &completedAt, &canceledAt,
		&ticket.UpdatedBy, &ticket.CreatedAt, &ticket.UpdatedAt)
	if err != nil {
		return Ticket{}, err
	}
	ticket.PreparingAt = timePtr(preparingAt)
	ticket.ReadyAt = timePtr(readyAt)
	ticket.CompletedAt = timePtr(completedAt)
	ticket.CanceledAt = timePtr(canceledAt)
	return ticket, nil
}

func timePtr(v pgtype.Timestamptz) *time.Time {
	if v.Valid {
		return &v.Time
	}
	return nil
}
