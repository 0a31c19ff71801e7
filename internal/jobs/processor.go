package jobs

import (
	"context"
	"fmt"

	"tableflow-pos-service/internal/canonical"
	"tableflow-pos-service/internal/metrics"
	"tableflow-pos-service/internal/notify"
	"tableflow-pos-service/internal/orders"
	"tableflow-pos-service/internal/pos"
	"tableflow-pos-service/internal/tickets"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Processor executes one webhook job end to end: normalize the stored
// payload, fetch the order from the provider when the event does not embed
// it, upsert the canonical order, and advance the kitchen ticket. Every step
// is idempotent, so a redelivered or replayed job converges to the same
// state.
type Processor struct {
	DB       *pgxpool.Pool
	Registry *pos.Registry
	Orders   *orders.Store
	Tickets  *tickets.Store
	Notify   *notify.Publisher
	Logger   *zap.Logger
}

// Execute satisfies ExecutorFunc.
func (p *Processor) Execute(ctx context.Context, job Job) error {
	locationID, payload, err := p.loadEvent(ctx, job.EventRowID)
	if err != nil {
		return fmt.Errorf("load webhook event %d: %w", job.EventRowID, err)
	}

	adapter, err := p.Registry.Resolve(ctx, job.Provider, locationID)
	if err != nil {
		return err
	}

	event, err := adapter.NormalizeWebhook(payload)
	if err != nil {
		return fmt.Errorf("normalize webhook: %w", err)
	}
	if event.LocationID == "" {
		event.LocationID = locationID
	}

	if event.Type == canonical.EventUnknown {
		p.Logger.Info("webhook event type not actionable, skipping",
			zap.String("provider", string(job.Provider)),
			zap.String("eventId", job.EventID))
		return nil
	}
	if event.OrderID == "" && event.Order == nil {
		p.Logger.Info("webhook event carries no order, skipping",
			zap.String("provider", string(job.Provider)),
			zap.String("eventId", job.EventID),
			zap.String("eventType", string(event.Type)))
		return nil
	}

	order := event.Order
	if order == nil {
		order, err = adapter.FetchOrder(ctx, event.OrderID)
		if err != nil {
			return fmt.Errorf("fetch order %s: %w", event.OrderID, err)
		}
		if order == nil {
			// The provider no longer knows the order (deleted in sandbox,
			// purged test data). Nothing to sync.
			p.Logger.Warn("order referenced by webhook not found at provider",
				zap.String("provider", string(job.Provider)),
				zap.String("eventId", job.EventID),
				zap.String("orderId", event.OrderID))
			return nil
		}
	}
	if order.LocationID == "" {
		order.LocationID = event.LocationID
	}
	if !order.Balanced() {
		p.Logger.Warn("order money totals do not balance",
			zap.String("provider", string(job.Provider)),
			zap.String("externalId", order.ExternalID),
			zap.Int64("subtotalCents", order.SubtotalCents),
			zap.Int64("taxCents", order.TaxCents),
			zap.Int64("discountCents", order.DiscountCents),
			zap.Int64("totalCents", order.TotalCents))
	}

	rowID, reference, err := p.Orders.Upsert(ctx, *order)
	if err != nil {
		return err
	}

	ticket, created, err := p.Tickets.EnsureForOrder(ctx, rowID, order.LocationID, order.Source)
	if err != nil {
		return fmt.Errorf("ensure ticket for order %d: %w", rowID, err)
	}
	if created {
		metrics.TicketTransitions.WithLabelValues(string(tickets.StatusPlaced)).Inc()
		if err := p.Notify.TicketCreated(ctx, ticket, reference, order.Provider); err != nil {
			p.Logger.Warn("ticket created publish failed", zap.Int64("ticketId", ticket.ID), zap.Error(err))
		}
	}

	intent, ok := transitionIntent(order.Status)
	if !ok {
		return nil
	}
	applied, _, err := p.Tickets.Transition(ctx, rowID, intent, "system:webhook")
	if err != nil {
		return fmt.Errorf("transition ticket for order %d: %w", rowID, err)
	}
	if applied {
		metrics.TicketTransitions.WithLabelValues(string(intent)).Inc()
		ticket, err = p.Tickets.ByOrderID(ctx, rowID)
		if err != nil {
			return err
		}
		if err := p.Notify.TicketStatusChanged(ctx, ticket, reference, order.Provider); err != nil {
			p.Logger.Warn("ticket update publish failed", zap.Int64("ticketId", ticket.ID), zap.Error(err))
		}
	}
	return nil
}

// transitionIntent maps a synced order status to the ticket move it implies.
// `ready` has no mapping: only kitchen staff can mark food ready.
func transitionIntent(status canonical.OrderStatus) (tickets.Status, bool) {
	switch status {
	case canonical.OrderPaid:
		return tickets.StatusPreparing, true
	case canonical.OrderCompleted:
		return tickets.StatusCompleted, true
	case canonical.OrderCanceled:
		return tickets.StatusCanceled, true
	}
	return "", false
}

func (p *Processor) loadEvent(ctx context.Context, eventRowID int64) (locationID string, payload []byte, err error) {
	err = p.DB.QueryRow(ctx,
		`select coalesce(location_id, ''), payload from webhook_events where id = $1`,
		eventRowID).Scan(&locationID, &payload)
	return locationID, payload, err
}
