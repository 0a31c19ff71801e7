package notify

import (
	"context"
	"encoding/json"
	"time"

	"tableflow-pos-service/internal/canonical"
	"tableflow-pos-service/internal/tickets"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EventsExchange     = "tableflow.pos.events"
	NotificationsQueue = "tableflow.pos.notifications"
	NotificationsDLQ   = "tableflow.pos.notifications.dlq"
	DeadRK             = "dead"
)

// Publisher hands ticket and order state changes to the downstream
// notification workers (push/email) over RabbitMQ. A nil Publisher is a
// no-op so the pipeline runs without a broker in development.
type Publisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func New(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch}, nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// EnsureTopology declares the events exchange plus the notification queue
// and its dead-letter queue. Safe to call on every boot.
func (p *Publisher) EnsureTopology() error {
	if p == nil {
		return nil
	}
	if err := p.ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := p.ch.QueueDeclare(NotificationsDLQ, true, false, false, false, nil); err != nil {
		return err
	}
	if err := p.ch.QueueBind(NotificationsDLQ, DeadRK, EventsExchange, false, nil); err != nil {
		return err
	}
	if _, err := p.ch.QueueDeclare(NotificationsQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    EventsExchange,
		"x-dead-letter-routing-key": DeadRK,
	}); err != nil {
		return err
	}
	// '#' matches multi-segment keys like 'ticket.status.updated'.
	return p.ch.QueueBind(NotificationsQueue, "ticket.#", EventsExchange, false, nil)
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey string, payload any) error {
	if p == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, EventsExchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
}

// TicketStatusChanged publishes an update for the notification workers.
// Publishing is best-effort relative to the job outcome: a broker hiccup
// must not fail an already-applied state change.
func (p *Publisher) TicketStatusChanged(ctx context.Context, ticket tickets.Ticket, orderReference string, provider canonical.Provider) error {
	return p.publishJSON(ctx, "ticket.status.updated", map[string]any{
		"type":           "ticket.status.updated",
		"ticketId":       ticket.ID,
		"orderReference": orderReference,
		"locationId":     ticket.LocationID,
		"provider":       string(provider),
		"status":         string(ticket.Status),
		"shortcode":      ticket.Shortcode,
		"source":         ticket.Source,
		"updatedAt":      time.Now().UTC().Format(time.RFC3339),
	})
}

// TicketCreated publishes the initial placed ticket.
func (p *Publisher) TicketCreated(ctx context.Context, ticket tickets.Ticket, orderReference string, provider canonical.Provider) error {
	return p.publishJSON(ctx, "ticket.created", map[string]any{
		"type":           "ticket.created",
		"ticketId":       ticket.ID,
		"orderReference": orderReference,
		"locationId":     ticket.LocationID,
		"provider":       string(provider),
		"shortcode":      ticket.Shortcode,
		"source":         ticket.Source,
		"createdAt":      ticket.CreatedAt.UTC().Format(time.RFC3339),
	})
}
