package ws

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"tableflow-pos-service/internal/auth"
	"tableflow-pos-service/internal/config"
	"tableflow-pos-service/internal/tickets"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server streams kitchen ticket changes to the display clients. Each
// connection polls for tickets touched since its last delivery, so a
// reconnect never misses a transition.
type Server struct {
	Tickets *tickets.Store
	Logger  *zap.Logger
	Config  config.Config
}

func New(ticketStore *tickets.Store, logger *zap.Logger, cfg config.Config) *Server {
	return &Server{Tickets: ticketStore, Logger: logger, Config: cfg}
}

type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) writeJSON(value any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(value)
}

func (c *wsClient) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// MerchantTicketsWS serves GET /ws/merchant/tickets?locationId=...&token=...
// The token rides the query string because browsers cannot set headers on
// websocket upgrades.
func (s *Server) MerchantTicketsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if bearer := auth.ParseBearerToken(token); bearer != "" {
		token = bearer
	}
	claims, err := auth.VerifyAccessToken(token, s.Config.JWTSecret)
	if err != nil {
		_ = conn.WriteJSON(map[string]any{"type": "error", "message": "unauthorized"})
		return
	}

	locationID := strings.TrimSpace(r.URL.Query().Get("locationId"))
	if locationID == "" {
		_ = conn.WriteJSON(map[string]any{"type": "error", "message": "locationId required"})
		return
	}
	if !claims.AllowsLocation(locationID) {
		_ = conn.WriteJSON(map[string]any{"type": "error", "message": "forbidden"})
		return
	}

	ctx := r.Context()
	client := &wsClient{conn: conn}

	// Initial board snapshot.
	board, err := s.Tickets.List(ctx, locationID, "", 0)
	if err != nil {
		s.Logger.Warn("ticket snapshot failed", zap.String("locationId", locationID), zap.Error(err))
		_ = client.writeJSON(map[string]any{"type": "error", "message": "snapshot failed"})
		return
	}
	watermark := time.Now()
	for _, t := range board {
		if t.UpdatedAt.After(watermark) {
			watermark = t.UpdatedAt
		}
	}
	if err := client.writeJSON(map[string]any{"type": "tickets.state", "data": board}); err != nil {
		return
	}

	clientClosed := make(chan struct{})
	go func() {
		defer close(clientClosed)
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	pollInterval := s.Config.WSTicketPollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	heartbeat := s.Config.WSHeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	pings := time.NewTicker(heartbeat)
	defer pings.Stop()

	for {
		select {
		case <-clientClosed:
			return
		case <-ctx.Done():
			return
		case <-pings.C:
			if err := client.ping(); err != nil {
				return
			}
		case <-poll.C:
			changed, err := s.Tickets.ChangedSince(ctx, locationID, watermark)
			if err != nil {
				s.Logger.Warn("ticket poll failed", zap.String("locationId", locationID), zap.Error(err))
				continue
			}
			if len(changed) == 0 {
				continue
			}
			watermark = changed[len(changed)-1].UpdatedAt
			if err := client.writeJSON(map[string]any{"type": "tickets.changed", "data": changed}); err != nil {
				return
			}
		}
	}
}
