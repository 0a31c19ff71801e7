package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestTelemetryRecorderImplementsHijacker(t *testing.T) {
	var recorder http.ResponseWriter = &telemetryRecorder{response: httptest.NewRecorder()}
	if _, ok := recorder.(http.Hijacker); !ok {
		t.Fatalf("recorder must expose http.Hijacker for upgrades")
	}
	if _, ok := recorder.(http.Flusher); !ok {
		t.Fatalf("recorder must expose http.Flusher for streaming responses")
	}
}

func TestTelemetryAllowsWebSocketUpgrade(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
	})

	server := httptest.NewServer(Telemetry(zap.NewNop())(handler))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial through middleware failed: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(msg) != "hello" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestTelemetryRecordsStatus(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	recorder := httptest.NewRecorder()
	Telemetry(zap.NewNop())(handler).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/x", nil))
	if recorder.Code != http.StatusTeapot {
		t.Fatalf("expected status to pass through, got %d", recorder.Code)
	}
}
