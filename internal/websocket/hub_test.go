package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"krewup-messaging/internal/metrics"
	"krewup-messaging/internal/models"
	"krewup-messaging/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const secret = "hub-secret"

func startHub(t *testing.T) (*Hub, *metrics.Metrics, string, context.CancelFunc) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m := metrics.New()
	hub := NewHub(m, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", NewWSHandler(hub, secret, nil).HandleWebSocketConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, m, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", cancel
}

func dial(t *testing.T, url string, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	token, err := utils.GenerateJWT(secret, userID, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitConnections(t *testing.T, hub *Hub, userID uuid.UUID, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Connections(userID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, have %d", n, hub.Connections(userID))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHubDeliversHintsToEveryConnection(t *testing.T) {
	hub, m, url, _ := startHub(t)
	alice, bob := uuid.New(), uuid.New()

	first := dial(t, url, alice)
	second := dial(t, url, alice)
	bobConn := dial(t, url, bob)
	waitConnections(t, hub, alice, 2)
	waitConnections(t, hub, bob, 1)

	convID := uuid.New()
	hub.NotifyInvalidate(alice, models.MessagesQueryKey(convID), models.ConversationsQueryKey)

	for _, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var hint models.InvalidationHint
		if err := conn.ReadJSON(&hint); err != nil {
			t.Fatalf("read hint: %v", err)
		}
		if hint.Type != models.HintTypeInvalidate || len(hint.Keys) != 2 || hint.Keys[1] != models.ConversationsQueryKey {
			t.Fatalf("unexpected hint %+v", hint)
		}
	}

	_ = bobConn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, _, err := bobConn.ReadMessage(); err == nil {
		t.Fatalf("expected no hint for another user")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`krewup_hub_invalidation_hints_total{outcome="delivered"} 2`,
		`krewup_hub_connections 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics to contain %q", want)
		}
	}
}

func TestHubRejectsMissingOrBadToken(t *testing.T) {
	_, _, url, _ := startHub(t)
	for _, target := range []string{url, url + "?token=garbage"} {
		_, resp, err := websocket.DefaultDialer.Dial(target, nil)
		if err == nil {
			t.Fatalf("expected dial to %s to fail", target)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %+v", target, resp)
		}
	}
}

func TestHubInboundFrameGetsError(t *testing.T) {
	hub, _, url, _ := startHub(t)
	userID := uuid.New()
	conn := dial(t, url, userID)
	waitConnections(t, hub, userID, 1)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"new_message"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var payload ErrorPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Type != MessageTypeError {
		t.Fatalf("expected error frame, got %s", raw)
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub, _, url, cancel := startHub(t)
	userID := uuid.New()
	conn := dial(t, url, userID)
	waitConnections(t, hub, userID, 1)

	cancel()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
	if n := hub.Connections(userID); n != 0 {
		t.Fatalf("expected no connections after shutdown, got %d", n)
	}
}
