package websocket

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func setupTestHub(t *testing.T) *Hub {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	hub := NewHub(logger)
	go hub.Run()
	return hub
}

func connectWS(t *testing.T, hub *Hub, ownerID string) (*websocket.Conn, func()) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	header := http.Header{}
	header.Set("X-User-Id", ownerID)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		server.Close()
		t.Fatalf("failed to connect WebSocket: %v", err)
	}

	cleanup := func() {
		conn.Close()
		server.Close()
	}
	return conn, cleanup
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, got %d", want, hub.ClientCount())
}

func TestHub_ClientConnects(t *testing.T) {
	hub := setupTestHub(t)

	conn, cleanup := connectWS(t, hub, "owner-1")
	defer cleanup()

	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_RejectsMissingTenant(t *testing.T) {
	hub := setupTestHub(t)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial without X-User-Id to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %+v", resp)
	}
}

func TestHub_BroadcastReachesOwner(t *testing.T) {
	hub := setupTestHub(t)

	conn, cleanup := connectWS(t, hub, "owner-1")
	defer cleanup()
	waitForClients(t, hub, 1)

	hub.Broadcast(DeliveryEvent{
		Type:           EventDeliverySuccess,
		DeliveryID:     "del-123",
		SubscriptionID: "sub-456",
		OwnerID:        "owner-1",
		URL:            "http://example.com/webhook",
		Event:          "task.created",
		Attempt:        1,
		ResponseMs:     42,
		Timestamp:      time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}

	msg := string(message)
	if !strings.Contains(msg, EventDeliverySuccess) {
		t.Errorf("expected message to contain %q, got: %s", EventDeliverySuccess, msg)
	}
	if !strings.Contains(msg, "del-123") {
		t.Errorf("expected message to contain delivery ID, got: %s", msg)
	}
	if strings.Contains(msg, "owner-1") {
		t.Errorf("owner id should not be serialised, got: %s", msg)
	}
}

func TestHub_BroadcastIsTenantScoped(t *testing.T) {
	hub := setupTestHub(t)

	conn1, cleanup1 := connectWS(t, hub, "owner-1")
	defer cleanup1()
	conn2, cleanup2 := connectWS(t, hub, "owner-2")
	defer cleanup2()
	waitForClients(t, hub, 2)

	if n := hub.OwnerClientCount("owner-1"); n != 1 {
		t.Errorf("expected 1 client for owner-1, got %d", n)
	}

	hub.Broadcast(DeliveryEvent{Type: EventDeliveryFailed, DeliveryID: "del-scoped", OwnerID: "owner-2"})

	conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn2.ReadMessage()
	if err != nil {
		t.Fatalf("owner-2 failed to read: %v", err)
	}
	if !strings.Contains(string(message), "del-scoped") {
		t.Errorf("owner-2 didn't receive its event: %s", message)
	}

	conn1.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, message, err := conn1.ReadMessage(); err == nil {
		t.Errorf("owner-1 should not receive owner-2's event, got: %s", message)
	}
}

func TestHub_ClientCountStartsAtZero(t *testing.T) {
	hub := setupTestHub(t)

	if count := hub.ClientCount(); count != 0 {
		t.Errorf("expected 0 clients initially, got %d", count)
	}
}
