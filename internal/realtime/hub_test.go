package realtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/starryvlog/backend/internal/chat"
	"github.com/starryvlog/backend/internal/models"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	return startHubWithGreeting(t, func() []Message {
		return []Message{{Type: MessageTypeMessages, Data: []models.ChatMessage{}}}
	})
}

func startHubWithGreeting(t *testing.T, greet func() []Message) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(stopped)
	}()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if _, err := hub.Attach(conn, r.URL.Query().Get("user"), greet); err != nil {
			t.Errorf("attach: %v", err)
		}
	}))

	t.Cleanup(func() {
		server.Close()
		cancel()
		<-stopped
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", want, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHubBroadcastsSnapshots(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, "user-1")
	waitForClients(t, hub, 1)

	if msg := readMessage(t, conn); msg.Type != MessageTypeMessages {
		t.Fatalf("expected initial messages frame, got %q", msg.Type)
	}

	hub.BroadcastSnapshot(chat.Snapshot{Generation: 1, Messages: []models.ChatMessage{
		{ID: "m1", AuthorID: "user-2", Content: "hi", ExpiresAt: time.Now().Add(time.Hour)},
	}})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeMessages {
		t.Fatalf("expected messages frame, got %q", msg.Type)
	}
	data, ok := msg.Data.([]any)
	if !ok || len(data) != 1 {
		t.Fatalf("expected one message in frame, got %#v", msg.Data)
	}
}

func TestHubAnswersPing(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, "user-1")
	waitForClients(t, hub, 1)
	readMessage(t, conn)

	if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageTypePong {
		t.Fatalf("expected pong, got %q", msg.Type)
	}
}

func TestDisconnectUserClosesOnlyThatUser(t *testing.T) {
	hub, server := startHub(t)
	first := dial(t, server, "user-1")
	second := dial(t, server, "user-1")
	other := dial(t, server, "user-2")
	waitForClients(t, hub, 3)
	for _, conn := range []*websocket.Conn{first, second, other} {
		readMessage(t, conn)
	}

	hub.DisconnectUser("user-1")
	waitForClients(t, hub, 1)

	for _, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg Message
		if err := conn.ReadJSON(&msg); err == nil {
			t.Fatalf("expected signed-out socket to be closed, got %+v", msg)
		}
	}

	hub.Broadcast(Message{Type: MessageTypeMessages, Data: []models.ChatMessage{}})
	if msg := readMessage(t, other); msg.Type != MessageTypeMessages {
		t.Fatalf("expected other user to stay connected, got %q", msg.Type)
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, "user-1")
	waitForClients(t, hub, 1)

	_ = conn.Close()
	waitForClients(t, hub, 0)
}

func TestGreetingRunsAfterRegistration(t *testing.T) {
	var current atomic.Pointer[Hub]
	seen := make(chan int, 1)
	hub, server := startHubWithGreeting(t, func() []Message {
		seen <- current.Load().ClientCount()
		return []Message{{Type: MessageTypeMessages, Data: []models.ChatMessage{{ID: "current"}}}}
	})
	current.Store(hub)

	conn := dial(t, server, "user-1")
	msg := readMessage(t, conn)
	if msg.Type != MessageTypeMessages {
		t.Fatalf("expected greeting frame, got %q", msg.Type)
	}
	if data, ok := msg.Data.([]any); !ok || len(data) != 1 {
		t.Fatalf("expected greeting to carry the current snapshot, got %#v", msg.Data)
	}
	if registered := <-seen; registered != 1 {
		t.Fatalf("expected greeting to be built after the client was registered, saw %d clients", registered)
	}
}
