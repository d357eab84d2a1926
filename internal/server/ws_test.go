package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loykin/fleetrun/internal/run"
)

func wsServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub(nil)
	g := gin.New()
	g.GET("/events", hub.HandleWebSocket)
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count never reached %d, at %d", want, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsEvents(t *testing.T) {
	srv, hub := wsServer(t)
	conn := dial(t, srv)
	waitClients(t, hub, 1)

	hub.Emit(run.Event{Type: run.EventStarted, RunID: "r1", TestTarget: "./run.sh"})

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got run.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != run.EventStarted || got.RunID != "r1" {
		t.Fatalf("wrong event: %+v", got)
	}
}

func TestHubFansOutToAllClients(t *testing.T) {
	srv, hub := wsServer(t)
	c1 := dial(t, srv)
	c2 := dial(t, srv)
	waitClients(t, hub, 2)

	hub.Emit(run.Event{Type: run.EventOutput, RunID: "r1", DeviceID: "d1", Text: "line"})

	for i, conn := range []*websocket.Conn{c1, c2} {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var got run.Event
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
		if got.Text != "line" {
			t.Fatalf("client %d wrong event: %+v", i, got)
		}
	}
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	srv, hub := wsServer(t)
	conn := dial(t, srv)
	waitClients(t, hub, 1)

	_ = conn.Close()
	waitClients(t, hub, 0)

	// Emitting with no clients must not panic or block.
	hub.Emit(run.Event{Type: run.EventCompleted, RunID: "r1"})
}

func TestHubDropsSlowClients(t *testing.T) {
	srv, hub := wsServer(t)
	// The client never reads, so its send queue eventually fills and the
	// hub disconnects it instead of blocking the orchestrator.
	_ = dial(t, srv)
	waitClients(t, hub, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < sendBuffer*4; i++ {
			hub.Emit(run.Event{Type: run.EventOutput, RunID: "r1", Text: "flood"})
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("Emit blocked on a slow client")
	}
}
