package web

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/button-sensor/internal/debounce"
)

func startHub(t *testing.T, cfg HubConfig) *Hub {
	t.Helper()
	h := NewHub(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func waitClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Clients() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("clients: got %d, want %d", h.Clients(), want)
}

func pressEdge() debounce.Edge {
	return debounce.Edge{
		Timestamp: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		Type:      debounce.EdgePressed,
		State:     debounce.Pressed,
		Indicator: true,
	}
}

func TestFormatEdge(t *testing.T) {
	var got struct {
		Type string    `json:"type"`
		Ts   time.Time `json:"ts"`
		Data EdgeData  `json:"data"`
	}
	if err := json.Unmarshal(FormatEdge(pressEdge()), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "edge" {
		t.Errorf("type: got %q, want edge", got.Type)
	}
	if !got.Ts.Equal(pressEdge().Timestamp) {
		t.Errorf("ts: got %v", got.Ts)
	}
	want := EdgeData{Event: "PRESSED", State: "PRESSED", Indicator: true}
	if got.Data != want {
		t.Errorf("data: got %+v, want %+v", got.Data, want)
	}
}

func TestHubDeliversEdgeToWebsocketClient(t *testing.T) {
	h := startHub(t, HubConfig{})
	ts, _ := newTestServer(t, h)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitClients(t, h, 1)
	h.BroadcastEdge(pressEdge())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Errorf("message type: got %d, want text", mt)
	}
	if string(msg) != string(FormatEdge(pressEdge())) {
		t.Errorf("frame: got %s", msg)
	}
}

func TestHubUnregistersClosedClient(t *testing.T) {
	h := startHub(t, HubConfig{})
	ts, _ := newTestServer(t, h)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitClients(t, h, 1)

	conn.Close()
	waitClients(t, h, 0)
}

func TestHubDropsSlowClient(t *testing.T) {
	h := startHub(t, HubConfig{SendBuf: 1})

	c := &client{hub: h, send: make(chan []byte, 1), remoteAddr: "slow"}
	h.register <- c
	waitClients(t, h, 1)

	h.BroadcastEdge(pressEdge())
	h.BroadcastEdge(pressEdge())
	waitClients(t, h, 0)

	// The first frame was queued before the client was dropped.
	if _, ok := <-c.send; !ok {
		t.Fatal("expected first frame in send queue")
	}
	if _, ok := <-c.send; ok {
		t.Fatal("expected send queue closed after drop")
	}
}

func TestBroadcastNeverBlocks(t *testing.T) {
	// Hub not running: the broadcast queue fills and further edges drop.
	h := NewHub(HubConfig{BroadcastBuf: 1})
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			h.BroadcastEdge(pressEdge())
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BroadcastEdge blocked")
	}
	if len(h.broadcast) != 1 {
		t.Errorf("queued: got %d, want 1", len(h.broadcast))
	}
}

func TestHubRunClosesClientsOnCancel(t *testing.T) {
	h := NewHub(HubConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	c := &client{hub: h, send: make(chan []byte, 1), remoteAddr: "a"}
	h.register <- c
	waitClients(t, h, 1)

	cancel()
	<-done
	if h.Clients() != 0 {
		t.Errorf("clients after cancel: got %d, want 0", h.Clients())
	}
	if _, ok := <-c.send; ok {
		t.Error("expected send closed after cancel")
	}
}
