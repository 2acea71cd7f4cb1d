package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/formsense/formsense/internal/report"
	wsHub "github.com/formsense/formsense/internal/ws"
)

// --- helpers ----------------------------------------------------------------

// startHub starts a test HTTP server with the hub as its handler.
// The hub's Run loop is started with a cancellable context.
// Returns the ws:// URL, the hub, and a cancel function.
func startHub(t *testing.T) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(8)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

// dial connects a WebSocket client and consumes the hello message, after
// which the client is registered.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	if m := readMessage(t, conn); m.Event != wsHub.EventHello {
		t.Fatalf("first event: got %q, want hello", m.Event)
	}
	return conn
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// readMessage reads one text message from conn with a short deadline.
func readMessage(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m envelope
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func readReport(t *testing.T, conn *websocket.Conn) report.Report {
	t.Helper()
	m := readMessage(t, conn)
	if m.Event != wsHub.EventReport {
		t.Fatalf("event: got %q, want report", m.Event)
	}
	var r report.Report
	if err := json.Unmarshal(m.Data, &r); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	return r
}

func rep(session string) *report.Report {
	return &report.Report{Meta: report.Meta{Session: session}, Hints: []string{}}
}

// waitCount polls until hub.Count() == n.
func waitCount(t *testing.T, hub *wsHub.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Count() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Count: got %d, want %d", hub.Count(), n)
}

// --- tests ------------------------------------------------------------------

func TestHub_PublishReachesClient(t *testing.T) {
	wsURL, hub, _ := startHub(t)
	conn := dial(t, wsURL)

	hub.Publish(rep("s1"))

	if r := readReport(t, conn); r.Meta.Session != "s1" {
		t.Errorf("session: got %q, want s1", r.Meta.Session)
	}
}

func TestHub_SessionFilter(t *testing.T) {
	wsURL, hub, _ := startHub(t)
	conn := dial(t, wsURL+"?session=s2")

	hub.Publish(rep("s1"))
	hub.Publish(rep("s2"))

	if r := readReport(t, conn); r.Meta.Session != "s2" {
		t.Errorf("filtered client got session %q, want s2", r.Meta.Session)
	}
}

func TestHub_AllClientsReceiveBroadcast(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, wsURL)
	}
	hub.Publish(rep("s1"))

	for i, conn := range conns {
		if r := readReport(t, conn); r.Meta.Session != "s1" {
			t.Errorf("client %d: session %q", i, r.Meta.Session)
		}
	}
}

func TestHub_CountClients_DecreasesOnDisconnect(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	conn := dial(t, wsURL)
	waitCount(t, hub, 1)

	conn.Close()
	waitCount(t, hub, 0)
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t)

	dial(t, wsURL)
	waitCount(t, hub, 1)

	cancel() // signal shutdown
	waitCount(t, hub, 0)
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := wsHub.New(1) // Run is not started; the queue fills up.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(rep("s"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked")
	}
	if hub.Dropped() == 0 {
		t.Error("expected dropped reports once the queue is full")
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(8)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	// Plain HTTP GET without WebSocket upgrade headers → 400
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
