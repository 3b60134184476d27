package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestSweepKillsAfterUnansweredPing(t *testing.T) {
	link, _, _ := newTestLink()
	g := testGateway(t, link)
	c, sock := newTestClient()
	connectSession(t, g, c, sock)
	g.Keeper.Track(c)

	// First sweep arms the ping; the fake socket never pongs back.
	g.Keeper.sweep()
	if c.Closed() {
		t.Fatal("client closed after a single sweep")
	}
	g.Keeper.sweep()
	if !c.Closed() {
		t.Fatal("client survived an unanswered ping")
	}
	if g.Registry.Len() != 0 {
		t.Fatalf("registry holds %d sessions after kill", g.Registry.Len())
	}

	g.Keeper.mu.Lock()
	tracked := len(g.Keeper.clients)
	g.Keeper.mu.Unlock()
	if tracked != 0 {
		t.Fatalf("keeper still tracks %d clients", tracked)
	}
}

func TestSweepSparesAcknowledgedClients(t *testing.T) {
	link, _, _ := newTestLink()
	g := testGateway(t, link)
	c, sock := newTestClient()
	connectSession(t, g, c, sock)
	g.Keeper.Track(c)

	for i := 0; i < 3; i++ {
		g.Keeper.sweep()
		c.pingPending.Store(false) // the pong came back
	}
	if c.Closed() {
		t.Fatal("acknowledged client was killed")
	}
	if g.Registry.Len() != 1 {
		t.Fatalf("registry holds %d sessions, want 1", g.Registry.Len())
	}
}

func TestSweepForgetsClosedClients(t *testing.T) {
	link, _, _ := newTestLink()
	g := testGateway(t, link)
	c, _ := newTestClient()
	g.Keeper.Track(c)
	c.Close()

	g.Keeper.sweep()
	g.Keeper.mu.Lock()
	tracked := len(g.Keeper.clients)
	g.Keeper.mu.Unlock()
	if tracked != 0 {
		t.Fatalf("keeper still tracks %d closed clients", tracked)
	}
}

// A client that stops reading its channel never processes pings, so its pongs
// stop; the keeper closes the channel and the registry drops its session.
func TestKeeperClosesSilentWebSocketClients(t *testing.T) {
	link, _, _ := newTestLink()
	g := testGateway(t, link)
	g.Keeper.interval = 40 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Keeper.Start(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.ServeClient(r.Context(), NewClient(conn, "u1", "admin", ClientIP(r)))
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ssh:connect","payload":{"connectionId":42}}`)); err != nil {
		t.Fatalf("write connect: %v", err)
	}
	for {
		if fr := readWireFrame(t, ws); fr.Type == "ssh:connected" {
			break
		}
	}
	if g.Registry.Len() != 1 {
		t.Fatalf("registry holds %d sessions, want 1", g.Registry.Len())
	}

	// Go silent: no more reads, so no more pongs.
	waitFor(t, 5*time.Second, func() bool { return g.Registry.Len() == 0 })

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}

func TestKeeperSparesReadingClients(t *testing.T) {
	link, _, _ := newTestLink()
	g := testGateway(t, link)
	g.Keeper.interval = 40 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Keeper.Start(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.ServeClient(r.Context(), NewClient(conn, "u1", "admin", ClientIP(r)))
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ssh:connect","payload":{"connectionId":42}}`)); err != nil {
		t.Fatalf("write connect: %v", err)
	}
	for {
		if fr := readWireFrame(t, ws); fr.Type == "ssh:connected" {
			break
		}
	}

	// Keep reading; the websocket stack answers pings while a read is
	// in flight.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	time.Sleep(400 * time.Millisecond) // ten sweep periods
	if g.Registry.Len() != 1 {
		t.Fatalf("responsive client lost its session, registry = %d", g.Registry.Len())
	}
}
