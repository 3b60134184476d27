package gateway

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Connect-attempt budget per client channel. Dialing SSH is expensive; a
// misbehaving client gets an ssh:error instead of a dial.
const (
	connectRate  = 2
	connectBurst = 5
)

// writeTimeout bounds one outbound frame write.
const writeTimeout = 10 * time.Second

// socket is the slice of *websocket.Conn the gateway needs. Tests substitute
// an in-memory implementation.
type socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one connected message channel. Outbound writes are serialized so
// timers, the shell reader and the file serializer can all emit concurrently;
// reads happen only on the ServeClient loop.
type Client struct {
	UserID   string
	Username string
	IP       string

	sock socket
	wmu  sync.Mutex

	limiter *rate.Limiter

	session     atomic.Pointer[Session]
	connecting  atomic.Bool
	pingPending atomic.Bool
	closed      atomic.Bool
}

// NewClient wraps an upgraded connection with the identity captured at
// channel acceptance.
func NewClient(conn *websocket.Conn, userID, username, ip string) *Client {
	return newClient(conn, userID, username, ip)
}

func newClient(sock socket, userID, username, ip string) *Client {
	c := &Client{
		UserID:   userID,
		Username: username,
		IP:       ip,
		sock:     sock,
		limiter:  rate.NewLimiter(connectRate, connectBurst),
	}
	sock.SetPongHandler(func(string) error {
		c.pingPending.Store(false)
		return nil
	})
	return c
}

func (c *Client) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[gateway] marshal outbound frame: %v", err)
		return
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed.Load() {
		return
	}
	_ = c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
		// The read loop sees the same dead socket and runs the cleanup.
		log.Printf("[gateway] write to client %s: %v", c.IP, err)
	}
}

// Emit sends a frame with an optional payload.
func (c *Client) Emit(typ string, payload any) {
	c.send(envelopeOut{Type: typ, Payload: payload})
}

// EmitBase64 sends binary data (PTY output) base64-encoded, marked with the
// encoding field so the client knows to decode it.
func (c *Client) EmitBase64(typ string, data []byte) {
	c.send(envelopeOut{
		Type:     typ,
		Payload:  base64.StdEncoding.EncodeToString(data),
		Encoding: "base64",
	})
}

// Reply answers an sftp request, echoing its requestId.
func (c *Client) Reply(typ, requestID string, payload any) {
	c.send(replyOut{Type: typ, RequestID: requestID, Payload: payload})
}

// Ping sends a control ping and arms the liveness check; the pong handler
// disarms it.
func (c *Client) Ping() error {
	c.pingPending.Store(true)
	return c.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// PingPending reports whether the previous ping is still unacknowledged.
func (c *Client) PingPending() bool { return c.pingPending.Load() }

// Close tears the socket down. Safe to call more than once and from any
// goroutine.
func (c *Client) Close() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.sock.Close()
	}
}

// Closed reports whether Close has run.
func (c *Client) Closed() bool { return c.closed.Load() }

// Session returns the session currently bound to this channel, or nil.
func (c *Client) Session() *Session { return c.session.Load() }

func (c *Client) bindSession(s *Session) { c.session.Store(s) }

// clearSession unbinds s unless a newer session already replaced it.
func (c *Client) clearSession(s *Session) { c.session.CompareAndSwap(s, nil) }

// beginConnect claims the single connect slot; endConnect releases it.
func (c *Client) beginConnect() bool { return c.connecting.CompareAndSwap(false, true) }
func (c *Client) endConnect()        { c.connecting.Store(false) }

// ClientIP derives the peer address recorded on audit events: first
// X-Forwarded-For value, then X-Real-IP, then the socket address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if v := strings.TrimSpace(first); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		return v
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
