// Package tunnel relays RDP traffic between a browser WebSocket and the
// upstream RDP gateway service.
//
// The proxy is a pure byte relay: frames are forwarded verbatim in both
// directions with no application-layer parsing. Session parameters (token,
// screen geometry) arrive in the query string, are validated, and are passed
// through to the upstream dial URL together with a derived dpi.
package tunnel

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// dialTimeout bounds the upstream WebSocket handshake. The RDP gateway is a
// sibling service on the same host or compose network; a slow answer means
// it is down.
const dialTimeout = 10 * time.Second

// closeGrace bounds how long a close-frame write may block on a dead peer.
const closeGrace = time.Second

// Params are the client-supplied RDP session parameters.
type Params struct {
	Token  string
	Width  int
	Height int
}

// ParseParams validates the raw query values for an RDP session. The token
// must be non-empty and width/height must be positive integers.
func ParseParams(q url.Values) (Params, error) {
	token := q.Get("token")
	if token == "" {
		return Params{}, fmt.Errorf("missing token")
	}
	width, err := positiveInt(q.Get("width"))
	if err != nil {
		return Params{}, fmt.Errorf("width: %w", err)
	}
	height, err := positiveInt(q.Get("height"))
	if err != nil {
		return Params{}, fmt.Errorf("height: %w", err)
	}
	return Params{Token: token, Width: width, Height: height}, nil
}

func positiveInt(raw string) (int, error) {
	if raw == "" {
		return 0, fmt.Errorf("missing")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}

// DPI returns the display density forwarded to the RDP gateway: 120 for
// screens wider than 1920 pixels, 96 otherwise.
func (p Params) DPI() int {
	if p.Width > 1920 {
		return 120
	}
	return 96
}

// Proxy relays one client WebSocket per request to the upstream RDP gateway.
// It holds no per-session state; everything a session needs travels in the
// query string.
type Proxy struct {
	// Upstream is the gateway base URL, e.g. "ws://rdp:8081".
	Upstream string

	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
}

// NewProxy returns a Proxy that dials the given upstream base URL.
func NewProxy(upstream string) *Proxy {
	return &Proxy{
		Upstream: upstream,
		upgrader: websocket.Upgrader{
			// CheckOrigin allows all origins. The route is token-authenticated
			// before the upgrade, same as the terminal channel.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{HandshakeTimeout: dialTimeout},
	}
}

// ServeHTTP upgrades the request, validates the session parameters, opens the
// upstream channel and relays frames until either side goes away. Invalid
// parameters close the client with 1008 (policy violation); upstream failures
// close it with 1011 (internal error).
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params, perr := ParseParams(r.URL.Query())

	client, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}
	defer client.Close()

	if perr != nil {
		log.Printf("[tunnel] rejecting rdp session from %s: %v", r.RemoteAddr, perr)
		closeWith(client, websocket.ClosePolicyViolation, perr.Error())
		return
	}

	target, err := p.upstreamURL(params)
	if err != nil {
		log.Printf("[tunnel] bad upstream base %q: %v", p.Upstream, err)
		closeWith(client, websocket.CloseInternalServerErr, "rdp gateway misconfigured")
		return
	}

	upstream, resp, err := p.dialer.DialContext(r.Context(), target.String(), nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		log.Printf("[tunnel] upstream dial %s failed: %v", target.Host, err)
		closeWith(client, websocket.CloseInternalServerErr, "rdp gateway unavailable")
		return
	}
	defer upstream.Close()

	log.Printf("[tunnel] rdp session open: %s -> %s (%dx%d dpi=%d)",
		r.RemoteAddr, target.Host, params.Width, params.Height, params.DPI())
	relay(client, upstream)
	log.Printf("[tunnel] rdp session closed: %s", r.RemoteAddr)
}

// upstreamURL builds the dial URL from the configured base and the validated
// session parameters. The token is passed through untouched; the gateway does
// its own validation.
func (p *Proxy) upstreamURL(params Params) (*url.URL, error) {
	u, err := url.Parse(p.Upstream)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	q := u.Query()
	q.Set("token", params.Token)
	q.Set("width", strconv.Itoa(params.Width))
	q.Set("height", strconv.Itoa(params.Height))
	q.Set("dpi", strconv.Itoa(params.DPI()))
	u.RawQuery = q.Encode()
	return u, nil
}

// relay forwards frames in both directions until one side closes or errors,
// then shuts the other side down: 1000 after an orderly close, 1011 after
// anything else.
func relay(client, upstream *websocket.Conn) {
	errc := make(chan error, 2)
	go pump(client, upstream, errc)
	go pump(upstream, client, errc)

	err := <-errc
	code := websocket.CloseNormalClosure
	if !isNormalClose(err) {
		code = websocket.CloseInternalServerErr
	}
	closeWith(client, code, "")
	closeWith(upstream, code, "")
	<-errc // the surviving pump exits once its connection is closed
}

// pump copies frames from src to dst until either connection fails.
func pump(src, dst *websocket.Conn, errc chan<- error) {
	for {
		mt, msg, err := src.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if err := dst.WriteMessage(mt, msg); err != nil {
			errc <- err
			return
		}
	}
}

// isNormalClose reports whether err represents an orderly WebSocket shutdown.
func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// closeWith sends a close frame and tears the connection down. Safe to call
// on an already-dead peer. Control-frame payloads are capped at 125 bytes, so
// the reason is truncated to keep the frame deliverable.
func closeWith(conn *websocket.Conn, code int, reason string) {
	if len(reason) > 120 {
		reason = reason[:120]
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	_ = conn.Close()
}
