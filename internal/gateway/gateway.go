// Package gateway multiplexes remote host sessions over per-client WebSocket
// channels.
//
// Each client channel carries framed JSON messages (see Envelope). An
// ssh:connect frame turns into a Session: one SSH transport (or local PTY)
// with an interactive shell, an SFTP subchannel, a status poller and a docker
// poller riding it. The Registry tracks live sessions; the Keeper terminates
// channels that stop answering pings. Everything a session owns is torn down
// together, in dependency order, exactly once.
package gateway

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/portside-io/portside/backend/internal/events"
	"github.com/portside-io/portside/backend/internal/monitor"
	"github.com/portside-io/portside/backend/internal/remotefs"
	"github.com/portside-io/portside/backend/internal/sshconn"
	"github.com/portside-io/portside/backend/internal/terminal"
)

// Connection protocols a profile can request.
const (
	ProtocolSSH   = "ssh"
	ProtocolLocal = "local"
)

// Default poller periods; the settings store can override them per process.
const (
	defaultStatusInterval = time.Second
	defaultDockerInterval = 2 * time.Second
)

// SSH keepalive policy for live sessions.
const (
	keepaliveInterval  = 30 * time.Second
	keepaliveMaxMissed = 3
)

// Profile is one decrypted connection profile. Credentials arrive in the
// clear here; the store is responsible for decryption.
type Profile struct {
	ConnectionID int
	Name         string
	// Protocol is ProtocolSSH (default) or ProtocolLocal.
	Protocol   string
	Host       string
	Port       int
	Username   string
	AuthMethod string
	Password   string
	PrivateKey string
	Passphrase string
	// Shell overrides the login shell (SSH) or the local interpreter.
	Shell string
	Proxy *sshconn.Proxy
}

// ProfileStore resolves a connection id to its decrypted profile.
type ProfileStore interface {
	Profile(ctx context.Context, connectionID int) (*Profile, error)
}

// Intervals are the poller periods applied to new sessions.
type Intervals struct {
	Status time.Duration
	Docker time.Duration
}

// ConnectFunc produces the per-session collaborators for a profile.
type ConnectFunc func(ctx context.Context, profile *Profile, timeout time.Duration) (*Link, error)

// Gateway owns the shared state behind every client channel.
type Gateway struct {
	Registry *Registry
	Keeper   *Keeper
	Store    ProfileStore

	// Bus receives audit events; nil drops them.
	Bus *events.Bus

	// ConnectTimeout bounds SSH dialing, proxy handshake included. Zero
	// means sshconn.DialTimeout.
	ConnectTimeout time.Duration

	// Intervals supplies poller periods per new session; nil means the
	// defaults.
	Intervals func() Intervals

	// Connect dials the remote end. Tests substitute an in-memory link.
	Connect ConnectFunc

	rates    *monitor.RateCache
	handlers map[string]handlerFunc
}

// New wires a gateway around the given profile store and event bus.
func New(store ProfileStore, bus *events.Bus) *Gateway {
	g := &Gateway{
		Registry: NewRegistry(),
		Store:    store,
		Bus:      bus,
		Connect:  Connect,
		rates:    monitor.NewRateCache(),
	}
	g.Keeper = NewKeeper(g.Registry)
	g.handlers = g.buildHandlers()
	return g
}

// ServeClient runs the read loop for one channel until it dies, then
// releases every session bound to it. It blocks; callers run it on the
// request's handler goroutine.
func (g *Gateway) ServeClient(ctx context.Context, c *Client) {
	g.Keeper.Track(c)
	defer func() {
		c.Close()
		g.Registry.RemoveClient(c)
		g.Keeper.Forget(c)
		log.Printf("[gateway] client %s disconnected (user %s)", c.IP, c.Username)
	}()

	log.Printf("[gateway] client %s connected (user %s)", c.IP, c.Username)
	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[gateway] client %s read: %v", c.IP, err)
			}
			return
		}
		g.dispatch(ctx, c, raw)
	}
}

func (g *Gateway) intervals() Intervals {
	var iv Intervals
	if g.Intervals != nil {
		iv = g.Intervals()
	}
	if iv.Status <= 0 {
		iv.Status = defaultStatusInterval
	}
	if iv.Docker <= 0 {
		iv.Docker = defaultDockerInterval
	}
	return iv
}

func (g *Gateway) connectTimeout() time.Duration {
	if g.ConnectTimeout > 0 {
		return g.ConnectTimeout
	}
	return sshconn.DialTimeout
}

// emit hands an event to the bus. Delivery is asynchronous and never blocks
// the emitter; a nil bus drops everything.
func (g *Gateway) emit(evt events.Event) {
	if g.Bus == nil {
		return
	}
	g.Bus.Emit(evt)
}

// shellError marks a failure that happened after the transport came up, so
// the connect flow can audit it as a shell failure instead of a connect
// failure.
type shellError struct{ err error }

func (e *shellError) Error() string { return e.err.Error() }
func (e *shellError) Unwrap() error { return e.err }

// Connect is the production ConnectFunc. SSH profiles get a dialed transport
// with keepalive, a PTY shell, a command runner and a lazily opened SFTP
// subchannel. Local profiles get a PTY on the gateway host; they have no
// transport and no SFTP.
func Connect(ctx context.Context, p *Profile, timeout time.Duration) (*Link, error) {
	if p.Protocol == ProtocolLocal {
		shell, err := terminal.NewLocalShell(p.Shell)
		if err != nil {
			return nil, &shellError{err}
		}
		return &Link{
			Shell:  shell,
			Runner: &terminal.LocalRunner{},
		}, nil
	}

	spec := sshconn.Spec{
		Host:       p.Host,
		Port:       p.Port,
		User:       p.Username,
		AuthMethod: p.AuthMethod,
		Password:   p.Password,
		PrivateKey: p.PrivateKey,
		Passphrase: p.Passphrase,
		Proxy:      p.Proxy,
	}
	transport, err := sshconn.Dial(ctx, spec, timeout)
	if err != nil {
		return nil, err
	}

	shell, err := terminal.NewSSHShell(transport, p.Shell)
	if err != nil {
		_ = transport.Close()
		return nil, &shellError{err}
	}

	stopKeepalive := sshconn.StartKeepalive(transport, keepaliveInterval, keepaliveMaxMissed)
	runner := &terminal.SSHRunner{Client: transport}
	return &Link{
		Shell:  shell,
		Runner: runner,
		OpenFiles: func() (*remotefs.Service, error) {
			fs, err := remotefs.NewFS(transport)
			if err != nil {
				return nil, err
			}
			return remotefs.New(fs, runner), nil
		},
		CloseTransport: func() error {
			stopKeepalive()
			return transport.Close()
		},
	}, nil
}
