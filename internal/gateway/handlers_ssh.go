package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/google/uuid"

	"github.com/portside-io/portside/backend/internal/events"
)

// shellReadBuffer sizes the PTY read buffer. Interactive output frames are
// small; the headroom is for pastes and full-screen redraws.
const shellReadBuffer = 32 * 1024

type connectPayload struct {
	// Pointer so a missing field is distinguishable from 0.
	ConnectionID *int `json:"connectionId"`
}

func (g *Gateway) handleConnect(ctx context.Context, c *Client, env *Envelope) {
	if !c.limiter.Allow() {
		c.Emit("ssh:error", "too many connection attempts, slow down")
		return
	}

	var p connectPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.ConnectionID == nil || *p.ConnectionID < 0 {
		c.Emit("ssh:error", "connectionId must be a non-negative integer")
		return
	}

	if !c.beginConnect() {
		c.Emit("ssh:error", "a connection attempt is already in progress")
		return
	}

	go g.connect(ctx, c, *p.ConnectionID)
}

// connect runs one connection attempt off the read loop, so the client can
// keep sending frames (and the keeper can keep pinging) while we dial.
func (g *Gateway) connect(ctx context.Context, c *Client, connectionID int) {
	defer c.endConnect()

	// A new connect replaces whatever session the channel had.
	if old := c.Session(); old != nil {
		g.Registry.Remove(old.ID)
	}

	c.Emit("ssh:status", fmt.Sprintf("Resolving connection %d...", connectionID))
	profile, err := g.Store.Profile(ctx, connectionID)
	if err != nil {
		g.connectFailed(c, connectionID, "", events.SSHConnectFailure, err)
		return
	}

	c.Emit("ssh:status", fmt.Sprintf("Connecting to %s...", profile.Name))
	timeout := g.connectTimeout()
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	link, err := g.Connect(dialCtx, profile, timeout)
	if err != nil {
		kind := events.SSHConnectFailure
		var se *shellError
		if errors.As(err, &se) {
			kind = events.SSHShellFailure
		}
		g.connectFailed(c, connectionID, profile.Name, kind, err)
		return
	}

	s := newSession(uuid.NewString(), connectionID, profile.Name, c, link, g.rates)
	g.Registry.Insert(s)
	c.bindSession(s)
	// The channel may have died while we were dialing; the read loop's
	// cleanup cannot see a session inserted after it ran.
	if c.Closed() {
		g.Registry.Remove(s.ID)
		return
	}

	s.shellReady.Store(true)
	c.Emit("ssh:connected", map[string]any{
		"connectionId": connectionID,
		"sessionId":    s.ID,
	})

	iv := g.intervals()
	s.startWorkers(iv.Status, iv.Docker)
	go g.readShell(s)

	log.Printf("[gateway] session %s open (connection %d, %s)", s.ID, connectionID, profile.Name)
	g.emit(events.Event{
		Type:     events.SSHConnectSuccess,
		UserID:   c.UserID,
		Username: c.Username,
		IP:       c.IP,
		Details: map[string]any{
			"connectionId":   connectionID,
			"connectionName": profile.Name,
			"sessionId":      s.ID,
		},
	})
}

func (g *Gateway) connectFailed(c *Client, connectionID int, name string, kind events.Type, err error) {
	log.Printf("[gateway] connect %d failed: %v", connectionID, err)
	c.Emit("ssh:error", err.Error())

	details := map[string]any{
		"connectionId": connectionID,
		"error":        err.Error(),
	}
	if name != "" {
		details["connectionName"] = name
	}
	g.emit(events.Event{
		Type:     kind,
		UserID:   c.UserID,
		Username: c.Username,
		IP:       c.IP,
		Details:  details,
	})
}

type inputPayload struct {
	Data string `json:"data"`
}

func (g *Gateway) handleInput(_ context.Context, c *Client, env *Envelope) {
	s := c.Session()
	if s == nil {
		return
	}
	if !s.shellReady.Load() {
		log.Printf("[gateway] session %s dropped input, shell not ready", s.ID)
		return
	}

	var p inputPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.Emit("ssh:error", "input requires a data string")
		return
	}
	if _, err := io.WriteString(s.link.Shell, p.Data); err != nil {
		log.Printf("[gateway] session %s shell write: %v", s.ID, err)
	}
}

type resizePayload struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (g *Gateway) handleResize(_ context.Context, c *Client, env *Envelope) {
	s := c.Session()
	if s == nil {
		return
	}
	if !s.shellReady.Load() {
		return
	}

	var p resizePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.Emit("ssh:error", "resize requires cols and rows")
		return
	}
	if p.Cols <= 0 || p.Rows <= 0 || p.Cols > 65535 || p.Rows > 65535 {
		c.Emit("ssh:error", "resize requires positive cols and rows")
		return
	}
	if err := s.link.Shell.Resize(uint16(p.Rows), uint16(p.Cols)); err != nil {
		log.Printf("[gateway] session %s resize: %v", s.ID, err)
	}
}

// readShell pumps PTY output to the client until the shell ends, then tears
// the session down. Teardown-initiated closes skip the disconnect frame; the
// client is told once, by whoever noticed first.
func (g *Gateway) readShell(s *Session) {
	buf := make([]byte, shellReadBuffer)
	for {
		n, err := s.link.Shell.Read(buf)
		if n > 0 {
			s.client.EmitBase64("ssh:output", buf[:n])
		}
		if err != nil {
			if err != io.EOF && s.ctx.Err() == nil {
				log.Printf("[gateway] session %s shell read: %v", s.ID, err)
			}
			break
		}
	}
	if s.ctx.Err() == nil {
		s.client.Emit("ssh:disconnected", "shell session ended")
	}
	g.Registry.Remove(s.ID)
}
