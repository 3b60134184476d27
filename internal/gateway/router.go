package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// handlerFunc processes one decoded frame on a client channel.
type handlerFunc func(ctx context.Context, c *Client, env *Envelope)

func (g *Gateway) buildHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"ssh:connect": g.handleConnect,
		"ssh:input":   g.handleInput,
		"ssh:resize":  g.handleResize,

		"sftp:readdir":   g.handleReaddir,
		"sftp:stat":      g.handleStat,
		"sftp:realpath":  g.handleRealpath,
		"sftp:readfile":  g.handleReadFile,
		"sftp:writefile": g.handleWriteFile,
		"sftp:mkdir":     g.handleMkdir,
		"sftp:rmdir":     g.handleRmdir,
		"sftp:unlink":    g.handleUnlink,
		"sftp:rename":    g.handleRename,
		"sftp:chmod":     g.handleChmod,
		"sftp:copy":      g.handleCopy,
		"sftp:move":      g.handleMove,

		"sftp:upload:start":  g.handleUploadStart,
		"sftp:upload:chunk":  g.handleUploadChunk,
		"sftp:upload:cancel": g.handleUploadCancel,

		"docker:get_status": g.handleDockerStatus,
		"docker:command":    g.handleDockerCommand,
		"docker:get_stats":  g.handleDockerStats,
	}
}

// dispatch decodes one raw frame and routes it. Precondition failures are
// answered on the channel and never kill the read loop.
func (g *Gateway) dispatch(ctx context.Context, c *Client, raw []byte) {
	env, err := parseEnvelope(raw)
	if err != nil {
		log.Printf("[gateway] client %s sent undecodable frame: %v", c.IP, err)
		c.Emit("error", "invalid message format")
		return
	}

	handler, ok := g.handlers[env.Type]
	if !ok {
		c.Emit("error", fmt.Sprintf("unsupported message type %q", env.Type))
		return
	}

	// Without a requestId no SFTP reply can be correlated, so the check
	// comes before anything that would produce one. Upload frames are
	// exempt: their correlation runs on uploadId.
	if strings.HasPrefix(env.Type, "sftp:") && !strings.HasPrefix(env.Type, "sftp:upload:") && env.RequestID == "" {
		c.Emit("sftp_error", fmt.Sprintf("%s requires a requestId", env.Type))
		return
	}

	if needsSession(env.Type) && c.Session() == nil {
		replyNoSession(c, &env)
		return
	}

	// A handler bug must not kill the read loop; the channel outlives the
	// frame that broke.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[gateway] client %s: %s handler panic: %v", c.IP, env.Type, r)
			c.Emit("error", "internal server error")
		}
	}()
	handler(ctx, c, &env)
}

// needsSession reports whether a frame type only makes sense with a live
// session bound to the client. ssh:connect is the one session-creating type.
func needsSession(typ string) bool {
	switch typ {
	case "ssh:input", "ssh:resize":
		return true
	}
	return strings.HasPrefix(typ, "sftp:") || strings.HasPrefix(typ, "docker:")
}

// replyNoSession answers a session-requiring frame in the error vocabulary
// of its family, so clients surface it in the right place.
func replyNoSession(c *Client, env *Envelope) {
	const msg = "no active session"
	switch {
	case strings.HasPrefix(env.Type, "sftp:upload:"):
		var p struct {
			UploadID string `json:"uploadId"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		c.send(uploadOut{
			Type:      "sftp:upload:error",
			UploadID:  p.UploadID,
			RequestID: env.RequestID,
			Payload:   map[string]any{"message": msg},
		})
	case strings.HasPrefix(env.Type, "sftp:"):
		c.Reply(env.Type+":error", env.RequestID, msg)
	case env.Type == "docker:command":
		c.Emit("docker:command:error", map[string]any{"message": msg})
	case env.Type == "docker:get_stats":
		c.Emit("docker:stats:error", map[string]any{"message": msg})
	case strings.HasPrefix(env.Type, "docker:"):
		c.Emit("docker:status:error", map[string]any{"message": msg})
	default:
		c.Emit("ssh:error", msg)
	}
}
