package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// dockerRefreshDelay is how long after a successful container command the
// client is nudged to refresh its container list. Immediate refreshes race
// the daemon and show the pre-command state.
const dockerRefreshDelay = 500 * time.Millisecond

type dockerCommandPayload struct {
	ContainerID string `json:"containerId"`
	Command     string `json:"command"`
}

type dockerStatsPayload struct {
	ContainerID string `json:"containerId"`
}

func (g *Gateway) handleDockerStatus(_ context.Context, c *Client, env *Envelope) {
	s := c.Session()
	if s == nil {
		replyNoSession(c, env)
		return
	}
	// Off the read loop; the probe alone can take two seconds.
	go s.emitDockerStatus(s.ctx)
}

func (g *Gateway) handleDockerCommand(_ context.Context, c *Client, env *Envelope) {
	var p dockerCommandPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.ContainerID == "" || p.Command == "" {
		c.Emit("docker:command:error", map[string]any{
			"message": "docker:command requires containerId and command",
		})
		return
	}
	s := c.Session()
	if s == nil {
		replyNoSession(c, env)
		return
	}
	go func() {
		if err := s.docker.Command(s.ctx, p.ContainerID, p.Command); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			log.Printf("[docker] session %s: %s %s: %v", s.ID, p.Command, p.ContainerID, err)
			c.Emit("docker:command:error", map[string]any{
				"command":     p.Command,
				"containerId": p.ContainerID,
				"message":     err.Error(),
			})
			return
		}
		// Give the daemon a beat to settle before the client refreshes.
		select {
		case <-s.ctx.Done():
		case <-time.After(dockerRefreshDelay):
			c.Emit("request_docker_status_update", struct{}{})
		}
	}()
}

func (g *Gateway) handleDockerStats(_ context.Context, c *Client, env *Envelope) {
	var p dockerStatsPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.ContainerID == "" {
		c.Emit("docker:stats:error", map[string]any{
			"message": "docker:get_stats requires a containerId",
		})
		return
	}
	s := c.Session()
	if s == nil {
		replyNoSession(c, env)
		return
	}
	go func() {
		stats, err := s.docker.ContainerStats(s.ctx, p.ContainerID)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			log.Printf("[docker] session %s: stats %s: %v", s.ID, p.ContainerID, err)
			c.Emit("docker:stats:error", map[string]any{
				"containerId": p.ContainerID,
				"message":     err.Error(),
			})
			return
		}
		c.Emit("docker:stats:update", map[string]any{
			"containerId": p.ContainerID,
			"stats":       stats,
		})
	}()
}
