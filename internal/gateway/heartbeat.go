package gateway

import (
	"context"
	"log"
	"sync"
	"time"
)

// heartbeatInterval is the sweep period for client liveness probes.
const heartbeatInterval = 5 * time.Second

// Keeper pings every tracked channel on a fixed period and terminates the
// ones that never acknowledged the previous ping. Dead channels fan their
// cleanup out through the registry, so orphaned sessions are torn down even
// when the read loop is stuck.
type Keeper struct {
	registry *Registry
	interval time.Duration

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func NewKeeper(reg *Registry) *Keeper {
	return &Keeper{
		registry: reg,
		interval: heartbeatInterval,
		clients:  make(map[*Client]struct{}),
	}
}

// Track adds a channel to the sweep.
func (k *Keeper) Track(c *Client) {
	k.mu.Lock()
	k.clients[c] = struct{}{}
	k.mu.Unlock()
}

// Forget removes a channel from the sweep.
func (k *Keeper) Forget(c *Client) {
	k.mu.Lock()
	delete(k.clients, c)
	k.mu.Unlock()
}

// Start launches the sweep loop. It returns immediately; the loop exits when
// ctx is cancelled.
func (k *Keeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(k.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				k.sweep()
			}
		}
	}()
}

// sweep kills channels whose previous ping went unanswered and pings the
// rest. Pongs are only processed while the application reads the channel, so
// a client wedged outside its read loop is indistinguishable from a dead one
// and gets the same treatment.
func (k *Keeper) sweep() {
	k.mu.Lock()
	clients := make([]*Client, 0, len(k.clients))
	for c := range k.clients {
		clients = append(clients, c)
	}
	k.mu.Unlock()

	for _, c := range clients {
		if c.Closed() {
			k.Forget(c)
			continue
		}
		if c.PingPending() {
			log.Printf("[gateway] client %s missed heartbeat, closing channel", c.IP)
			k.kill(c)
			continue
		}
		if err := c.Ping(); err != nil {
			log.Printf("[gateway] client %s ping failed: %v", c.IP, err)
			k.kill(c)
		}
	}
}

func (k *Keeper) kill(c *Client) {
	k.Forget(c)
	c.Close()
	k.registry.RemoveClient(c)
}
