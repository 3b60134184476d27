package monitor

import (
	"sync"
	"time"
)

// minRateInterval guards against divide-by-near-zero when ticks bunch up.
const minRateInterval = 100 * time.Millisecond

type snapshot struct {
	rx, tx uint64
	ts     time.Time
}

// RateCache remembers the previous counter snapshot per session so Δbytes/Δt
// can be computed across ticks. One cache serves the whole gateway.
type RateCache struct {
	mu   sync.Mutex
	prev map[string]snapshot
	now  func() time.Time
}

func NewRateCache() *RateCache {
	return &RateCache{prev: make(map[string]snapshot), now: time.Now}
}

// Rate stores the new snapshot and reports the rate against the previous
// one. The first observation of a session and observations closer together
// than minRateInterval report no rate. Counter resets (reboot, interface
// bounce) clamp to zero instead of going negative.
func (c *RateCache) Rate(sessionID string, rx, tx uint64) (*NetRate, bool) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, seen := c.prev[sessionID]
	c.prev[sessionID] = snapshot{rx: rx, tx: tx, ts: now}
	if !seen {
		return nil, false
	}
	elapsed := now.Sub(prev.ts)
	if elapsed < minRateInterval {
		return nil, false
	}
	sec := elapsed.Seconds()
	var drx, dtx float64
	if rx >= prev.rx {
		drx = float64(rx - prev.rx)
	}
	if tx >= prev.tx {
		dtx = float64(tx - prev.tx)
	}
	return &NetRate{
		RxBytesPerSec: round1(drx / sec),
		TxBytesPerSec: round1(dtx / sec),
	}, true
}

// Forget drops a session's snapshot at teardown.
func (c *RateCache) Forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.prev, sessionID)
}
