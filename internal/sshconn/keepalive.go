package sshconn

import (
	"log"
	"sync"
	"time"

	cryptossh "golang.org/x/crypto/ssh"
)

const (
	// KeepaliveInterval is how often live transports are probed.
	KeepaliveInterval = 30 * time.Second
	// KeepaliveMaxMissed closes the transport after this many consecutive
	// unanswered probes.
	KeepaliveMaxMissed = 3

	keepaliveReplyTimeout = 15 * time.Second
)

// StartKeepalive probes client every interval with an OpenSSH keepalive
// request and closes it after maxMissed consecutive missed replies. The
// returned stop function is idempotent and ends the probe loop without
// closing the client.
//
// OpenSSH answers keepalive requests with REQUEST_FAILURE (ok=false); that
// still proves liveness and must not count as a miss.
func StartKeepalive(client *cryptossh.Client, interval time.Duration, maxMissed int) (stop func()) {
	if interval <= 0 {
		interval = KeepaliveInterval
	}
	if maxMissed <= 0 {
		maxMissed = KeepaliveMaxMissed
	}

	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		missed := 0
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				replyCh := make(chan error, 1)
				go func() {
					_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
					replyCh <- err
				}()

				select {
				case <-done:
					return
				case err := <-replyCh:
					if err != nil {
						missed++
					} else {
						missed = 0
					}
				case <-time.After(keepaliveReplyTimeout):
					missed++
				}

				if missed >= maxMissed {
					log.Printf("[sshconn] keepalive: %d consecutive probes missed, closing transport", missed)
					_ = client.Close()
					return
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}
