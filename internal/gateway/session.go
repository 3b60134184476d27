package gateway

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/portside-io/portside/backend/internal/docker"
	"github.com/portside-io/portside/backend/internal/monitor"
	"github.com/portside-io/portside/backend/internal/remotefs"
	"github.com/portside-io/portside/backend/internal/terminal"
)

// sftpQueueDepth bounds outstanding file commands per session. A full queue
// blocks the read loop, which is the desired backpressure.
const sftpQueueDepth = 64

// Link bundles the per-session collaborators a connector produced: the
// interactive shell, the command runner the pollers and helpers execute
// through, the lazily opened file service, and the transport shutdown.
type Link struct {
	Shell  terminal.Shell
	Runner terminal.Runner

	// OpenFiles opens the SFTP subchannel. nil when the protocol has none
	// (local sessions).
	OpenFiles func() (*remotefs.Service, error)

	// CloseTransport ends the underlying transport and stops its keepalive.
	// nil when there is nothing beyond the shell to close.
	CloseTransport func() error
}

// Session owns one transport and every worker riding it: the shell reader,
// the status and docker pollers, the file-command serializer and the upload
// streams inside the file service.
type Session struct {
	ID             string
	ConnectionID   int
	ConnectionName string

	client *Client
	link   *Link

	ctx    context.Context
	cancel context.CancelFunc
	// wg tracks the pollers, the serializer and the SFTP init, all of which
	// exit promptly on cancel. The shell reader is deliberately not in here:
	// it only unblocks once the shell is closed, which happens after Wait.
	wg sync.WaitGroup

	shellReady atomic.Bool

	mu    sync.Mutex
	files *remotefs.Service
	// filesReady closes once initFiles has stored the service or given up.
	filesReady chan struct{}

	sftpQueue chan func()

	docker *docker.Inspector
	rates  *monitor.RateCache

	teardownOnce sync.Once
}

func newSession(id string, connectionID int, name string, c *Client, link *Link, rates *monitor.RateCache) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:             id,
		ConnectionID:   connectionID,
		ConnectionName: name,
		client:         c,
		link:           link,
		ctx:            ctx,
		cancel:         cancel,
		filesReady:     make(chan struct{}),
		sftpQueue:      make(chan func(), sftpQueueDepth),
		docker:         docker.NewInspector(link.Runner),
		rates:          rates,
	}
}

// startWorkers launches the session-owned goroutines: file serializer, SFTP
// init, and the two pollers.
func (s *Session) startWorkers(statusEvery, dockerEvery time.Duration) {
	s.wg.Add(4)
	go s.runSFTPSerializer()
	go s.initFiles()
	go s.runStatusPoller(statusEvery)
	go s.runDockerPoller(dockerEvery)
}

// enqueueSFTP hands op to the session's file-command serializer, blocking
// when the queue is full. Returns false once the session is tearing down.
func (s *Session) enqueueSFTP(op func()) bool {
	select {
	case <-s.ctx.Done():
		return false
	case s.sftpQueue <- op:
		return true
	}
}

func (s *Session) runSFTPSerializer() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case op := <-s.sftpQueue:
			op()
		}
	}
}

// initFiles opens the SFTP subchannel once the session is installed. File
// requests arriving before it finishes wait on filesReady.
func (s *Session) initFiles() {
	defer s.wg.Done()
	defer close(s.filesReady)
	if s.link.OpenFiles == nil {
		return
	}
	svc, err := s.link.OpenFiles()
	if err != nil {
		log.Printf("[gateway] session %s: sftp init failed: %v", s.ID, err)
		return
	}
	if s.ctx.Err() != nil {
		_ = svc.Close()
		return
	}
	s.mu.Lock()
	s.files = svc
	s.mu.Unlock()
}

// filesService returns the file service, waiting out a pending SFTP init.
// nil means init failed, the protocol has no files, or the session is gone.
func (s *Session) filesService() *remotefs.Service {
	select {
	case <-s.filesReady:
	case <-s.ctx.Done():
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files
}

func (s *Session) runStatusPoller(every time.Duration) {
	defer s.wg.Done()
	sampler := monitor.NewSampler(s.ID, s.link.Runner, s.rates)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		status, err := sampler.Sample(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			log.Printf("[monitor] session %s: sample failed: %v", s.ID, err)
			s.client.Emit("status_error", map[string]any{"message": err.Error()})
			continue
		}
		s.client.Emit("status_update", map[string]any{
			"connectionId": s.ConnectionID,
			"status":       status,
		})
	}
}

func (s *Session) runDockerPoller(every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		s.emitDockerStatus(s.ctx)
	}
}

// emitDockerStatus runs one inspection and reports it. Shared between the
// poller and the on-demand docker:get_status handler.
func (s *Session) emitDockerStatus(ctx context.Context) {
	report, err := s.docker.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("[docker] session %s: snapshot failed: %v", s.ID, err)
		s.client.Emit("docker:status:error", map[string]any{"message": err.Error()})
		return
	}
	s.client.Emit("docker:status:update", report)
}

// teardown releases everything the session owns: timers and workers first so
// nothing fires afterwards, then the shell, the file service, the transport,
// and finally the upload streams and the rate cache slot. Safe to call any
// number of times, from any goroutine.
func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		s.shellReady.Store(false)
		s.cancel()
		s.wg.Wait()

		if s.link.Shell != nil {
			_ = s.link.Shell.Close()
		}

		s.mu.Lock()
		files := s.files
		s.files = nil
		s.mu.Unlock()
		if files != nil {
			_ = files.Close()
		}

		if s.link.CloseTransport != nil {
			_ = s.link.CloseTransport()
		}

		if files != nil {
			files.AbortUploads()
		}
		s.rates.Forget(s.ID)
		s.client.clearSession(s)
		log.Printf("[gateway] session %s closed (connection %d)", s.ID, s.ConnectionID)
	})
}
