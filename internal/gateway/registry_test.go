package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/portside-io/portside/backend/internal/remotefs"
)

// orderRecorder collects teardown steps in the order they ran.
type orderRecorder struct {
	mu    sync.Mutex
	order []string
}

func (o *orderRecorder) note(step string) {
	o.mu.Lock()
	o.order = append(o.order, step)
	o.mu.Unlock()
}

func (o *orderRecorder) steps() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.order...)
}

func TestRemoveTearsDownInOrder(t *testing.T) {
	rec := &orderRecorder{}
	shell := newFakeShell()
	shell.onClose = func() { rec.note("shell") }
	runner := &localRunner{}
	link := &Link{
		Shell:  shell,
		Runner: runner,
		OpenFiles: func() (*remotefs.Service, error) {
			return remotefs.New(&osFS{onClose: func() { rec.note("files") }}, runner), nil
		},
		CloseTransport: func() error {
			rec.note("transport")
			return nil
		},
	}
	g := testGateway(t, link)
	c, sock := newTestClient()
	s := connectSession(t, g, c, sock)
	if s.filesService() == nil {
		t.Fatal("file service never came up")
	}

	g.Registry.Remove(s.ID)

	want := []string{"shell", "files", "transport"}
	if got := rec.steps(); !reflect.DeepEqual(got, want) {
		t.Fatalf("teardown order = %v, want %v", got, want)
	}
	if c.Session() != nil {
		t.Fatal("session still bound to client after teardown")
	}
	if g.Registry.Len() != 0 {
		t.Fatalf("registry holds %d sessions, want 0", g.Registry.Len())
	}

	// Removing again must not re-run any step.
	g.Registry.Remove(s.ID)
	if got := rec.steps(); len(got) != len(want) {
		t.Fatalf("second remove re-ran teardown: %v", got)
	}
}

func TestTeardownStopsPollers(t *testing.T) {
	link, _, _ := newTestLink()
	g := testGateway(t, link)
	g.Intervals = func() Intervals { return Intervals{Status: 20 * time.Millisecond, Docker: time.Hour} }
	c, sock := newTestClient()
	s := connectSession(t, g, c, sock)

	waitFrame(t, sock, "status_update")
	waitFrame(t, sock, "status_update")

	g.Registry.Remove(s.ID)

	// The poller goroutine has exited by the time Remove returns, so after
	// draining what it already sent the channel stays quiet.
	for drained := false; !drained; {
		select {
		case <-sock.out:
		default:
			drained = true
		}
	}
	time.Sleep(80 * time.Millisecond)
	select {
	case fr := <-sock.out:
		t.Fatalf("%s frame after teardown", fr.Type)
	default:
	}
}

func TestTeardownCancelsActiveUploads(t *testing.T) {
	dir := t.TempDir()
	var (
		mu  sync.Mutex
		svc *remotefs.Service
	)
	shell := newFakeShell()
	runner := &localRunner{}
	link := &Link{
		Shell:  shell,
		Runner: runner,
		OpenFiles: func() (*remotefs.Service, error) {
			mu.Lock()
			defer mu.Unlock()
			svc = remotefs.New(&osFS{}, runner)
			return svc, nil
		},
	}
	g := testGateway(t, link)
	c, sock := newTestClient()
	s := connectSession(t, g, c, sock)

	target := filepath.Join(dir, "big.bin")
	start := fmt.Sprintf(`{"type":"sftp:upload:start","payload":{"uploadId":"u1","remotePath":%q,"size":8},"requestId":"r1"}`, target)
	dispatch(g, c, start)
	waitFrame(t, sock, "sftp:upload:ready")

	chunk := fmt.Sprintf(`{"type":"sftp:upload:chunk","payload":{"uploadId":"u1","chunkIndex":0,"data":%q},"requestId":"r2"}`,
		base64.StdEncoding.EncodeToString([]byte("ABCD")))
	dispatch(g, c, chunk)
	waitFrame(t, sock, "sftp:upload:progress")

	mu.Lock()
	service := svc
	mu.Unlock()
	if n := service.ActiveUploads(); n != 1 {
		t.Fatalf("active uploads = %d, want 1", n)
	}

	g.Registry.Remove(s.ID)

	if n := service.ActiveUploads(); n != 0 {
		t.Fatalf("active uploads after teardown = %d, want 0", n)
	}
	// The partial file stays; cancellation never deletes data.
	fi, err := os.Stat(target)
	if err != nil {
		t.Fatalf("partial file gone: %v", err)
	}
	if fi.Size() != 4 {
		t.Fatalf("partial size = %d, want 4", fi.Size())
	}
}

func TestRemoveClientOnlyTearsDownItsSessions(t *testing.T) {
	var (
		mu     sync.Mutex
		shells []*fakeShell
	)
	g := testGatewayWith(t, func(context.Context, *Profile, time.Duration) (*Link, error) {
		link, shell, _ := newTestLink()
		mu.Lock()
		shells = append(shells, shell)
		mu.Unlock()
		return link, nil
	})

	c1, sock1 := newTestClient()
	c2, sock2 := newTestClient()
	s1 := connectSession(t, g, c1, sock1)
	s2 := connectSession(t, g, c2, sock2)

	g.Registry.RemoveClient(c1)

	if _, ok := g.Registry.Get(s1.ID); ok {
		t.Fatal("first client's session survived RemoveClient")
	}
	if _, ok := g.Registry.Get(s2.ID); !ok {
		t.Fatal("second client's session was torn down too")
	}
	mu.Lock()
	defer mu.Unlock()
	if !shells[0].closed.Load() {
		t.Fatal("first shell still open")
	}
	if shells[1].closed.Load() {
		t.Fatal("second shell closed")
	}
}

func TestRegistryGetAfterRemove(t *testing.T) {
	link, _, _ := newTestLink()
	g := testGateway(t, link)
	c, sock := newTestClient()
	s := connectSession(t, g, c, sock)

	if got, ok := g.Registry.Get(s.ID); !ok || got != s {
		t.Fatal("Get did not return the inserted session")
	}
	g.Registry.Remove(s.ID)
	if _, ok := g.Registry.Get(s.ID); ok {
		t.Fatal("Get found a removed session")
	}
}
