package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/portside-io/portside/backend/internal/remotefs"
)

// newSFTPFixture returns a connected session backed by the local filesystem
// and a scratch directory for it to work in.
func newSFTPFixture(t *testing.T) (*Gateway, *Client, *fakeSocket, *localRunner, string) {
	t.Helper()
	link, _, runner := newTestLink()
	g := testGateway(t, link)
	c, sock := newTestClient()
	connectSession(t, g, c, sock)
	return g, c, sock, runner, t.TempDir()
}

func entryOf(t *testing.T, fr frame) remotefs.Entry {
	t.Helper()
	var e remotefs.Entry
	if err := json.Unmarshal(fr.Payload, &e); err != nil {
		t.Fatalf("payload of %s is not an entry: %s", fr.Type, fr.Payload)
	}
	return e
}

func TestWriteThenListThenRead(t *testing.T) {
	g, c, sock, _, dir := newSFTPFixture(t)
	target := filepath.Join(dir, "a")

	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:writefile","payload":{"path":%q,"content":"X"},"requestId":"r1"}`, target))
	wrote := waitFrame(t, sock, "sftp:writefile:success")
	if wrote.RequestID != "r1" {
		t.Fatalf("requestId = %q, want r1", wrote.RequestID)
	}
	entry := entryOf(t, wrote)
	if entry.Attrs.Size != 1 || !entry.Attrs.IsFile {
		t.Fatalf("entry = %+v, want 1-byte file", entry)
	}

	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:readdir","payload":{"path":%q},"requestId":"r2"}`, dir))
	listed := waitFrame(t, sock, "sftp:readdir:success")
	var entries []remotefs.Entry
	if err := json.Unmarshal(listed.Payload, &entries); err != nil {
		t.Fatalf("readdir payload: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Filename == "a" {
			found = true
		}
	}
	if !found {
		t.Fatalf("readdir of %s does not list the written file: %v", dir, entries)
	}

	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:readfile","payload":{"path":%q},"requestId":"r3"}`, target))
	read := waitFrame(t, sock, "sftp:readfile:success")
	if content := read.payloadMap(t)["content"]; content != "X" {
		t.Fatalf("content = %v, want X", content)
	}
}

func TestStatUsesLstatAndRealpathResolves(t *testing.T) {
	g, c, sock, _, dir := newSFTPFixture(t)
	target := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(target, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	linkPath := filepath.Join(dir, "alias")
	if err := os.Symlink(target, linkPath); err != nil {
		t.Fatal(err)
	}

	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:stat","payload":{"path":%q},"requestId":"r1"}`, target))
	st := entryOf(t, waitFrame(t, sock, "sftp:stat:success"))
	if st.Attrs.Size != 3 || !st.Attrs.IsFile {
		t.Fatalf("stat entry = %+v", st)
	}

	// Symlinks are reported as themselves, not followed.
	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:stat","payload":{"path":%q},"requestId":"r2"}`, linkPath))
	ln := entryOf(t, waitFrame(t, sock, "sftp:stat:success"))
	if !ln.Attrs.IsSymbolicLink {
		t.Fatalf("symlink entry = %+v", ln)
	}

	messy := dir + "/./data.txt"
	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:realpath","payload":{"path":%q},"requestId":"r3"}`, messy))
	rp := waitFrame(t, sock, "sftp:realpath:success")
	if got := rp.payloadMap(t)["path"]; got != target {
		t.Fatalf("realpath = %v, want %s", got, target)
	}
}

func TestMkdirChmodRename(t *testing.T) {
	g, c, sock, _, dir := newSFTPFixture(t)

	sub := filepath.Join(dir, "sub")
	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:mkdir","payload":{"path":%q},"requestId":"r1"}`, sub))
	made := entryOf(t, waitFrame(t, sock, "sftp:mkdir:success"))
	if !made.Attrs.IsDirectory {
		t.Fatalf("mkdir entry = %+v", made)
	}

	target := filepath.Join(dir, "f")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:chmod","payload":{"path":%q,"mode":384},"requestId":"r2"}`, target))
	mod := entryOf(t, waitFrame(t, sock, "sftp:chmod:success"))
	if mod.Attrs.Mode&0o777 != 0o600 {
		t.Fatalf("mode = %o, want 600", mod.Attrs.Mode&0o777)
	}

	renamed := filepath.Join(dir, "g")
	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:rename","payload":{"oldPath":%q,"newPath":%q},"requestId":"r3"}`, target, renamed))
	moved := entryOf(t, waitFrame(t, sock, "sftp:rename:success"))
	if moved.Filename != "g" {
		t.Fatalf("renamed entry = %+v", moved)
	}
	if _, err := os.Lstat(target); !os.IsNotExist(err) {
		t.Fatal("old path still exists")
	}
}

func TestUnlinkRepliesWithNullPayload(t *testing.T) {
	g, c, sock, _, dir := newSFTPFixture(t)
	target := filepath.Join(dir, "victim")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:unlink","payload":{"path":%q},"requestId":"r1"}`, target))
	fr := waitFrame(t, sock, "sftp:unlink:success")
	if string(fr.Payload) != "null" {
		t.Fatalf("payload = %s, want null", fr.Payload)
	}
	if _, err := os.Lstat(target); !os.IsNotExist(err) {
		t.Fatal("file still exists")
	}
}

func TestRmdirRemovesRecursively(t *testing.T) {
	g, c, sock, runner, dir := newSFTPFixture(t)
	tree := filepath.Join(dir, "tree")
	if err := os.MkdirAll(filepath.Join(tree, "deep", "deeper"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tree, "deep", "file"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:rmdir","payload":{"path":%q},"requestId":"r1"}`, tree))
	waitFrame(t, sock, "sftp:rmdir:success")

	if _, err := os.Lstat(tree); !os.IsNotExist(err) {
		t.Fatal("tree still exists")
	}
	sawRemove := false
	for _, cmd := range runner.commands() {
		if strings.HasPrefix(cmd, `rm -rf "`) {
			sawRemove = true
		}
	}
	if !sawRemove {
		t.Fatalf("no recursive remove went through the runner: %v", runner.commands())
	}
}

func TestMoveConflictLeavesSourceIntact(t *testing.T) {
	g, c, sock, _, dir := newSFTPFixture(t)
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	for _, d := range []string{src, dst} {
		if err := os.Mkdir(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(src, "x"), []byte("src"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dst, "x"), []byte("dst"), 0o644); err != nil {
		t.Fatal(err)
	}

	raw := fmt.Sprintf(`{"type":"sftp:move","payload":{"sources":[%q],"destination":%q},"requestId":"r3"}`,
		filepath.Join(src, "x"), dst)
	dispatch(g, c, raw)
	fr := waitFrame(t, sock, "sftp:move:error")
	if fr.RequestID != "r3" {
		t.Fatalf("requestId = %q, want r3", fr.RequestID)
	}
	if msg := fr.payloadString(t); !strings.Contains(msg, "already exists") {
		t.Fatalf("error = %q, want target-exists", msg)
	}
	if data, err := os.ReadFile(filepath.Join(src, "x")); err != nil || string(data) != "src" {
		t.Fatalf("source was touched: %q %v", data, err)
	}
}

func TestCopyOntoItselfIsNoop(t *testing.T) {
	g, c, sock, _, dir := newSFTPFixture(t)
	target := filepath.Join(dir, "a")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	raw := fmt.Sprintf(`{"type":"sftp:copy","payload":{"sources":[%q],"destination":%q},"requestId":"r1"}`, target, dir)
	dispatch(g, c, raw)
	fr := waitFrame(t, sock, "sftp:copy:success")
	var entries []remotefs.Entry
	if err := json.Unmarshal(fr.Payload, &entries); err != nil {
		t.Fatalf("copy payload: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("copied %d items, want 0", len(entries))
	}
	if data, _ := os.ReadFile(target); string(data) != "x" {
		t.Fatal("source changed")
	}
}

// Three bytes in two chunks: ready, one progress frame, then success with
// the refreshed entry.
func TestUploadInChunks(t *testing.T) {
	g, c, sock, _, dir := newSFTPFixture(t)
	target := filepath.Join(dir, "b")

	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:upload:start","payload":{"uploadId":"u1","remotePath":%q,"size":3},"requestId":"r1"}`, target))
	ready := waitFrame(t, sock, "sftp:upload:ready")
	if ready.UploadID != "u1" {
		t.Fatalf("ready uploadId = %q", ready.UploadID)
	}

	chunk := func(idx int, data string) string {
		return fmt.Sprintf(`{"type":"sftp:upload:chunk","payload":{"uploadId":"u1","chunkIndex":%d,"data":%q},"requestId":"r%d"}`,
			idx, base64.StdEncoding.EncodeToString([]byte(data)), idx+2)
	}

	dispatch(g, c, chunk(0, "AB"))
	progress := waitFrame(t, sock, "sftp:upload:progress")
	pp := progress.payloadMap(t)
	if pp["bytesWritten"] != float64(2) || pp["totalSize"] != float64(3) {
		t.Fatalf("progress = %v", pp)
	}

	dispatch(g, c, chunk(1, "C"))
	done := waitFrame(t, sock, "sftp:upload:success")
	if done.UploadID != "u1" || done.Path != target {
		t.Fatalf("success frame = %+v", done)
	}
	if entry := entryOf(t, done); entry.Attrs.Size != 3 {
		t.Fatalf("entry size = %d, want 3", entry.Attrs.Size)
	}
	if data, err := os.ReadFile(target); err != nil || string(data) != "ABC" {
		t.Fatalf("file = %q %v", data, err)
	}
}

// A zero-size upload acknowledges ready and completes immediately; no chunk
// frame is ever exchanged for it.
func TestUploadZeroSizeCompletesAtStart(t *testing.T) {
	g, c, sock, _, dir := newSFTPFixture(t)
	target := filepath.Join(dir, "empty")

	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:upload:start","payload":{"uploadId":"u0","remotePath":%q,"size":0},"requestId":"r1"}`, target))
	ready := nextFrame(t, sock)
	if ready.Type != "sftp:upload:ready" {
		t.Fatalf("frame 1 = %s, want ready", ready.Type)
	}
	done := nextFrame(t, sock)
	if done.Type != "sftp:upload:success" || done.UploadID != "u0" {
		t.Fatalf("frame 2 = %s %q, want immediate success", done.Type, done.UploadID)
	}
	if entry := entryOf(t, done); entry.Attrs.Size != 0 {
		t.Fatalf("entry size = %d, want 0", entry.Attrs.Size)
	}
	if fi, err := os.Stat(target); err != nil || fi.Size() != 0 {
		t.Fatalf("file = %v %v", fi, err)
	}
}

func TestUploadCancelDropsLaterChunks(t *testing.T) {
	g, c, sock, _, dir := newSFTPFixture(t)
	target := filepath.Join(dir, "partial")

	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:upload:start","payload":{"uploadId":"u2","remotePath":%q,"size":4},"requestId":"r1"}`, target))
	waitFrame(t, sock, "sftp:upload:ready")

	ab := base64.StdEncoding.EncodeToString([]byte("AB"))
	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:upload:chunk","payload":{"uploadId":"u2","chunkIndex":0,"data":%q},"requestId":"r2"}`, ab))
	waitFrame(t, sock, "sftp:upload:progress")

	dispatch(g, c, `{"type":"sftp:upload:cancel","payload":{"uploadId":"u2"},"requestId":"r3"}`)
	cancelled := waitFrame(t, sock, "sftp:upload:cancelled")
	if cancelled.UploadID != "u2" {
		t.Fatalf("cancelled uploadId = %q", cancelled.UploadID)
	}

	// Late chunks for the dead stream vanish without a reply.
	cd := base64.StdEncoding.EncodeToString([]byte("CD"))
	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:upload:chunk","payload":{"uploadId":"u2","chunkIndex":1,"data":%q},"requestId":"r4"}`, cd))
	time.Sleep(50 * time.Millisecond)
	select {
	case fr := <-sock.out:
		t.Fatalf("late chunk produced a %s frame", fr.Type)
	default:
	}

	// Cancel again: still acknowledged, cancellation is idempotent.
	dispatch(g, c, `{"type":"sftp:upload:cancel","payload":{"uploadId":"u2"},"requestId":"r5"}`)
	waitFrame(t, sock, "sftp:upload:cancelled")

	if data, err := os.ReadFile(target); err != nil || string(data) != "AB" {
		t.Fatalf("partial file = %q %v, want AB kept", data, err)
	}
}

func TestUploadOverflowErrors(t *testing.T) {
	g, c, sock, _, dir := newSFTPFixture(t)
	target := filepath.Join(dir, "over")

	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:upload:start","payload":{"uploadId":"u3","remotePath":%q,"size":2},"requestId":"r1"}`, target))
	waitFrame(t, sock, "sftp:upload:ready")

	abc := base64.StdEncoding.EncodeToString([]byte("ABC"))
	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:upload:chunk","payload":{"uploadId":"u3","chunkIndex":0,"data":%q},"requestId":"r2"}`, abc))
	fr := waitFrame(t, sock, "sftp:upload:error")
	if msg, _ := fr.payloadMap(t)["message"].(string); !strings.Contains(msg, "declared size") {
		t.Fatalf("error = %v", fr.payloadMap(t))
	}
}

func TestSFTPErrorEchoesRequestID(t *testing.T) {
	g, c, sock, _, dir := newSFTPFixture(t)

	missing := filepath.Join(dir, "nope")
	dispatch(g, c, fmt.Sprintf(`{"type":"sftp:readdir","payload":{"path":%q},"requestId":"r9"}`, missing))
	fr := waitFrame(t, sock, "sftp:readdir:error")
	if fr.RequestID != "r9" {
		t.Fatalf("requestId = %q, want r9", fr.RequestID)
	}
	if fr.payloadString(t) == "" {
		t.Fatal("error carries no message")
	}
}

// Sessions whose protocol has no file subchannel answer every file request
// with the same error instead of hanging.
func TestFileOpsUnavailableWithoutSFTP(t *testing.T) {
	link := &Link{Shell: newFakeShell(), Runner: &localRunner{}}
	g := testGateway(t, link)
	c, sock := newTestClient()
	connectSession(t, g, c, sock)

	dispatch(g, c, `{"type":"sftp:readdir","payload":{"path":"/"},"requestId":"r1"}`)
	fr := waitFrame(t, sock, "sftp:readdir:error")
	if msg := fr.payloadString(t); !strings.Contains(msg, "not available") {
		t.Fatalf("error = %q", msg)
	}
}
